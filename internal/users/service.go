package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-vms/gatehouse/internal/roles"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	List(ctx context.Context, filters ListFilters) ([]User, int, error)
	Get(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, user User) (User, error)
	SetRole(ctx context.Context, id, roleID int64) error
	SetLocked(ctx context.Context, id int64, locked bool) error
}

// RoleDirectory looks up roles for assignment checks. Satisfied by the roles
// service.
type RoleDirectory interface {
	Get(ctx context.Context, id int64) (roles.Role, error)
}

// Invalidator drops a single user's cached permission resolution. Satisfied
// by the authz cache.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
}

// Service handles user directory business logic.
type Service struct {
	repo        RepositoryPort
	roles       RoleDirectory
	invalidator Invalidator
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService builds a Service. invalidator may be nil in tests.
func NewService(repo RepositoryPort, roleDir RoleDirectory, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roleDir, invalidator: invalidator, validate: validator.New(), logger: logger}
}

// List returns a page of users.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]User, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit < 1 || filters.Limit > 100 {
		filters.Limit = 20
	}
	return s.repo.List(ctx, filters)
}

// Get returns a single user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// Create registers a new account with a bcrypt password hash. The target
// role must exist and be active.
func (s *Service) Create(ctx context.Context, input CreateInput) (User, error) {
	if err := s.validate.Struct(input); err != nil {
		return User{}, fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	}
	if err := s.checkRole(ctx, input.RoleID); err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	return s.repo.Create(ctx, User{
		Email:        input.Email,
		Name:         input.Name,
		RoleID:       input.RoleID,
		PasswordHash: string(hash),
	})
}

// AssignRole moves a user to a different role and drops their cached
// resolution so the next authorization check sees the new role.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if user.RoleID == roleID {
		return nil
	}
	if err := s.checkRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.repo.SetRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// Lock suspends a user. Their next authorization check resolves to an empty
// permission set.
func (s *Service) Lock(ctx context.Context, userID int64) error {
	return s.setLocked(ctx, userID, true)
}

// Unlock lifts a suspension.
func (s *Service) Unlock(ctx context.Context, userID int64) error {
	return s.setLocked(ctx, userID, false)
}

func (s *Service) setLocked(ctx context.Context, userID int64, locked bool) error {
	if err := s.repo.SetLocked(ctx, userID, locked); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) checkRole(ctx context.Context, roleID int64) error {
	role, err := s.roles.Get(ctx, roleID)
	if err != nil {
		return fmt.Errorf("%w: role %d not found", httpx.ErrValidation, roleID)
	}
	if !role.Active {
		return fmt.Errorf("%w: role %q is inactive", httpx.ErrValidation, role.Name)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateUser(context.WithoutCancel(ctx), userID); err != nil {
		s.logger.Warn("user cache invalidation failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

package roles

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-vms/gatehouse/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	List(ctx context.Context) ([]Role, error)
	Get(ctx context.Context, id int64) (Role, error)
	Create(ctx context.Context, input RoleInput) (Role, error)
	Update(ctx context.Context, id int64, input RoleInput) (Role, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	CountUsers(ctx context.Context, id int64) (int, error)
}

// Invalidator drops cached permission resolutions after a role mutation.
// Satisfied by the authz cache.
type Invalidator interface {
	InvalidateRole(ctx context.Context, roleID int64) error
	InvalidateAllUsersWithRole(ctx context.Context, roleID int64) (int, error)
}

// Service handles role business logic. Mutations that change what a role
// confers, its level, its active flag, or its existence, invalidate the
// permission cache for every holder of the role.
type Service struct {
	repo        RepositoryPort
	invalidator Invalidator
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService builds a Service. invalidator may be nil in tests.
func NewService(repo RepositoryPort, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, validate: validator.New(), logger: logger}
}

// List returns all roles.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.List(ctx)
}

// Get returns a single role.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.Get(ctx, id)
}

// Create adds a new role. Roles created at runtime are never system roles.
func (s *Service) Create(ctx context.Context, input RoleInput) (Role, error) {
	if err := s.validate.Struct(input); err != nil {
		return Role{}, fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	}
	return s.repo.Create(ctx, input)
}

// Update rewrites a role. System roles accept description changes only;
// renaming them or moving them in the hierarchy is rejected.
func (s *Service) Update(ctx context.Context, id int64, input RoleInput) (Role, error) {
	if err := s.validate.Struct(input); err != nil {
		return Role{}, fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if current.System && (input.Name != current.Name || input.Level != current.Level) {
		return Role{}, shared.ErrReadOnly
	}

	updated, err := s.repo.Update(ctx, id, input)
	if err != nil {
		return Role{}, err
	}
	if updated.Level != current.Level {
		// Cached resolutions carry the role level; a hierarchy move makes
		// them stale.
		s.invalidateHolders(ctx, id)
	}
	return updated, nil
}

// SetActive enables or disables a role. Disabling suspends every holder, so
// their cache entries are dropped immediately. System roles cannot be
// disabled.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.System && !active {
		return shared.ErrReadOnly
	}
	if current.Active == active {
		return nil
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.invalidateHolders(ctx, id)
	return nil
}

// Delete removes a role. Deleting a system role is rejected, never silently
// converted into something weaker. Non-system roles must have no remaining
// holders.
func (s *Service) Delete(ctx context.Context, id int64) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.System {
		return shared.ErrReadOnly
	}

	count, err := s.repo.CountUsers(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: role is assigned to %d users", httpx.ErrValidation, count)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateHolders(ctx, id)
	return nil
}

func (s *Service) invalidateHolders(ctx context.Context, roleID int64) {
	if s.invalidator == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.invalidator.InvalidateRole(ctx, roleID); err != nil {
		s.logger.Warn("role cache invalidation failed", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
	if _, err := s.invalidator.InvalidateAllUsersWithRole(ctx, roleID); err != nil {
		s.logger.Warn("role holder invalidation failed", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

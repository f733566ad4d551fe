package visitors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gatehouse-vms/gatehouse/internal/authz"
	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
)

// RepositoryPort defines data access methods for visitors. Create records
// the host's access grant together with the visitor row.
type RepositoryPort interface {
	List(ctx context.Context, filters ListFilters, ownerID int64) ([]Visitor, int, error)
	Get(ctx context.Context, id int64) (Visitor, error)
	Create(ctx context.Context, input VisitorInput) (Visitor, error)
	Update(ctx context.Context, id int64, input VisitorInput) (Visitor, error)
	Delete(ctx context.Context, id int64) error
	CheckIn(ctx context.Context, id int64, badge string) (Visitor, error)
	CheckOut(ctx context.Context, id int64) (Visitor, error)
	AddNote(ctx context.Context, visitorID, authorID int64, body string) (Note, error)
	ListNotes(ctx context.Context, visitorID int64) ([]Note, error)
	GrantAccess(ctx context.Context, userID, visitorID int64) error
	RevokeAccess(ctx context.Context, userID, visitorID int64) error
}

// Notifier queues visit lifecycle notifications. Satisfied by the
// notifications service; may be nil.
type Notifier interface {
	VisitScheduled(ctx context.Context, visitor Visitor) error
	VisitorArrived(ctx context.Context, visitor Visitor) error
}

// Service handles visitor business logic. Listing scope is decided from the
// actor's resolved permission set: the All variant sees everything, the Own
// variant only rows backed by an access grant.
type Service struct {
	repo     RepositoryPort
	perms    authz.PermissionSource
	notifier Notifier
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds a Service. notifier may be nil.
func NewService(repo RepositoryPort, perms authz.PermissionSource, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, perms: perms, notifier: notifier, validate: validator.New(), logger: logger}
}

// List returns the visitors the actor may see. Holders of Visitor.ReadAll
// get the unrestricted listing; everyone else is scoped to their access
// grants and may legitimately see an empty page.
func (s *Service) List(ctx context.Context, actor authz.Actor, filters ListFilters) ([]Visitor, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit < 1 || filters.Limit > 100 {
		filters.Limit = 20
	}

	res, err := s.perms.GetUserPermissions(ctx, actor.UserID)
	if err != nil {
		return nil, 0, fmt.Errorf("visitors: resolve listing scope: %w", err)
	}
	ownerID := actor.UserID
	if res.Set().Has("Visitor.ReadAll") {
		ownerID = 0
	}
	return s.repo.List(ctx, filters, ownerID)
}

// Get returns a single visitor. Ownership is enforced by the route policy.
func (s *Service) Get(ctx context.Context, id int64) (Visitor, error) {
	return s.repo.Get(ctx, id)
}

// Create registers an expected visitor. The repository grants the host user
// access as part of the insert.
func (s *Service) Create(ctx context.Context, input VisitorInput) (Visitor, error) {
	if err := s.validate.Struct(input); err != nil {
		return Visitor{}, fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	}
	visitor, err := s.repo.Create(ctx, input)
	if err != nil {
		return Visitor{}, err
	}
	s.notify(ctx, "visit scheduled", func(n Notifier) error { return n.VisitScheduled(ctx, visitor) })
	return visitor, nil
}

// Update rewrites a visitor. Reassigning the host moves the ownership grant
// with it.
func (s *Service) Update(ctx context.Context, id int64, input VisitorInput) (Visitor, error) {
	if err := s.validate.Struct(input); err != nil {
		return Visitor{}, fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Visitor{}, err
	}
	visitor, err := s.repo.Update(ctx, id, input)
	if err != nil {
		return Visitor{}, err
	}
	if current.HostUserID != visitor.HostUserID {
		if err := s.repo.RevokeAccess(ctx, current.HostUserID, id); err != nil {
			return Visitor{}, err
		}
		if err := s.repo.GrantAccess(ctx, visitor.HostUserID, id); err != nil {
			return Visitor{}, err
		}
	}
	return visitor, nil
}

// Delete removes a visitor record.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// CheckIn processes an arrival. Only expected visitors check in; anything
// else is a state error the front desk sees as a validation failure. When no
// physical badge number is supplied a code is issued.
func (s *Service) CheckIn(ctx context.Context, id int64, badge string) (Visitor, error) {
	badge = strings.TrimSpace(badge)
	if badge == "" {
		badge = uuid.NewString()
	}
	visitor, err := s.repo.CheckIn(ctx, id, badge)
	if err != nil {
		return Visitor{}, err
	}
	s.notify(ctx, "visitor arrived", func(n Notifier) error { return n.VisitorArrived(ctx, visitor) })
	return visitor, nil
}

// CheckOut processes a departure.
func (s *Service) CheckOut(ctx context.Context, id int64) (Visitor, error) {
	return s.repo.CheckOut(ctx, id)
}

// AddNote appends a note.
func (s *Service) AddNote(ctx context.Context, visitorID, authorID int64, body string) (Note, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Note{}, fmt.Errorf("%w: note body is required", httpx.ErrValidation)
	}
	if len(body) > 2000 {
		return Note{}, fmt.Errorf("%w: note body exceeds 2000 characters", httpx.ErrValidation)
	}
	return s.repo.AddNote(ctx, visitorID, authorID, body)
}

// ListNotes returns a visitor's notes.
func (s *Service) ListNotes(ctx context.Context, visitorID int64) ([]Note, error) {
	return s.repo.ListNotes(ctx, visitorID)
}

// AssignAccess grants an additional staff member access to the visitor.
func (s *Service) AssignAccess(ctx context.Context, userID, visitorID int64) error {
	if _, err := s.repo.Get(ctx, visitorID); err != nil {
		return err
	}
	return s.repo.GrantAccess(ctx, userID, visitorID)
}

// RemoveAccess revokes a staff member's access to the visitor. The host's
// grant stays; reassign the host instead.
func (s *Service) RemoveAccess(ctx context.Context, userID, visitorID int64) error {
	visitor, err := s.repo.Get(ctx, visitorID)
	if err != nil {
		return err
	}
	if visitor.HostUserID == userID {
		return fmt.Errorf("%w: cannot revoke the host's access", httpx.ErrValidation)
	}
	return s.repo.RevokeAccess(ctx, userID, visitorID)
}

// notify runs a notification enqueue without failing the visit operation.
func (s *Service) notify(ctx context.Context, kind string, fn func(Notifier) error) {
	if s.notifier == nil {
		return
	}
	if err := fn(s.notifier); err != nil {
		s.logger.Warn("queue notification failed", slog.String("kind", kind), slog.Any("error", err))
	}
}

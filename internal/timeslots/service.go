package timeslots

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-vms/gatehouse/internal/authz"
	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
)

// RepositoryPort defines data access methods for time slots.
type RepositoryPort interface {
	List(ctx context.Context) ([]TimeSlot, error)
	Get(ctx context.Context, id int64) (TimeSlot, error)
	Create(ctx context.Context, input TimeSlotInput) (TimeSlot, error)
	Update(ctx context.Context, id int64, input TimeSlotInput) (TimeSlot, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	CountScheduled(ctx context.Context, day string, start, end string) (int, error)
}

// Service handles time-slot business logic.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
}

// NewService builds a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

// List returns all slots.
func (s *Service) List(ctx context.Context) ([]TimeSlot, error) {
	return s.repo.List(ctx)
}

// Get returns one slot.
func (s *Service) Get(ctx context.Context, id int64) (TimeSlot, error) {
	return s.repo.Get(ctx, id)
}

// Create adds a slot after checking the window parses. Overnight windows,
// where the end is before the start, are valid.
func (s *Service) Create(ctx context.Context, input TimeSlotInput) (TimeSlot, error) {
	if err := s.check(input); err != nil {
		return TimeSlot{}, err
	}
	return s.repo.Create(ctx, input)
}

// Update rewrites a slot.
func (s *Service) Update(ctx context.Context, id int64, input TimeSlotInput) (TimeSlot, error) {
	if err := s.check(input); err != nil {
		return TimeSlot{}, err
	}
	return s.repo.Update(ctx, id, input)
}

// SetActive toggles a slot.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}

// Delete removes a slot.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// HasCapacity reports whether the slot can take another visitor on the given
// day. A zero capacity means unlimited.
func (s *Service) HasCapacity(ctx context.Context, slotID int64, day time.Time) (bool, error) {
	slot, err := s.repo.Get(ctx, slotID)
	if err != nil {
		return false, err
	}
	if !slot.Active {
		return false, nil
	}
	if slot.Capacity == 0 {
		return true, nil
	}
	count, err := s.repo.CountScheduled(ctx, day.Format("2006-01-02"), slot.StartTime, slot.EndTime)
	if err != nil {
		return false, err
	}
	return count < slot.Capacity, nil
}

// check validates the input, including that both clock strings parse. The
// window constructor rejects equal start and end.
func (s *Service) check(input TimeSlotInput) error {
	if err := s.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	}
	if _, err := authz.NewTimeWindow(input.StartTime, input.EndTime); err != nil {
		return fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	}
	return nil
}

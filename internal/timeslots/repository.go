package timeslots

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const slotColumns = `id, name, start_time, end_time, weekdays, capacity, is_active, created_at, updated_at`

// List returns all slots, active first.
func (r *Repository) List(ctx context.Context) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+slotColumns+` FROM time_slots ORDER BY is_active DESC, start_time`)
	if err != nil {
		return nil, fmt.Errorf("timeslots: list: %w", err)
	}
	defer rows.Close()
	var slots []TimeSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

// Get fetches one slot.
func (r *Repository) Get(ctx context.Context, id int64) (TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1`, id)
	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TimeSlot{}, httpx.ErrNotFound
		}
		return TimeSlot{}, fmt.Errorf("timeslots: get: %w", err)
	}
	return slot, nil
}

// Create inserts a slot.
func (r *Repository) Create(ctx context.Context, input TimeSlotInput) (TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO time_slots (name, start_time, end_time, weekdays, capacity, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
		RETURNING `+slotColumns,
		input.Name, input.StartTime, input.EndTime, input.Weekdays, input.Capacity)
	slot, err := scanSlot(row)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("timeslots: create: %w", err)
	}
	return slot, nil
}

// Update rewrites a slot.
func (r *Repository) Update(ctx context.Context, id int64, input TimeSlotInput) (TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE time_slots SET name = $2, start_time = $3, end_time = $4, weekdays = $5, capacity = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING `+slotColumns,
		id, input.Name, input.StartTime, input.EndTime, input.Weekdays, input.Capacity)
	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TimeSlot{}, httpx.ErrNotFound
		}
		return TimeSlot{}, fmt.Errorf("timeslots: update: %w", err)
	}
	return slot, nil
}

// SetActive toggles a slot.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE time_slots SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("timeslots: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// Delete removes a slot.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM time_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("timeslots: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// CountScheduled counts visitors scheduled inside a window on a given day,
// backing the capacity check.
func (r *Repository) CountScheduled(ctx context.Context, day string, start, end string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM visitors
		WHERE scheduled_at::date = $1::date
		AND scheduled_at::time >= $2::time
		AND scheduled_at::time < $3::time
		AND status IN ('expected', 'checked_in')`,
		day, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("timeslots: count scheduled: %w", err)
	}
	return count, nil
}

func scanSlot(row pgx.Row) (TimeSlot, error) {
	var slot TimeSlot
	err := row.Scan(&slot.ID, &slot.Name, &slot.StartTime, &slot.EndTime, &slot.Weekdays, &slot.Capacity, &slot.Active, &slot.CreatedAt, &slot.UpdatedAt)
	return slot, err
}

package visitors

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-vms/gatehouse/internal/platform/db"
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

const visitorColumns = `v.id, v.first_name, v.last_name, v.email, v.phone, v.company, v.host_user_id, v.status,
	v.scheduled_at, v.badge_number, v.checked_in_at, v.checked_out_at, v.created_at, v.updated_at`

// List returns a page of visitors plus the total for the filter. A non-zero
// ownerID restricts the listing to visitors the user has an access grant
// for; an empty page for such users is a normal outcome, not a denial.
func (r *Repository) List(ctx context.Context, filters ListFilters, ownerID int64) ([]Visitor, int, error) {
	base := `FROM visitors v
		WHERE ($1 = '' OR v.status = $1)
		AND ($2 = '' OR v.first_name ILIKE '%' || $2 || '%' OR v.last_name ILIKE '%' || $2 || '%' OR v.company ILIKE '%' || $2 || '%')
		AND ($3::bigint = 0 OR EXISTS (SELECT 1 FROM visitor_access va WHERE va.visitor_id = v.id AND va.user_id = $3))`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) `+base, filters.Status, filters.Search, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("visitors: count: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+visitorColumns+` `+base+` ORDER BY v.scheduled_at DESC LIMIT $4 OFFSET $5`,
		filters.Status, filters.Search, ownerID, filters.Limit, (filters.Page-1)*filters.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("visitors: list: %w", err)
	}
	defer rows.Close()

	var visitors []Visitor
	for rows.Next() {
		visitor, err := scanVisitor(rows)
		if err != nil {
			return nil, 0, err
		}
		visitors = append(visitors, visitor)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return visitors, total, nil
}

// Get fetches one visitor.
func (r *Repository) Get(ctx context.Context, id int64) (Visitor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+visitorColumns+` FROM visitors v WHERE v.id = $1`, id)
	visitor, err := scanVisitor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Visitor{}, httpx.ErrNotFound
		}
		return Visitor{}, fmt.Errorf("visitors: get: %w", err)
	}
	return visitor, nil
}

// Create inserts a visitor in the expected state. The host's access grant
// lands in the same transaction so a visitor row never exists without one.
func (r *Repository) Create(ctx context.Context, input VisitorInput) (Visitor, error) {
	var visitor Visitor
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO visitors (first_name, last_name, email, phone, company, host_user_id, status, scheduled_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
			RETURNING `+visitorColumns,
			input.FirstName, input.LastName, input.Email, input.Phone, input.Company, input.HostUserID, StatusExpected, input.ScheduledAt)
		var err error
		if visitor, err = scanVisitor(row); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO visitor_access (user_id, visitor_id, created_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id, visitor_id) DO NOTHING`,
			visitor.HostUserID, visitor.ID)
		return err
	})
	if err != nil {
		return Visitor{}, fmt.Errorf("visitors: create: %w", err)
	}
	return visitor, nil
}

// Update rewrites the mutable fields.
func (r *Repository) Update(ctx context.Context, id int64, input VisitorInput) (Visitor, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE visitors v SET first_name = $2, last_name = $3, email = $4, phone = $5, company = $6, host_user_id = $7, scheduled_at = $8, updated_at = NOW()
		WHERE v.id = $1
		RETURNING `+visitorColumns,
		id, input.FirstName, input.LastName, input.Email, input.Phone, input.Company, input.HostUserID, input.ScheduledAt)
	visitor, err := scanVisitor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Visitor{}, httpx.ErrNotFound
		}
		return Visitor{}, fmt.Errorf("visitors: update: %w", err)
	}
	return visitor, nil
}

// Delete removes a visitor and, via cascade, its notes and access grants.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM visitors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("visitors: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// CheckIn transitions an expected visitor to checked in, guarded in SQL so a
// concurrent double check-in affects zero rows.
func (r *Repository) CheckIn(ctx context.Context, id int64, badge string) (Visitor, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE visitors v SET status = $3, badge_number = $2, checked_in_at = NOW(), updated_at = NOW()
		WHERE v.id = $1 AND v.status = $4
		RETURNING `+visitorColumns,
		id, badge, StatusCheckedIn, StatusExpected)
	visitor, err := scanVisitor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Visitor{}, fmt.Errorf("%w: visitor is not awaiting check-in", httpx.ErrValidation)
		}
		return Visitor{}, fmt.Errorf("visitors: check in: %w", err)
	}
	return visitor, nil
}

// CheckOut transitions a checked-in visitor to checked out.
func (r *Repository) CheckOut(ctx context.Context, id int64) (Visitor, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE visitors v SET status = $2, checked_out_at = NOW(), updated_at = NOW()
		WHERE v.id = $1 AND v.status = $3
		RETURNING `+visitorColumns,
		id, StatusCheckedOut, StatusCheckedIn)
	visitor, err := scanVisitor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Visitor{}, fmt.Errorf("%w: visitor is not checked in", httpx.ErrValidation)
		}
		return Visitor{}, fmt.Errorf("visitors: check out: %w", err)
	}
	return visitor, nil
}

// AddNote appends a note to a visitor record.
func (r *Repository) AddNote(ctx context.Context, visitorID, authorID int64, body string) (Note, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO visitor_notes (visitor_id, author_id, body, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, visitor_id, author_id, body, created_at`,
		visitorID, authorID, body)
	var note Note
	if err := row.Scan(&note.ID, &note.VisitorID, &note.AuthorID, &note.Body, &note.CreatedAt); err != nil {
		return Note{}, fmt.Errorf("visitors: add note: %w", err)
	}
	return note, nil
}

// ListNotes returns a visitor's notes, newest first.
func (r *Repository) ListNotes(ctx context.Context, visitorID int64) ([]Note, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, visitor_id, author_id, body, created_at FROM visitor_notes WHERE visitor_id = $1 ORDER BY created_at DESC`, visitorID)
	if err != nil {
		return nil, fmt.Errorf("visitors: list notes: %w", err)
	}
	defer rows.Close()
	var notes []Note
	for rows.Next() {
		var note Note
		if err := rows.Scan(&note.ID, &note.VisitorID, &note.AuthorID, &note.Body, &note.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notes, nil
}

// GrantAccess creates an ownership grant linking a user to a visitor.
// Already-present grants are skipped.
func (r *Repository) GrantAccess(ctx context.Context, userID, visitorID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO visitor_access (user_id, visitor_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, visitor_id) DO NOTHING`,
		userID, visitorID)
	if err != nil {
		return fmt.Errorf("visitors: grant access: %w", err)
	}
	return nil
}

// RevokeAccess removes an ownership grant.
func (r *Repository) RevokeAccess(ctx context.Context, userID, visitorID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM visitor_access WHERE user_id = $1 AND visitor_id = $2`, userID, visitorID); err != nil {
		return fmt.Errorf("visitors: revoke access: %w", err)
	}
	return nil
}

func scanVisitor(row pgx.Row) (Visitor, error) {
	var v Visitor
	err := row.Scan(&v.ID, &v.FirstName, &v.LastName, &v.Email, &v.Phone, &v.Company, &v.HostUserID, &v.Status,
		&v.ScheduledAt, &v.BadgeNumber, &v.CheckedInAt, &v.CheckedOutAt, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

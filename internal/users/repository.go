package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, name, role_id, is_active, is_locked, password_hash, created_at, updated_at`

// List returns a page of users plus the unfiltered total.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]User, int, error) {
	where := `WHERE ($1 = 0 OR role_id = $1) AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users `+where, filters.RoleID, filters.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}

	offset := (filters.Page - 1) * filters.Limit
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users `+where+` ORDER BY name LIMIT $3 OFFSET $4`,
		filters.RoleID, filters.Search, filters.Limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Get fetches a user by ID.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, httpx.ErrNotFound
		}
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	return user, nil
}

// GetByEmail fetches a user for login.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, httpx.ErrNotFound
		}
		return User{}, fmt.Errorf("users: get by email: %w", err)
	}
	return user, nil
}

// Create inserts a new account.
func (r *Repository) Create(ctx context.Context, user User) (User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, role_id, is_active, is_locked, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, FALSE, $4, NOW(), NOW())
		RETURNING `+userColumns,
		user.Email, user.Name, user.RoleID, user.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, httpx.ErrDuplicate
		}
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	return created, nil
}

// SetRole reassigns the user's role.
func (r *Repository) SetRole(ctx context.Context, id, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1`, id, roleID)
	if err != nil {
		return fmt.Errorf("users: set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// SetLocked toggles the lock flag.
func (r *Repository) SetLocked(ctx context.Context, id int64, locked bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_locked = $2, updated_at = NOW() WHERE id = $1`, id, locked)
	if err != nil {
		return fmt.Errorf("users: set locked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.RoleID, &u.Active, &u.Locked, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

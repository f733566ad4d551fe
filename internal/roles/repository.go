package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
)

const (
	uniqueViolation = "23505"
	fkViolation     = "23503"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, level, description, is_system, is_active, created_at, updated_at`

// List returns all roles ordered by hierarchy level, then name.
func (r *Repository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY level DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// Get fetches a single role.
func (r *Repository) Get(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, httpx.ErrNotFound
		}
		return Role{}, fmt.Errorf("roles: get: %w", err)
	}
	return role, nil
}

// Create inserts a role. Names are unique.
func (r *Repository) Create(ctx context.Context, input RoleInput) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, level, description, is_system, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, TRUE, NOW(), NOW())
		RETURNING `+roleColumns,
		input.Name, input.Level, input.Description)
	role, err := scanRole(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Role{}, httpx.ErrDuplicate
		}
		return Role{}, fmt.Errorf("roles: create: %w", err)
	}
	return role, nil
}

// Update rewrites the mutable fields of a role.
func (r *Repository) Update(ctx context.Context, id int64, input RoleInput) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, level = $3, description = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns,
		id, input.Name, input.Level, input.Description)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, httpx.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Role{}, httpx.ErrDuplicate
		}
		return Role{}, fmt.Errorf("roles: update: %w", err)
	}
	return role, nil
}

// SetActive toggles the active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("roles: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// Delete removes a role row. Roles still assigned to users are protected by
// the foreign key on users.role_id.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == fkViolation {
			return fmt.Errorf("%w: role is still assigned to users", httpx.ErrValidation)
		}
		return fmt.Errorf("roles: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// CountUsers returns how many users hold the role.
func (r *Repository) CountUsers(ctx context.Context, id int64) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role_id = $1`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("roles: count users: %w", err)
	}
	return count, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Level, &role.Description, &role.System, &role.Active, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

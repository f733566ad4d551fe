package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-vms/gatehouse/internal/platform/db"
)

// RepositoryPort is the persistence surface the core needs. The
// role-permission map is mutated only through GrantRolePermissions and
// RevokeRolePermissions; no other component writes those rows.
type RepositoryPort interface {
	GetRole(ctx context.Context, roleID int64) (Role, error)
	GetUser(ctx context.Context, userID int64) (UserAccount, error)
	ListRolePermissionIDs(ctx context.Context, roleID int64) ([]string, error)
	ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error)
	GrantRolePermissions(ctx context.Context, roleID int64, permissionIDs []string, grantedBy int64) (int, error)
	RevokeRolePermissions(ctx context.Context, roleID int64, permissionIDs []string) (int, error)
	ListUserIDsByRole(ctx context.Context, roleID int64) ([]int64, error)
	HasResourceAccess(ctx context.Context, userID, resourceID int64) (bool, error)
}

const fkViolation = "23503"

// Repository provides PostgreSQL backed persistence for the core.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, roleID int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, level, description, is_system, is_active, created_at, updated_at FROM roles WHERE id = $1`, roleID)
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Level, &role.Description, &role.System, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, fmt.Errorf("authz: get role: %w", err)
	}
	return role, nil
}

// GetUser fetches the directory slice for a user.
func (r *Repository) GetUser(ctx context.Context, userID int64) (UserAccount, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, role_id, is_active, is_locked FROM users WHERE id = $1`, userID)
	var user UserAccount
	if err := row.Scan(&user.ID, &user.RoleID, &user.Active, &user.Locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAccount{}, ErrUserNotFound
		}
		return UserAccount{}, fmt.Errorf("authz: get user: %w", err)
	}
	return user, nil
}

// ListRolePermissionIDs returns the permission identifiers granted to a role.
func (r *Repository) ListRolePermissionIDs(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("authz: list role permission ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListRolePermissions returns the full grant rows for a role.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id, permission_id, granted_by, granted_at FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("authz: list role permissions: %w", err)
	}
	defer rows.Close()
	var grants []RolePermission
	for rows.Next() {
		var rp RolePermission
		if err := rows.Scan(&rp.RoleID, &rp.PermissionID, &rp.GrantedBy, &rp.GrantedAt); err != nil {
			return nil, err
		}
		grants = append(grants, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

// GrantRolePermissions inserts missing role-permission rows. Existing
// associations are skipped via ON CONFLICT, making retries idempotent; the
// returned count covers newly inserted rows only. The write runs in a
// serializable transaction: the orchestrator's per-role mutex only covers
// one process, this covers concurrent mutations from other instances.
func (r *Repository) GrantRolePermissions(ctx context.Context, roleID int64, permissionIDs []string, grantedBy int64) (int, error) {
	var count int
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id, granted_by, granted_at)
			SELECT $1, unnest($2::text[]), $3, NOW()
			ON CONFLICT (role_id, permission_id) DO NOTHING`,
			roleID, permissionIDs, grantedBy)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == fkViolation {
				return ErrRoleNotFound
			}
			return fmt.Errorf("authz: grant role permissions: %w", err)
		}
		count = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RevokeRolePermissions deletes matching rows, ignoring permissions that are
// not currently granted. Serializable for the same reason as the grant path.
func (r *Repository) RevokeRolePermissions(ctx context.Context, roleID int64, permissionIDs []string) (int, error) {
	var count int
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = ANY($2::text[])`, roleID, permissionIDs)
		if err != nil {
			return fmt.Errorf("authz: revoke role permissions: %w", err)
		}
		count = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListUserIDsByRole enumerates users currently assigned the role. This backs
// the invalidation fan-out and is O(users-in-role).
func (r *Repository) ListUserIDsByRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE role_id = $1 ORDER BY id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("authz: list users by role: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// HasResourceAccess reports whether a visitor_access row links the user to
// the resource.
func (r *Repository) HasResourceAccess(ctx context.Context, userID, resourceID int64) (bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM visitor_access WHERE user_id = $1 AND visitor_id = $2)`, userID, resourceID)
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, fmt.Errorf("authz: has resource access: %w", err)
	}
	return ok, nil
}

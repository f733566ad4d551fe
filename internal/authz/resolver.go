package authz

import (
	"context"
	"fmt"
	"time"
)

// Resolver computes effective permission sets from the role store. It is
// idempotent and side-effect free; the cache memoizes its output but the
// resolver itself never touches the cache.
type Resolver struct {
	repo          RepositoryPort
	catalog       *Catalog
	elevatedLevel int
}

// NewResolver constructs a Resolver. elevatedLevel is the hierarchy level at
// or above which a user counts as holding elevated privileges.
func NewResolver(repo RepositoryPort, catalog *Catalog, elevatedLevel int) *Resolver {
	return &Resolver{repo: repo, catalog: catalog, elevatedLevel: elevatedLevel}
}

// ResolveForUser computes the user's effective permission set: the active
// catalog permissions of the user's single role. Inactive or locked users
// resolve to an empty set, as does an inactive role.
func (r *Resolver) ResolveForUser(ctx context.Context, userID int64) (Resolution, error) {
	user, err := r.repo.GetUser(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		UserID:     user.ID,
		RoleID:     user.RoleID,
		ResolvedAt: time.Now().UTC(),
	}

	role, err := r.repo.GetRole(ctx, user.RoleID)
	if err != nil {
		return Resolution{}, fmt.Errorf("authz: resolve role %d for user %d: %w", user.RoleID, userID, err)
	}
	res.RoleLevel = role.Level

	if !user.Active || user.Locked || !role.Active {
		res.Suspended = true
		res.Permissions = []string{}
		return res, nil
	}

	ids, err := r.repo.ListRolePermissionIDs(ctx, user.RoleID)
	if err != nil {
		return Resolution{}, err
	}
	permissions := make([]string, 0, len(ids))
	for _, id := range ids {
		// Grants referencing deactivated catalog entries stop conferring
		// the capability without needing a revoke.
		if r.catalog.IsValid(id) {
			permissions = append(permissions, id)
		}
	}
	res.Permissions = permissions
	return res, nil
}

// ResolveCategoryGroups returns the user's effective permissions grouped by
// catalog category.
func (r *Resolver) ResolveCategoryGroups(ctx context.Context, userID int64) (map[string][]Permission, error) {
	res, err := r.ResolveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]Permission)
	for _, id := range res.Permissions {
		p, ok := r.catalog.Get(id)
		if !ok {
			continue
		}
		groups[p.Category] = append(groups[p.Category], p)
	}
	return groups, nil
}

// HasElevatedPrivileges reports whether the user's role level meets the
// elevated threshold, or the effective set contains any high or critical
// risk permission.
func (r *Resolver) HasElevatedPrivileges(ctx context.Context, userID int64) (bool, error) {
	res, err := r.ResolveForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if res.RoleLevel >= r.elevatedLevel {
		return true, nil
	}
	for _, id := range res.Permissions {
		if r.catalog.IsHighRisk(id) {
			return true, nil
		}
	}
	return false, nil
}

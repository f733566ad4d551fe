// Package authz implements the claims-based authorization core: the
// permission catalog, role store, effective-permission resolution, the
// Redis-backed permission cache with explicit invalidation, the policy
// evaluator, and the grant/revoke orchestrator that is the only mutation
// path into the role-permission map.
package authz

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// RiskLevel grades how dangerous a permission is when misused.
type RiskLevel int

const (
	RiskLow RiskLevel = iota + 1
	RiskModerate
	RiskElevated
	RiskHigh
	RiskCritical
)

// Permission is an atomic capability identifier in "Category.Action" form.
// Permissions are immutable once referenced by a grant; system permissions
// can only be deactivated, never removed.
type Permission struct {
	ID          string
	Category    string
	Description string
	Risk        RiskLevel
	Active      bool
	System      bool
}

// Role is a named, hierarchically ordered permission bundle. Roles form a
// total order by Level; a higher level means more privilege.
type Role struct {
	ID          int64
	Name        string
	Level       int
	Description string
	System      bool
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RolePermission associates a permission with a role, recording who granted
// it and when. At most one active association exists per (role, permission).
type RolePermission struct {
	RoleID       int64
	PermissionID string
	GrantedBy    int64
	GrantedAt    time.Time
}

// UserAccount is the slice of the user directory the core needs: the single
// assigned role plus the flags that gate resolution.
type UserAccount struct {
	ID     int64
	RoleID int64
	Active bool
	Locked bool
}

// ResourceAccessGrant records that a user holding an "Own"-scoped permission
// may act on one specific resource. It is never consulted for "All" variants.
type ResourceAccessGrant struct {
	UserID     int64
	ResourceID int64
	CreatedAt  time.Time
}

// Actor identifies the authenticated caller of an authorization check. It is
// an explicit value passed into Evaluate, never read from ambient state.
type Actor struct {
	UserID int64
}

// PermissionSet is a set of permission identifiers.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from identifiers.
func NewPermissionSet(ids ...string) PermissionSet {
	set := make(PermissionSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the identifier.
func (s PermissionSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// HasAll reports whether every identifier is present.
func (s PermissionSet) HasAll(ids []string) bool {
	for _, id := range ids {
		if !s.Has(id) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one identifier is present.
func (s PermissionSet) HasAny(ids []string) bool {
	for _, id := range ids {
		if s.Has(id) {
			return true
		}
	}
	return false
}

// List returns the identifiers in sorted order.
func (s PermissionSet) List() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolution is the cached value of a user's effective permissions together
// with the role it was derived from. RoleGen stamps the role-permission
// generation the resolution observed; the cache uses it to detect staleness.
type Resolution struct {
	UserID      int64         `json:"user_id"`
	RoleID      int64         `json:"role_id"`
	RoleLevel   int           `json:"role_level"`
	RoleGen     int64         `json:"role_gen"`
	Suspended   bool          `json:"suspended"`
	Permissions []string      `json:"permissions"`
	ResolvedAt  time.Time     `json:"resolved_at"`
	set         PermissionSet `json:"-"`
}

// Set returns the resolution's permissions as a set, building it lazily.
func (r *Resolution) Set() PermissionSet {
	if r.set == nil {
		r.set = NewPermissionSet(r.Permissions...)
	}
	return r.set
}

// Sentinel errors for the authorization core.
var (
	// ErrRoleNotFound indicates the referenced role does not exist.
	ErrRoleNotFound = errors.New("authz: role not found")
	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("authz: user not found")
	// ErrInvalidPermission indicates a permission identifier that is not in
	// the catalog or is inactive.
	ErrInvalidPermission = errors.New("authz: invalid permission identifier")
	// ErrReadOnly indicates an attempt to remove a system role or permission.
	ErrReadOnly = errors.New("authz: system record is read-only")
	// ErrResolutionFailed indicates the permission store or cache could not
	// be reached. The evaluator turns this into a deny, never an allow.
	ErrResolutionFailed = errors.New("authz: permission resolution failed")
)

func invalidPermission(id string) error {
	return fmt.Errorf("%w: %q", ErrInvalidPermission, id)
}

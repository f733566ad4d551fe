package authz

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"time"
)

// Requirement is one variant of the closed policy set. Requirements are
// built programmatically through the constructors below; every embedded
// permission identifier is checked against the catalog at construction time
// so that a policy referencing an unknown permission never reaches
// evaluation.
type Requirement interface {
	requirement()
}

// SinglePermission allows iff the permission is in the actor's effective set.
type SinglePermission struct {
	Permission string
}

// AllOf allows iff every listed permission is in the actor's effective set.
type AllOf struct {
	Permissions []string
}

// AnyOf allows iff at least one listed permission is present.
type AnyOf struct {
	Permissions []string
}

// RoleOrHigher allows iff the actor's role hierarchy level is at or above
// Level. This is a numeric comparison over the role total order, not a
// permission check.
type RoleOrHigher struct {
	Level int
}

// RoleInSet allows iff the actor's role is one of an explicit set.
type RoleInSet struct {
	RoleIDs []int64
}

// ResourceOwnership gates access on a base permission's scoped variants. An
// actor holding the "All" variant is allowed unconditionally; one holding
// only the "Own" variant additionally needs a resource access grant for the
// target resource. A missing grant is an ordinary deny, not an error.
type ResourceOwnership struct {
	Own string
	All string
}

// TimeWindow allows iff the current time falls inside the window, optionally
// restricted to specific weekdays. Windows where start > end wrap past
// midnight.
type TimeWindow struct {
	Start    ClockTime
	End      ClockTime
	Weekdays []time.Weekday
}

// IPAllowlist allows iff the caller's resolved client IP matches an address
// or prefix in the list.
type IPAllowlist struct {
	Addrs    []netip.Addr
	Prefixes []netip.Prefix
}

// Composite is a named combination of requirements resolved from the fixed
// composite registry. Mode is "all" or "any".
type Composite struct {
	Name         string
	Mode         CompositeMode
	Requirements []Requirement
}

// CompositeMode selects how a composite combines its parts.
type CompositeMode string

const (
	CompositeAll CompositeMode = "all"
	CompositeAny CompositeMode = "any"
)

func (SinglePermission) requirement()  {}
func (AllOf) requirement()             {}
func (AnyOf) requirement()             {}
func (RoleOrHigher) requirement()      {}
func (RoleInSet) requirement()         {}
func (ResourceOwnership) requirement() {}
func (TimeWindow) requirement()        {}
func (IPAllowlist) requirement()       {}
func (Composite) requirement()         {}

// ClockTime is a wall-clock instant within a day.
type ClockTime struct {
	Hour   int
	Minute int
}

// Minutes returns the time as minutes since midnight.
func (t ClockTime) Minutes() int {
	return t.Hour*60 + t.Minute
}

// ParseClockTime parses "15:04" style times.
func ParseClockTime(s string) (ClockTime, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("authz: parse clock time %q: %w", s, err)
	}
	return ClockTime{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// NewSinglePermission builds a SinglePermission requirement.
func NewSinglePermission(catalog *Catalog, id string) (SinglePermission, error) {
	if !catalog.IsValid(id) {
		return SinglePermission{}, invalidPermission(id)
	}
	return SinglePermission{Permission: id}, nil
}

// NewAllOf builds an AllOf requirement.
func NewAllOf(catalog *Catalog, ids ...string) (AllOf, error) {
	if len(ids) == 0 {
		return AllOf{}, errors.New("authz: all-of requires at least one permission")
	}
	if err := catalog.ValidateAll(ids); err != nil {
		return AllOf{}, err
	}
	return AllOf{Permissions: dedupe(ids)}, nil
}

// NewAnyOf builds an AnyOf requirement.
func NewAnyOf(catalog *Catalog, ids ...string) (AnyOf, error) {
	if len(ids) == 0 {
		return AnyOf{}, errors.New("authz: any-of requires at least one permission")
	}
	if err := catalog.ValidateAll(ids); err != nil {
		return AnyOf{}, err
	}
	return AnyOf{Permissions: dedupe(ids)}, nil
}

// NewRoleOrHigher builds a hierarchy-level requirement.
func NewRoleOrHigher(level int) RoleOrHigher {
	return RoleOrHigher{Level: level}
}

// NewRoleInSet builds an explicit role membership requirement.
func NewRoleInSet(roleIDs ...int64) (RoleInSet, error) {
	if len(roleIDs) == 0 {
		return RoleInSet{}, errors.New("authz: role-in-set requires at least one role")
	}
	return RoleInSet{RoleIDs: roleIDs}, nil
}

// NewResourceOwnership builds an ownership requirement from a base
// permission such as "Visitor.Read". Both scoped variants must exist in the
// catalog.
func NewResourceOwnership(catalog *Catalog, base string) (ResourceOwnership, error) {
	own, all, err := catalog.OwnershipPair(base)
	if err != nil {
		return ResourceOwnership{}, err
	}
	return ResourceOwnership{Own: own, All: all}, nil
}

// NewTimeWindow builds a time-of-day requirement. An empty weekday list
// means every day.
func NewTimeWindow(start, end string, weekdays ...time.Weekday) (TimeWindow, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return TimeWindow{}, err
	}
	if s == e {
		return TimeWindow{}, errors.New("authz: time window start and end are equal")
	}
	return TimeWindow{Start: s, End: e, Weekdays: weekdays}, nil
}

// NewIPAllowlist builds an allowlist from address and CIDR strings.
func NewIPAllowlist(entries ...string) (IPAllowlist, error) {
	if len(entries) == 0 {
		return IPAllowlist{}, errors.New("authz: ip allowlist requires at least one entry")
	}
	var list IPAllowlist
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			list.Prefixes = append(list.Prefixes, prefix)
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return IPAllowlist{}, fmt.Errorf("authz: parse allowlist entry %q: %w", entry, err)
		}
		list.Addrs = append(list.Addrs, addr)
	}
	return list, nil
}

// CompositeRegistry holds the fixed, named composite policies. New
// composites require a code change here, keeping the policy surface
// auditable; they are never assembled from request data.
type CompositeRegistry struct {
	composites map[string]Composite
}

// NewCompositeRegistry builds a registry from definitions.
func NewCompositeRegistry(defs map[string]Composite) (*CompositeRegistry, error) {
	reg := &CompositeRegistry{composites: make(map[string]Composite, len(defs))}
	for name, def := range defs {
		if len(def.Requirements) == 0 {
			return nil, fmt.Errorf("authz: composite %q has no requirements", name)
		}
		if def.Mode != CompositeAll && def.Mode != CompositeAny {
			return nil, fmt.Errorf("authz: composite %q has mode %q", name, def.Mode)
		}
		def.Name = name
		reg.composites[name] = def
	}
	return reg, nil
}

// Lookup returns the named composite.
func (r *CompositeRegistry) Lookup(name string) (Composite, error) {
	def, ok := r.composites[name]
	if !ok {
		return Composite{}, fmt.Errorf("authz: unknown composite policy %q", name)
	}
	return def, nil
}

// Names lists the registered composites, sorted.
func (r *CompositeRegistry) Names() []string {
	names := make([]string, 0, len(r.composites))
	for name := range r.composites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultComposites defines the deployment's named composites against the
// given catalog and role levels.
func DefaultComposites(catalog *Catalog, adminLevel int) (*CompositeRegistry, error) {
	grant, err := NewSinglePermission(catalog, "Permission.Grant")
	if err != nil {
		return nil, err
	}
	roleManage, err := NewSinglePermission(catalog, "Role.Manage")
	if err != nil {
		return nil, err
	}
	visitorWrite, err := NewAnyOf(catalog, "Visitor.Create", "Visitor.Update")
	if err != nil {
		return nil, err
	}
	checkin, err := NewSinglePermission(catalog, "CheckIn.Process")
	if err != nil {
		return nil, err
	}
	return NewCompositeRegistry(map[string]Composite{
		// Role administration: the admin hierarchy tier, or an explicit
		// Role.Manage grant.
		"role-admin": {
			Mode:         CompositeAny,
			Requirements: []Requirement{NewRoleOrHigher(adminLevel), roleManage},
		},
		// Permission administration always requires the explicit grant
		// permission on top of the admin tier.
		"permission-admin": {
			Mode:         CompositeAll,
			Requirements: []Requirement{NewRoleOrHigher(adminLevel), grant},
		},
		// Front-desk work: able to register visitors or process check-ins.
		"front-desk": {
			Mode:         CompositeAny,
			Requirements: []Requirement{visitorWrite, checkin},
		},
	})
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

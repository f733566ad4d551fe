package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog is the immutable registry of permission identifiers. It is built
// once at process start and shared by reference; it has no mutation surface.
// Unknown identifiers are never treated as valid.
type Catalog struct {
	perms      map[string]Permission
	categories map[string][]string
}

// NewCatalog validates and indexes the given permissions.
func NewCatalog(perms []Permission) (*Catalog, error) {
	c := &Catalog{
		perms:      make(map[string]Permission, len(perms)),
		categories: make(map[string][]string),
	}
	for _, p := range perms {
		category, action, ok := splitPermissionID(p.ID)
		if !ok {
			return nil, fmt.Errorf("authz: malformed permission id %q", p.ID)
		}
		if action == "" {
			return nil, fmt.Errorf("authz: permission id %q missing action", p.ID)
		}
		if p.Category == "" {
			p.Category = category
		} else if p.Category != category {
			return nil, fmt.Errorf("authz: permission %q declares category %q", p.ID, p.Category)
		}
		if _, exists := c.perms[p.ID]; exists {
			return nil, fmt.Errorf("authz: duplicate permission id %q", p.ID)
		}
		if p.Risk < RiskLow || p.Risk > RiskCritical {
			return nil, fmt.Errorf("authz: permission %q has risk %d outside 1..5", p.ID, p.Risk)
		}
		c.perms[p.ID] = p
		c.categories[category] = append(c.categories[category], p.ID)
	}
	for _, ids := range c.categories {
		sort.Strings(ids)
	}
	return c, nil
}

// IsValid reports whether the identifier names an active catalog permission.
func (c *Catalog) IsValid(id string) bool {
	p, ok := c.perms[id]
	return ok && p.Active
}

// Get returns the permission for an identifier.
func (c *Catalog) Get(id string) (Permission, bool) {
	p, ok := c.perms[id]
	return p, ok
}

// Category returns the category of a known identifier.
func (c *Catalog) Category(id string) (string, bool) {
	p, ok := c.perms[id]
	if !ok {
		return "", false
	}
	return p.Category, true
}

// ListByCategory returns the category's permissions ordered by identifier.
func (c *Catalog) ListByCategory(category string) []Permission {
	ids := c.categories[category]
	out := make([]Permission, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.perms[id])
	}
	return out
}

// Categories returns all category names in sorted order.
func (c *Catalog) Categories() []string {
	names := make([]string, 0, len(c.categories))
	for name := range c.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsHighRisk reports whether the identifier carries high or critical risk.
func (c *Catalog) IsHighRisk(id string) bool {
	p, ok := c.perms[id]
	return ok && p.Risk >= RiskHigh
}

// ValidateAll returns the first invalid identifier error in ids, if any.
func (c *Catalog) ValidateAll(ids []string) error {
	for _, id := range ids {
		if !c.IsValid(id) {
			return invalidPermission(id)
		}
	}
	return nil
}

// OwnershipPair derives the scoped variants of a base permission like
// "Visitor.Read": the "Own" variant that needs a resource access grant and
// the "All" variant that bypasses ownership checks. Both variants must exist
// in the catalog for the pair to be usable in a policy.
func (c *Catalog) OwnershipPair(base string) (own, all string, err error) {
	own = base + "Own"
	all = base + "All"
	if !c.IsValid(own) {
		return "", "", invalidPermission(own)
	}
	if !c.IsValid(all) {
		return "", "", invalidPermission(all)
	}
	return own, all, nil
}

func splitPermissionID(id string) (category, action string, ok bool) {
	category, action, ok = strings.Cut(id, ".")
	if !ok || category == "" || strings.Contains(action, ".") {
		return "", "", false
	}
	return category, action, true
}

// DefaultCatalog returns the permission catalog for the visitor-management
// deployment. New permissions are added here, not at runtime.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog([]Permission{
		{ID: "Visitor.Create", Description: "Pre-register and create visitors", Risk: RiskLow, Active: true},
		{ID: "Visitor.ReadOwn", Description: "View visitors assigned to the actor", Risk: RiskLow, Active: true},
		{ID: "Visitor.ReadAll", Description: "View every visitor record", Risk: RiskModerate, Active: true},
		{ID: "Visitor.Update", Description: "Update visitor records", Risk: RiskModerate, Active: true},
		{ID: "Visitor.Delete", Description: "Delete visitor records", Risk: RiskElevated, Active: true},

		{ID: "CheckIn.Process", Description: "Process visitor check-in and check-out", Risk: RiskLow, Active: true},
		{ID: "CheckIn.Override", Description: "Check visitors in outside visiting hours", Risk: RiskHigh, Active: true},

		{ID: "TimeSlot.View", Description: "View visiting-hour slots", Risk: RiskLow, Active: true},
		{ID: "TimeSlot.Manage", Description: "Configure visiting-hour slots", Risk: RiskElevated, Active: true},

		{ID: "Document.Upload", Description: "Attach documents to visits", Risk: RiskLow, Active: true},
		{ID: "Document.ReadOwn", Description: "Read documents for assigned visitors", Risk: RiskModerate, Active: true},
		{ID: "Document.ReadAll", Description: "Read all visit documents", Risk: RiskElevated, Active: true},
		{ID: "Document.Delete", Description: "Remove visit documents", Risk: RiskElevated, Active: true},

		{ID: "Notification.Send", Description: "Send visit notifications", Risk: RiskLow, Active: true},
		{ID: "Notification.Configure", Description: "Configure notification templates and schedules", Risk: RiskElevated, Active: true},

		{ID: "User.View", Description: "View user accounts", Risk: RiskModerate, Active: true},
		{ID: "User.Manage", Description: "Manage user accounts and role assignment", Risk: RiskHigh, Active: true, System: true},

		{ID: "Role.View", Description: "View roles", Risk: RiskModerate, Active: true},
		{ID: "Role.Manage", Description: "Create and edit roles", Risk: RiskHigh, Active: true, System: true},

		{ID: "Permission.View", Description: "View the permission catalog and grants", Risk: RiskModerate, Active: true},
		{ID: "Permission.Grant", Description: "Grant and revoke role permissions", Risk: RiskCritical, Active: true, System: true},

		{ID: "Config.View", Description: "View system configuration", Risk: RiskModerate, Active: true},
		{ID: "Config.Manage", Description: "Change system configuration", Risk: RiskHigh, Active: true, System: true},

		{ID: "Report.View", Description: "View visit reports", Risk: RiskLow, Active: true},
		{ID: "Report.Export", Description: "Export visit reports", Risk: RiskModerate, Active: true},

		{ID: "Audit.View", Description: "Read the audit trail", Risk: RiskHigh, Active: true, System: true},
	})
	if err != nil {
		panic(err)
	}
	return catalog
}

// Package roles manages the role store: the named, hierarchically ordered
// permission bundles users are assigned to. Permission associations
// themselves are owned by the authz orchestrator; this package only handles
// the role records.
package roles

import "time"

// Role is a role record as stored.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Level       int       `json:"level"`
	Description string    `json:"description"`
	System      bool      `json:"system"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleInput carries the mutable fields of a role.
type RoleInput struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Level       int    `json:"level" validate:"required,min=1,max=100"`
	Description string `json:"description" validate:"max=500"`
}

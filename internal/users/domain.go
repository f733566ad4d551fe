// Package users manages the user directory: staff accounts, their single
// role assignment, and the lock flag. Role reassignment and locking feed the
// permission cache invalidation that keeps authorization decisions current.
package users

import "time"

// User represents a staff account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	RoleID       int64     `json:"role_id"`
	Active       bool      `json:"active"`
	Locked       bool      `json:"locked"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateInput carries the fields for a new account.
type CreateInput struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=2,max=128"`
	RoleID   int64  `json:"role_id" validate:"required,min=1"`
	Password string `json:"password" validate:"required,min=10,max=72"`
}

// ListFilters narrows user listings.
type ListFilters struct {
	Page   int
	Limit  int
	RoleID int64
	Search string
}

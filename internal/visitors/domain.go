// Package visitors manages visitor records through their lifecycle:
// pre-registration, check-in at the front desk, check-out, and the visit
// notes staff attach along the way. Read access is ownership-scoped: staff
// holding only the Own variant see just the visitors they have an access
// grant for.
package visitors

import "time"

// Visit lifecycle statuses.
const (
	StatusExpected   = "expected"
	StatusCheckedIn  = "checked_in"
	StatusCheckedOut = "checked_out"
	StatusCancelled  = "cancelled"
)

// Visitor represents a visitor record.
type Visitor struct {
	ID           int64      `json:"id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	Company      string     `json:"company,omitempty"`
	HostUserID   int64      `json:"host_user_id"`
	Status       string     `json:"status"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	BadgeNumber  string     `json:"badge_number,omitempty"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// VisitorInput carries the mutable fields of a visitor record.
type VisitorInput struct {
	FirstName   string    `json:"first_name" validate:"required,min=1,max=128"`
	LastName    string    `json:"last_name" validate:"required,min=1,max=128"`
	Email       string    `json:"email" validate:"required,email"`
	Phone       string    `json:"phone" validate:"max=32"`
	Company     string    `json:"company" validate:"max=128"`
	HostUserID  int64     `json:"host_user_id" validate:"required,min=1"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// Note is a free-text annotation on a visitor record.
type Note struct {
	ID        int64     `json:"id"`
	VisitorID int64     `json:"visitor_id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilters narrows visitor listings.
type ListFilters struct {
	Page   int
	Limit  int
	Status string
	Search string
}

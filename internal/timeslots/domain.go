// Package timeslots manages the visiting-hours configuration: named windows
// with weekdays and a visitor capacity. Check-in policy windows are built
// from this configuration at startup.
package timeslots

import "time"

// TimeSlot is a configured visiting window.
type TimeSlot struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Weekdays  []int16   `json:"weekdays"`
	Capacity  int       `json:"capacity"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeSlotInput carries the mutable fields of a slot. Times are "HH:MM" in
// the site's local time; weekdays use time.Weekday numbering (Sunday = 0).
type TimeSlotInput struct {
	Name      string  `json:"name" validate:"required,min=2,max=64"`
	StartTime string  `json:"start_time" validate:"required"`
	EndTime   string  `json:"end_time" validate:"required"`
	Weekdays  []int16 `json:"weekdays" validate:"required,min=1,dive,min=0,max=6"`
	Capacity  int     `json:"capacity" validate:"min=0,max=10000"`
}

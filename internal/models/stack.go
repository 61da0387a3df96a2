package models

import (
	"time"
)

// Stack is the deduplication group all occurrences of the same defect
// collapse into. One stack exists per (project, signature hash).
type Stack struct {
	ID                   string     `json:"id"`
	OrganizationID       string     `json:"organization_id"`
	ProjectID            string     `json:"project_id"`
	SignatureHash        string     `json:"signature_hash"`
	Title                string     `json:"title"`
	Type                 string     `json:"type"`
	FirstOccurrence      time.Time  `json:"first_occurrence"`
	LastOccurrence       time.Time  `json:"last_occurrence"`
	TotalOccurrences     int        `json:"total_occurrences"`
	DateFixed            *time.Time `json:"date_fixed,omitempty"`
	IsHidden             bool       `json:"is_hidden"`
	DisableNotifications bool       `json:"disable_notifications"`
	SnoozeUntil          *time.Time `json:"snooze_until,omitempty"`
}

// IsFixed reports whether the stack is currently marked resolved.
func (s *Stack) IsFixed() bool {
	return s.DateFixed != nil
}

// IsRegressed reports whether an occurrence at the given time reopens a
// fixed stack.
func (s *Stack) IsRegressed(occurred time.Time) bool {
	return s.DateFixed != nil && occurred.After(*s.DateFixed)
}

// AllowNotifications reports whether stack-level flags permit sending
// notifications at the given time.
func (s *Stack) AllowNotifications(now time.Time) bool {
	if s.IsHidden || s.DisableNotifications {
		return false
	}
	if s.SnoozeUntil != nil && now.Before(*s.SnoozeUntil) {
		return false
	}
	return true
}

package models

import (
	"time"
)

// Event types recognized by the processing pipeline.
const (
	TypeError      = "error"
	TypeLog        = "log"
	TypeSession    = "session"
	TypeSessionEnd = "sessionend"
)

// Event is a single telemetry occurrence posted by a client SDK.
type Event struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	ProjectID      string         `json:"project_id"`
	StackID        string         `json:"stack_id,omitempty"`
	Type           string         `json:"type"`
	Source         string         `json:"source,omitempty"`
	Message        string         `json:"message,omitempty"`
	Date           time.Time      `json:"date"`
	CreatedAt      time.Time      `json:"created_at"`
	Value          *float64       `json:"value,omitempty"`
	ReferenceID    string         `json:"reference_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	UserIdentity   string         `json:"user_identity,omitempty"`
	SessionEnd     *time.Time     `json:"session_end,omitempty"`
	Error          *Error         `json:"error,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// IsSessionStart reports whether the event opens a session.
func (e *Event) IsSessionStart() bool {
	return e.Type == TypeSession
}

// HasEnded reports whether a session-start event has been closed.
func (e *Event) HasEnded() bool {
	return e.SessionEnd != nil
}

// LastActivity is the session start plus the recorded duration.
func (e *Event) LastActivity() time.Time {
	if e.Value == nil {
		return e.Date
	}
	return e.Date.Add(time.Duration(*e.Value * float64(time.Second)))
}

// UpdateSessionActivity extends the session duration up to activity without
// marking the session ended.
func (e *Event) UpdateSessionActivity(activity time.Time) {
	seconds := activity.Sub(e.Date).Seconds()
	if seconds < 0 {
		seconds = 0
	}
	e.Value = &seconds
}

// MarkSessionEnded records the end marker and final duration.
func (e *Event) MarkSessionEnded(end time.Time) {
	e.UpdateSessionActivity(end)
	e.SessionEnd = &end
}

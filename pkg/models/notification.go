package models

import "time"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

func (s Severity) String() string { return string(s) }

// Notification is a transient, user-facing message. It is never persisted.
type Notification struct {
	ID        uint64    `json:"id"`
	Text      string    `json:"text"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

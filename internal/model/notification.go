package model

import "time"

// Notification represents a single item in a user's notification feed.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id"`

	// UserID identifies the recipient.
	UserID string `json:"user_id" db:"user_id"`

	// Title is the short headline shown in the feed.
	Title string `json:"title" db:"title"`

	// Message is the human-readable notification body.
	Message string `json:"message" db:"message"`

	// Type classifies the notification (e.g. "schedule", "tournament",
	// "evaluation").
	Type string `json:"type" db:"type"`

	// ReferenceType and ReferenceID link the notification to the domain
	// record it was generated for.
	ReferenceType string `json:"reference_type" db:"reference_type"`
	ReferenceID   string `json:"reference_id" db:"reference_id"`

	// IsRead indicates whether the user has seen this notification.
	IsRead bool `json:"is_read" db:"is_read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EventKind identifies the kind of change delivered on a change-event
// channel.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// ChangeEvent is a single delta delivered on a per-user change-event
// channel. Previous carries the record state before the change; for
// deletes it may be the only place the record's id appears.
type ChangeEvent struct {
	Kind     EventKind     `json:"type"`
	Record   Notification  `json:"record"`
	Previous *Notification `json:"old_record,omitempty"`
}

package model

import (
	"encoding/json"
	"time"
)

// MutationOp identifies the kind of write operation held in the offline
// mutation queue.
type MutationOp string

const (
	OpTrainingLogAdd    MutationOp = "training_log_add"
	OpTrainingLogUpdate MutationOp = "training_log_update"
	OpTrainingLogDelete MutationOp = "training_log_delete"
)

// QueueItem is a single pending mutation recorded while the client was
// offline, awaiting replay against the record store.
type QueueItem struct {
	// QueueID is assigned by the local store and increases monotonically,
	// which gives the queue its FIFO replay order.
	QueueID int64 `json:"queue_id" db:"queue_id"`

	// Op tags the operation so the sync engine can dispatch it to the
	// right handler.
	Op MutationOp `json:"op" db:"op_type"`

	// Payload is the operation body, opaque to the queue itself.
	Payload json.RawMessage `json:"payload" db:"payload"`

	// Retries counts failed replay attempts. It only ever increases.
	Retries int `json:"retries" db:"retries"`

	// CreatedAt is when the mutation was queued.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TrainingLog is a member's training diary entry, the one domain record
// that may be written while offline.
type TrainingLog struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Activity string    `json:"activity"`
	Notes    string    `json:"notes"`
	Duration int       `json:"duration_min"`
	LoggedAt time.Time `json:"logged_at"`
}

// DeviceSubscription registers a push-delivery endpoint for a user's
// device. Stored via upsert keyed by endpoint so re-registration is
// idempotent.
type DeviceSubscription struct {
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	Platform  string    `json:"platform"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Package recordstore defines the contract with the hosted record store
// and provides its HTTP client implementation.
package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/tvandenberg/clubsync/internal/model"
)

// NotFoundError indicates that the record acted on does not exist in the
// store. Idempotent callers normalize it to success.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// IsNotFound reports whether err (or any error in its chain) is a
// NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// UnavailableError indicates a transient transport failure: the store
// could not be reached or answered with a server error. These failures
// are retryable.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("record store unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err (or any error in its chain) is an
// UnavailableError.
func IsUnavailable(err error) bool {
	var ua *UnavailableError
	return errors.As(err, &ua)
}

// NotificationFilter controls pagination and type filtering for
// notification queries. Results are always ordered by creation time
// descending.
type NotificationFilter struct {
	Page     int
	PageSize int
	Type     string
}

// Store is the record store contract the sync engine and feed controller
// depend on.
type Store interface {
	// ListNotifications returns one page of a user's feed, newest first.
	ListNotifications(ctx context.Context, userID string, filter NotificationFilter) ([]model.Notification, error)

	// UnreadCount returns the authoritative number of unread
	// notifications for a user.
	UnreadCount(ctx context.Context, userID string) (int, error)

	// SetRead conditionally flips a notification's read state. It
	// reports whether a row actually changed; a record already in the
	// target state (or missing) yields false with a nil error.
	SetRead(ctx context.Context, id string, read bool) (bool, error)

	// MarkAllRead transitions every notification of the user to read.
	MarkAllRead(ctx context.Context, userID string) error

	// DeleteNotifications removes the given ids. Unknown ids are
	// ignored.
	DeleteNotifications(ctx context.Context, ids []string) error

	// ClearNotifications removes all notifications for a user.
	ClearNotifications(ctx context.Context, userID string) error

	// Training-log writes, replayed by the sync engine.
	InsertTrainingLog(ctx context.Context, entry model.TrainingLog) error
	UpdateTrainingLog(ctx context.Context, entry model.TrainingLog) error
	DeleteTrainingLog(ctx context.Context, id string) error

	// UpsertDeviceSubscription registers a push endpoint, keyed by the
	// endpoint so re-registration is idempotent.
	UpsertDeviceSubscription(ctx context.Context, sub model.DeviceSubscription) error
}

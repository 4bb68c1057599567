package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tvandenberg/clubsync/internal/model"
	"github.com/tvandenberg/clubsync/internal/recordstore"
)

// FakeStore is an in-memory record store for tests. It records the
// order of training-log operations so replay-order assertions are
// possible, and fails every call with FailWith when set.
type FakeStore struct {
	mu            sync.Mutex
	Notifications []model.Notification
	TrainingLogs  map[string]model.TrainingLog
	Devices       map[string]model.DeviceSubscription

	// Ops records mutating operations in call order, e.g.
	// "training_log_add:x".
	Ops []string

	// FailWith, when non-nil, is returned by every call.
	FailWith error

	// ListHook, when set, runs inside ListNotifications before the
	// result is built. Tests use it to interleave feed mutations with
	// an in-flight fetch.
	ListHook func()
}

var _ recordstore.Store = (*FakeStore)(nil)

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		TrainingLogs: make(map[string]model.TrainingLog),
		Devices:      make(map[string]model.DeviceSubscription),
	}
}

func (f *FakeStore) ListNotifications(
	_ context.Context,
	userID string,
	filter recordstore.NotificationFilter,
) ([]model.Notification, error) {
	f.mu.Lock()
	if f.FailWith != nil {
		err := f.FailWith
		f.mu.Unlock()
		return nil, err
	}

	var matched []model.Notification
	for _, n := range f.Notifications {
		if n.UserID != userID {
			continue
		}
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		matched = append(matched, n)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * filter.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	result := append([]model.Notification(nil), matched[start:end]...)
	hook := f.ListHook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return result, nil
}

func (f *FakeStore) UnreadCount(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return 0, f.FailWith
	}

	count := 0
	for _, n := range f.Notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (f *FakeStore) SetRead(_ context.Context, id string, read bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return false, f.FailWith
	}

	for i := range f.Notifications {
		if f.Notifications[i].ID != id {
			continue
		}
		if f.Notifications[i].IsRead == read {
			return false, nil
		}
		f.Notifications[i].IsRead = read
		return true, nil
	}
	return false, nil
}

func (f *FakeStore) MarkAllRead(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	for i := range f.Notifications {
		if f.Notifications[i].UserID == userID {
			f.Notifications[i].IsRead = true
		}
	}
	return nil
}

func (f *FakeStore) DeleteNotifications(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := f.Notifications[:0]
	for _, n := range f.Notifications {
		if !drop[n.ID] {
			kept = append(kept, n)
		}
	}
	f.Notifications = kept
	return nil
}

func (f *FakeStore) ClearNotifications(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	kept := f.Notifications[:0]
	for _, n := range f.Notifications {
		if n.UserID != userID {
			kept = append(kept, n)
		}
	}
	f.Notifications = kept
	return nil
}

func (f *FakeStore) InsertTrainingLog(_ context.Context, entry model.TrainingLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	f.TrainingLogs[entry.ID] = entry
	f.Ops = append(f.Ops, fmt.Sprintf("training_log_add:%s", entry.ID))
	return nil
}

func (f *FakeStore) UpdateTrainingLog(_ context.Context, entry model.TrainingLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	f.TrainingLogs[entry.ID] = entry
	f.Ops = append(f.Ops, fmt.Sprintf("training_log_update:%s", entry.ID))
	return nil
}

func (f *FakeStore) DeleteTrainingLog(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	delete(f.TrainingLogs, id)
	f.Ops = append(f.Ops, fmt.Sprintf("training_log_delete:%s", id))
	return nil
}

func (f *FakeStore) UpsertDeviceSubscription(_ context.Context, sub model.DeviceSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}

	f.Devices[sub.Endpoint] = sub
	return nil
}

// SetFailure makes every subsequent call fail with err; nil restores
// normal operation.
func (f *FakeStore) SetFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailWith = err
}

// OpLog returns a copy of the recorded mutation order.
func (f *FakeStore) OpLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Ops...)
}

// Unavailable returns the transient transport failure the sync engine
// retries on.
func Unavailable(msg string) error {
	return &recordstore.UnavailableError{Err: fmt.Errorf("%s", msg)}
}

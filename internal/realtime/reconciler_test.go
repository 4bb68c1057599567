package realtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tvandenberg/clubsync/internal/connectivity"
	"github.com/tvandenberg/clubsync/internal/feed"
	"github.com/tvandenberg/clubsync/internal/logging"
	"github.com/tvandenberg/clubsync/internal/model"
	"github.com/tvandenberg/clubsync/internal/realtime"
	"github.com/tvandenberg/clubsync/tests/testutil"
)

// fakeChannel is an in-memory Channel whose events are pushed by the
// test. Each Open returns a fresh channel that closes when its context
// is canceled.
type fakeChannel struct {
	mu      sync.Mutex
	opens   int
	current chan model.ChangeEvent
}

func (f *fakeChannel) Open(ctx context.Context, _ string) (<-chan model.ChangeEvent, error) {
	ch := make(chan model.ChangeEvent)

	f.mu.Lock()
	f.opens++
	f.current = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(ch)
	}()

	return ch, nil
}

func (f *fakeChannel) emit(ev model.ChangeEvent) {
	f.mu.Lock()
	ch := f.current
	f.mu.Unlock()
	ch <- ev
}

func (f *fakeChannel) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func newReconciler(t *testing.T) (*realtime.Reconciler, *feed.Controller, *fakeChannel) {
	t.Helper()

	store := testutil.NewFakeStore()
	cacheStore := testutil.NewTestCache(t)
	monitor := connectivity.New(nil, 0)
	monitor.SetOnline(true)
	log := logging.New("error")

	ctrl := feed.NewController(store, cacheStore, monitor, log, 20)
	ch := &fakeChannel{}
	rec := realtime.NewReconciler(ctrl, ch, log)
	t.Cleanup(rec.Unsubscribe)

	return rec, ctrl, ch
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func notification(id string, read bool) model.Notification {
	return model.Notification{
		ID:        id,
		UserID:    "u1",
		Title:     "title " + id,
		IsRead:    read,
		CreatedAt: time.Now().UTC(),
	}
}

func TestInsertPrependedAndDeduplicated(t *testing.T) {
	rec, ctrl, ch := newReconciler(t)

	if err := rec.Subscribe("u1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ch.emit(model.ChangeEvent{Kind: model.EventInsert, Record: notification("a", false)})
	waitFor(t, func() bool { return len(ctrl.Loaded()) == 1 }, "insert not applied")

	if ctrl.UnreadCount() != 1 {
		t.Fatalf("expected 1 unread, got %d", ctrl.UnreadCount())
	}

	// The same id delivered again must not duplicate or double-count.
	ch.emit(model.ChangeEvent{Kind: model.EventInsert, Record: notification("a", false)})
	ch.emit(model.ChangeEvent{Kind: model.EventInsert, Record: notification("b", true)})
	waitFor(t, func() bool { return len(ctrl.Loaded()) == 2 }, "second insert not applied")

	if ctrl.UnreadCount() != 1 {
		t.Fatalf("duplicate insert double-counted: %d", ctrl.UnreadCount())
	}
	if ctrl.Loaded()[0].ID != "b" {
		t.Fatalf("inserts not prepended: first is %s", ctrl.Loaded()[0].ID)
	}
}

func TestUpdateMovesCounterByComparison(t *testing.T) {
	rec, ctrl, ch := newReconciler(t)

	if err := rec.Subscribe("u1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ch.emit(model.ChangeEvent{Kind: model.EventInsert, Record: notification("a", false)})
	waitFor(t, func() bool { return ctrl.UnreadCount() == 1 }, "insert not applied")

	// unread -> read decrements.
	prev := notification("a", false)
	ch.emit(model.ChangeEvent{Kind: model.EventUpdate, Record: notification("a", true), Previous: &prev})
	waitFor(t, func() bool { return ctrl.UnreadCount() == 0 }, "read transition not applied")

	// read -> unread increments.
	prevRead := notification("a", true)
	ch.emit(model.ChangeEvent{Kind: model.EventUpdate, Record: notification("a", false), Previous: &prevRead})
	waitFor(t, func() bool { return ctrl.UnreadCount() == 1 }, "unread transition not applied")
}

func TestUpdateForUnloadedIDDropped(t *testing.T) {
	rec, ctrl, ch := newReconciler(t)

	if err := rec.Subscribe("u1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ch.emit(model.ChangeEvent{Kind: model.EventUpdate, Record: notification("ghost", false)})
	// The update must not retroactively insert.
	ch.emit(model.ChangeEvent{Kind: model.EventInsert, Record: notification("a", true)})
	waitFor(t, func() bool { return len(ctrl.Loaded()) == 1 }, "marker insert not applied")

	if ctrl.Loaded()[0].ID != "a" || ctrl.UnreadCount() != 0 {
		t.Fatal("update for unloaded id was not dropped")
	}
}

func TestDeleteRemovesAndUnknownIsNoOp(t *testing.T) {
	rec, ctrl, ch := newReconciler(t)

	if err := rec.Subscribe("u1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ch.emit(model.ChangeEvent{Kind: model.EventInsert, Record: notification("a", false)})
	ch.emit(model.ChangeEvent{Kind: model.EventInsert, Record: notification("b", false)})
	waitFor(t, func() bool { return len(ctrl.Loaded()) == 2 }, "inserts not applied")

	// Delete for an id that was never loaded: feed and counter hold.
	prev := notification("paged-out", false)
	ch.emit(model.ChangeEvent{Kind: model.EventDelete, Previous: &prev})
	ch.emit(model.ChangeEvent{Kind: model.EventDelete, Record: notification("a", false)})
	waitFor(t, func() bool { return len(ctrl.Loaded()) == 1 }, "delete not applied")

	if ctrl.UnreadCount() != 1 {
		t.Fatalf("expected 1 unread after delete, got %d", ctrl.UnreadCount())
	}
	if ctrl.Loaded()[0].ID != "b" {
		t.Fatalf("wrong item deleted: %s remains", ctrl.Loaded()[0].ID)
	}
}

func TestResubscribeTearsDownPrevious(t *testing.T) {
	rec, _, ch := newReconciler(t)

	if err := rec.Subscribe("u1"); err != nil {
		t.Fatalf("Subscribe u1: %v", err)
	}
	if err := rec.Subscribe("u2"); err != nil {
		t.Fatalf("Subscribe u2: %v", err)
	}

	if ch.openCount() != 2 {
		t.Fatalf("expected 2 opens, got %d", ch.openCount())
	}
	if rec.Subscribed() != "u2" {
		t.Fatalf("expected live subscription for u2, got %q", rec.Subscribed())
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	rec, _, _ := newReconciler(t)

	if err := rec.Subscribe("u1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	rec.Unsubscribe()
	rec.Unsubscribe() // second call must be harmless

	if rec.Subscribed() != "" {
		t.Fatalf("expected no live subscription, got %q", rec.Subscribed())
	}
}

func TestSubscribeRequiresUserID(t *testing.T) {
	rec, _, _ := newReconciler(t)

	if err := rec.Subscribe(""); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

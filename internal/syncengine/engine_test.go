package syncengine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tvandenberg/clubsync/internal/connectivity"
	"github.com/tvandenberg/clubsync/internal/logging"
	"github.com/tvandenberg/clubsync/internal/model"
	"github.com/tvandenberg/clubsync/internal/queue"
	"github.com/tvandenberg/clubsync/internal/syncengine"
	"github.com/tvandenberg/clubsync/tests/testutil"
)

func newEngine(t *testing.T) (*syncengine.Engine, *queue.Queue, *testutil.FakeStore) {
	t.Helper()
	q := queue.New(testutil.NewTestCache(t))
	store := testutil.NewFakeStore()
	engine := syncengine.New(q, store, logging.New("error"), 0)
	return engine, q, store
}

func TestDrainReplaysInFIFOOrder(t *testing.T) {
	engine, q, store := newEngine(t)
	ctx := context.Background()

	mustEnqueue(t, q, model.OpTrainingLogAdd, model.TrainingLog{ID: "a"})
	mustEnqueue(t, q, model.OpTrainingLogUpdate, model.TrainingLog{ID: "a", Notes: "updated"})
	mustEnqueue(t, q, model.OpTrainingLogAdd, model.TrainingLog{ID: "b"})
	mustEnqueue(t, q, model.OpTrainingLogDelete, map[string]string{"id": "a"})

	result, err := engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if result.Replayed != 4 || result.Failed != 0 || result.Dropped != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Pending != 0 {
		t.Fatalf("expected empty queue after drain, got %d", result.Pending)
	}

	want := []string{
		"training_log_add:a",
		"training_log_update:a",
		"training_log_add:b",
		"training_log_delete:a",
	}
	got := store.OpLog()
	if len(got) != len(want) {
		t.Fatalf("expected %d ops, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("op %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRetryCeilingDropsAndWarns(t *testing.T) {
	engine, q, store := newEngine(t)
	ctx := context.Background()

	store.SetFailure(testutil.Unavailable("network down"))
	mustEnqueue(t, q, model.OpTrainingLogAdd, model.TrainingLog{ID: "x"})

	// Two failing passes bump the retry counter but keep the item.
	for pass := 1; pass <= 2; pass++ {
		result, err := engine.Drain(ctx)
		if err != nil {
			t.Fatalf("Drain pass %d: %v", pass, err)
		}
		if result.Failed != 1 || result.Dropped != 0 {
			t.Fatalf("pass %d: unexpected result %+v", pass, result)
		}
		if result.Pending != 1 {
			t.Fatalf("pass %d: expected item retained, pending=%d", pass, result.Pending)
		}
	}

	// The third failure reaches the ceiling: dropped, warned, gone.
	result, err := engine.Drain(ctx)
	if err != nil {
		t.Fatalf("final Drain: %v", err)
	}
	if result.Dropped != 1 || result.Pending != 0 {
		t.Fatalf("expected drop on final pass, got %+v", result)
	}

	select {
	case warning := <-engine.Warnings():
		if warning.Item.Op != model.OpTrainingLogAdd {
			t.Fatalf("warning for wrong op: %s", warning.Item.Op)
		}
	default:
		t.Fatal("expected a drop warning")
	}

	// Once dropped, the item is never retried again.
	store.SetFailure(nil)
	result, err = engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain after drop: %v", err)
	}
	if result.Replayed != 0 || len(store.OpLog()) != 0 {
		t.Fatal("dropped item was replayed")
	}
}

func TestFailureIsolatedPerItem(t *testing.T) {
	engine, q, store := newEngine(t)
	ctx := context.Background()

	engine.RegisterHandler("always_fails", func(context.Context, json.RawMessage) error {
		return testutil.Unavailable("broken handler")
	})

	mustEnqueue(t, q, model.OpTrainingLogAdd, model.TrainingLog{ID: "a"})
	mustEnqueue(t, q, "always_fails", map[string]string{})
	mustEnqueue(t, q, model.OpTrainingLogAdd, model.TrainingLog{ID: "b"})

	result, err := engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if result.Replayed != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	got := store.OpLog()
	if len(got) != 2 || got[0] != "training_log_add:a" || got[1] != "training_log_add:b" {
		t.Fatalf("distinct items not attempted around the failure: %v", got)
	}
}

func TestUnknownOpDroppedWithWarning(t *testing.T) {
	engine, q, _ := newEngine(t)

	mustEnqueue(t, q, "no_such_op", map[string]string{})

	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if result.Dropped != 1 || result.Pending != 0 {
		t.Fatalf("expected unknown op dropped, got %+v", result)
	}

	select {
	case <-engine.Warnings():
	default:
		t.Fatal("expected a drop warning for unknown op")
	}
}

func TestConcurrentDrainIsNoOp(t *testing.T) {
	engine, q, _ := newEngine(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	engine.RegisterHandler("blocking", func(context.Context, json.RawMessage) error {
		close(entered)
		<-release
		return nil
	})

	mustEnqueue(t, q, "blocking", map[string]string{})

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		if _, err := engine.Drain(context.Background()); err != nil {
			t.Errorf("first Drain: %v", err)
		}
	}()

	<-entered

	// While the first pass is in flight, a second trigger is a no-op.
	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if result.Replayed != 0 || result.Failed != 0 || result.Dropped != 0 {
		t.Fatalf("expected no-op result, got %+v", result)
	}

	close(release)
	<-firstDone
}

func TestReconnectTriggersDrain(t *testing.T) {
	engine, q, store := newEngine(t)

	monitor := connectivity.New(nil, 0)
	engine.AttachMonitor(monitor)

	mustEnqueue(t, q, model.OpTrainingLogAdd, model.TrainingLog{ID: "x"})

	monitor.SetOnline(true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		count, err := q.Count(context.Background())
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue not drained after reconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := store.OpLog()
	if len(got) != 1 || got[0] != "training_log_add:x" {
		t.Fatalf("expected exactly one insert of x, got %v", got)
	}
}

func mustEnqueue(t *testing.T, q *queue.Queue, op model.MutationOp, payload any) {
	t.Helper()
	if _, err := q.Enqueue(context.Background(), op, payload); err != nil {
		t.Fatalf("Enqueue %s: %v", op, err)
	}
}

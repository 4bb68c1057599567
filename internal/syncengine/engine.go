// Package syncengine drains the offline mutation queue against the
// record store once connectivity returns.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tvandenberg/clubsync/internal/connectivity"
	"github.com/tvandenberg/clubsync/internal/logging"
	"github.com/tvandenberg/clubsync/internal/model"
	"github.com/tvandenberg/clubsync/internal/queue"
	"github.com/tvandenberg/clubsync/internal/recordstore"
)

// DefaultMaxRetries is the replay ceiling: an item failing this many
// times is dropped and reported, never silently retried forever.
const DefaultMaxRetries = 3

// Handler replays one kind of queued mutation against the record store.
type Handler func(ctx context.Context, payload json.RawMessage) error

// DropWarning reports a mutation evicted from the queue after exhausting
// its retries. It is the caller's only notice of the data loss.
type DropWarning struct {
	Item model.QueueItem
	Err  error
}

// DrainResult summarizes a single drain pass.
type DrainResult struct {
	Replayed int
	Failed   int
	Dropped  int

	// Pending is the queue length re-read after the pass, so
	// pending-count indicators stay accurate.
	Pending int
}

// Engine drains the offline mutation queue, one item at a time, in FIFO
// order. Drains are serialized: a trigger arriving while a pass is in
// flight is a no-op and relies on the next trigger to retry.
type Engine struct {
	queue      *queue.Queue
	store      recordstore.Store
	log        *logging.Logger
	maxRetries int
	warnings   chan DropWarning
	handlers   map[model.MutationOp]Handler

	mu        sync.Mutex
	draining  bool
	lastDrain time.Time
}

// New creates an Engine with the default training-log handlers
// registered. maxRetries <= 0 selects DefaultMaxRetries.
func New(q *queue.Queue, store recordstore.Store, log *logging.Logger, maxRetries int) *Engine {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	e := &Engine{
		queue:      q,
		store:      store,
		log:        log,
		maxRetries: maxRetries,
		warnings:   make(chan DropWarning, 64),
		handlers:   make(map[model.MutationOp]Handler),
	}

	e.RegisterHandler(model.OpTrainingLogAdd, e.replayTrainingLogAdd)
	e.RegisterHandler(model.OpTrainingLogUpdate, e.replayTrainingLogUpdate)
	e.RegisterHandler(model.OpTrainingLogDelete, e.replayTrainingLogDelete)

	return e
}

// RegisterHandler binds a replay handler to an operation type.
func (e *Engine) RegisterHandler(op model.MutationOp, h Handler) {
	e.handlers[op] = h
}

// Warnings exposes the dropped-mutation channel. Consumers should drain
// it; the engine never blocks on a full channel.
func (e *Engine) Warnings() <-chan DropWarning {
	return e.warnings
}

// LastDrain returns when the most recent drain pass finished.
func (e *Engine) LastDrain() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastDrain
}

// AttachMonitor wires the engine to a connectivity monitor: the
// transition to online is what triggers a drain attempt, keeping
// connectivity detection decoupled from sync policy.
func (e *Engine) AttachMonitor(m *connectivity.Monitor) {
	m.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, err := e.Drain(context.Background()); err != nil {
				e.log.Warnf("drain after reconnect: %v", err)
			}
		}()
	})
}

// action is the outcome of the replay decision for a queue item.
type action int

const (
	actionReplay action = iota
	actionDrop
)

// decide is the pure retry policy: an item at or past the ceiling is
// dropped, anything else is replayed. Separated from the I/O so the
// ceiling is testable on its own.
func decide(item model.QueueItem, maxRetries int) action {
	if item.Retries >= maxRetries {
		return actionDrop
	}
	return actionReplay
}

// Drain performs a single pass over the pending queue. A second Drain
// while one is in flight returns immediately with a zero result. One
// item's failure does not block later items in the same pass.
func (e *Engine) Drain(ctx context.Context) (DrainResult, error) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return DrainResult{}, nil
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.lastDrain = time.Now()
		e.mu.Unlock()
	}()

	items, err := e.queue.ListPending(ctx)
	if err != nil {
		return DrainResult{}, fmt.Errorf("listing pending mutations: %w", err)
	}

	var result DrainResult
	for _, item := range items {
		switch decide(item, e.maxRetries) {
		case actionDrop:
			e.drop(ctx, item, fmt.Errorf("retry ceiling (%d) reached", e.maxRetries))
			result.Dropped++
			continue
		case actionReplay:
		}

		handler, ok := e.handlers[item.Op]
		if !ok {
			// No handler can ever replay this item; keeping it
			// would stall the queue forever.
			e.drop(ctx, item, fmt.Errorf("no handler for operation %q", item.Op))
			result.Dropped++
			continue
		}

		if err := handler(ctx, item.Payload); err != nil {
			retries, bumpErr := e.queue.BumpRetry(ctx, item.QueueID)
			if bumpErr != nil {
				e.log.Errorf("bumping retries for item %d: %v", item.QueueID, bumpErr)
				result.Failed++
				continue
			}

			item.Retries = retries
			if decide(item, e.maxRetries) == actionDrop {
				e.drop(ctx, item, err)
				result.Dropped++
			} else {
				e.log.Warnf("replay of item %d (%s) failed (attempt %d/%d): %v",
					item.QueueID, item.Op, retries, e.maxRetries, err)
				result.Failed++
			}
			continue
		}

		if err := e.queue.Dequeue(ctx, item.QueueID); err != nil {
			e.log.Errorf("dequeuing replayed item %d: %v", item.QueueID, err)
		}
		result.Replayed++
	}

	pending, err := e.queue.Count(ctx)
	if err != nil {
		return result, fmt.Errorf("re-reading queue length: %w", err)
	}
	result.Pending = pending

	return result, nil
}

// drop evicts an item from the queue and reports the loss on the
// warnings channel.
func (e *Engine) drop(ctx context.Context, item model.QueueItem, cause error) {
	if err := e.queue.Dequeue(ctx, item.QueueID); err != nil {
		e.log.Errorf("dequeuing dropped item %d: %v", item.QueueID, err)
	}

	e.log.Warnf("dropping mutation %d (%s) after %d retries: %v",
		item.QueueID, item.Op, item.Retries, cause)

	select {
	case e.warnings <- DropWarning{Item: item, Err: cause}:
	default:
		// Keep draining even if nobody is consuming warnings.
	}
}

func (e *Engine) replayTrainingLogAdd(ctx context.Context, payload json.RawMessage) error {
	var entry model.TrainingLog
	if err := json.Unmarshal(payload, &entry); err != nil {
		return fmt.Errorf("decoding training log payload: %w", err)
	}
	return e.store.InsertTrainingLog(ctx, entry)
}

func (e *Engine) replayTrainingLogUpdate(ctx context.Context, payload json.RawMessage) error {
	var entry model.TrainingLog
	if err := json.Unmarshal(payload, &entry); err != nil {
		return fmt.Errorf("decoding training log payload: %w", err)
	}
	return e.store.UpdateTrainingLog(ctx, entry)
}

func (e *Engine) replayTrainingLogDelete(ctx context.Context, payload json.RawMessage) error {
	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &ref); err != nil {
		return fmt.Errorf("decoding training log payload: %w", err)
	}
	return e.store.DeleteTrainingLog(ctx, ref.ID)
}

// Package queue implements the offline mutation queue: an append-only,
// FIFO list of pending writes recorded while the record store is
// unreachable.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tvandenberg/clubsync/internal/cache"
	"github.com/tvandenberg/clubsync/internal/model"
)

// ErrEmptyOp is returned when enqueuing a mutation without an operation
// type.
var ErrEmptyOp = errors.New("mutation operation type is required")

// Queue is the offline mutation queue, persisted in the local cache
// store. There is no cap on queue length; stuck items are evicted only
// by the sync engine's retry ceiling.
type Queue struct {
	store *cache.Store
}

// New creates a Queue backed by the given cache store.
func New(store *cache.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue appends a mutation and returns its monotonic queue id.
// The payload is serialized to JSON.
func (q *Queue) Enqueue(ctx context.Context, op model.MutationOp, payload any) (int64, error) {
	if op == "" {
		return 0, ErrEmptyOp
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling payload for %s: %w", op, err)
	}

	return q.store.EnqueueMutation(ctx, op, data)
}

// ListPending returns all queued mutations in insertion order. Replay
// must preserve this order so later writes to the same record never
// overtake earlier ones.
func (q *Queue) ListPending(ctx context.Context) ([]model.QueueItem, error) {
	return q.store.PendingMutations(ctx)
}

// Dequeue removes an item by queue id. Dequeuing an unknown id is a
// no-op.
func (q *Queue) Dequeue(ctx context.Context, queueID int64) error {
	return q.store.DeleteMutation(ctx, queueID)
}

// BumpRetry increments an item's retry counter and returns the new
// count.
func (q *Queue) BumpRetry(ctx context.Context, queueID int64) (int, error) {
	return q.store.BumpRetry(ctx, queueID)
}

// Count returns the number of pending mutations.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.store.PendingCount(ctx)
}

// Package realtime subscribes to the per-user change-event channel and
// reconciles incoming deltas with the loaded notification feed.
package realtime

import (
	"context"
	"sync"

	"github.com/tvandenberg/clubsync/internal/feed"
	"github.com/tvandenberg/clubsync/internal/logging"
	"github.com/tvandenberg/clubsync/internal/model"
)

// Channel delivers a user's change events until ctx is canceled. The
// returned channel is closed when the subscription ends for good.
type Channel interface {
	Open(ctx context.Context, userID string) (<-chan model.ChangeEvent, error)
}

// Reconciler owns at most one live subscription at a time and applies
// every delta to the feed through the controller's id-checked methods,
// so a racing page fetch and a realtime insert can never duplicate a
// record or double-count the unread total.
type Reconciler struct {
	feed    *feed.Controller
	channel Channel
	log     *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	userID string
}

// NewReconciler creates a Reconciler over the given feed controller and
// change-event channel.
func NewReconciler(f *feed.Controller, ch Channel, log *logging.Logger) *Reconciler {
	return &Reconciler{feed: f, channel: ch, log: log}
}

// Subscribe starts consuming the user's change events. Re-subscribing is
// idempotent: any existing subscription is torn down first, so there is
// never more than one live subscription.
func (r *Reconciler) Subscribe(userID string) error {
	if userID == "" {
		return feed.ErrEmptyUserID
	}

	r.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := r.channel.Open(ctx, userID)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.userID = userID
	r.mu.Unlock()

	go r.consume(events, done)
	return nil
}

// Unsubscribe tears down the live subscription, if any, and waits for
// the consumer to finish so no event is applied after return.
func (r *Reconciler) Unsubscribe() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.userID = ""
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Subscribed reports the user id of the live subscription, or "".
func (r *Reconciler) Subscribed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

// consume applies events until the channel closes.
func (r *Reconciler) consume(events <-chan model.ChangeEvent, done chan struct{}) {
	defer close(done)

	ctx := context.Background()
	for ev := range events {
		switch ev.Kind {
		case model.EventInsert:
			r.feed.ApplyInsert(ctx, ev.Record)
		case model.EventUpdate:
			r.feed.ApplyUpdate(ctx, ev.Record)
		case model.EventDelete:
			id := ev.Record.ID
			if id == "" && ev.Previous != nil {
				id = ev.Previous.ID
			}
			r.feed.ApplyDelete(ctx, id)
		default:
			r.log.Debugf("ignoring change event of kind %q", ev.Kind)
		}
	}
}

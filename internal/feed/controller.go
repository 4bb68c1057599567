// Package feed maintains the in-memory notification feed: paginated
// fetches from the record store, read-state transitions, deletes, the
// unread counter, and the offline snapshot fallback.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tvandenberg/clubsync/internal/cache"
	"github.com/tvandenberg/clubsync/internal/connectivity"
	"github.com/tvandenberg/clubsync/internal/logging"
	"github.com/tvandenberg/clubsync/internal/model"
	"github.com/tvandenberg/clubsync/internal/recordstore"
)

// DefaultPageSize is the fixed page size for feed fetches.
const DefaultPageSize = 20

// ErrEmptyUserID is returned by operations missing their user id.
var ErrEmptyUserID = errors.New("user id is required")

// ErrEmptyID is returned by operations missing their notification id.
var ErrEmptyID = errors.New("notification id is required")

// Controller owns the loaded feed and its unread counter. All mutations
// flow through its methods; the feed, counter, and cached snapshot are
// always adjusted together, which is what keeps the unread invariant
// enforceable.
type Controller struct {
	store    recordstore.Store
	cache    *cache.Store
	monitor  *connectivity.Monitor
	log      *logging.Logger
	pageSize int

	mu         sync.Mutex
	userID     string
	typeFilter string
	// generation is bumped on every reset so a late-arriving fetch
	// response for a previous session is never applied.
	generation int
	items      []model.Notification
	unread     int
}

// NewController creates a feed controller. pageSize <= 0 selects
// DefaultPageSize.
func NewController(
	store recordstore.Store,
	cacheStore *cache.Store,
	monitor *connectivity.Monitor,
	log *logging.Logger,
	pageSize int,
) *Controller {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Controller{
		store:    store,
		cache:    cacheStore,
		monitor:  monitor,
		log:      log,
		pageSize: pageSize,
	}
}

// PageSize returns the fixed page size.
func (c *Controller) PageSize() int {
	return c.pageSize
}

// Reset clears the loaded feed, e.g. on logout. In-flight fetches from
// before the reset are discarded when they land.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.userID = ""
	c.typeFilter = ""
	c.items = nil
	c.unread = 0
}

// Loaded returns a copy of the currently loaded feed, newest first.
func (c *Controller) Loaded() []model.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Notification, len(c.items))
	copy(out, c.items)
	return out
}

// UnreadCount returns the incrementally maintained unread counter.
func (c *Controller) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// FetchPage loads one page of the user's feed. Page 1 replaces the
// loaded feed and refreshes the cached snapshot; later pages append,
// de-duplicating by id against what is already loaded. When the store is
// unreachable while offline, page 1 falls back to the cached snapshot;
// paging beyond the snapshot while offline returns the loaded set
// unchanged.
func (c *Controller) FetchPage(
	ctx context.Context,
	userID string,
	page int,
	typeFilter string,
) ([]model.Notification, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if page < 1 {
		page = 1
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	fetched, err := c.store.ListNotifications(ctx, userID, recordstore.NotificationFilter{
		Page:     page,
		PageSize: c.pageSize,
		Type:     typeFilter,
	})
	if err != nil {
		if recordstore.IsUnavailable(err) {
			c.monitor.SetOnline(false)
		}
		if !c.monitor.IsOnline() {
			return c.offlineFallback(ctx, userID, page, gen)
		}
		return nil, fmt.Errorf("fetching page %d: %w", page, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		// Stale response from before a reset; leave state untouched.
		return c.loadedLocked(), nil
	}

	if page == 1 {
		c.userID = userID
		c.typeFilter = typeFilter
		c.items = append([]model.Notification(nil), fetched...)
		c.unread = countUnread(c.items)

		if err := c.cache.PutSnapshot(ctx, userID, fetched); err != nil {
			// Cache failures degrade to in-memory-only operation.
			c.log.Warnf("refreshing snapshot for %s: %v", userID, err)
		}
		return c.loadedLocked(), nil
	}

	if c.userID != userID || c.typeFilter != typeFilter {
		// The feed has been replaced since this page was requested.
		return c.loadedLocked(), nil
	}

	for _, n := range fetched {
		if c.indexOfLocked(n.ID) >= 0 {
			// A realtime insert may have already placed this record.
			continue
		}
		c.items = append(c.items, n)
		if !n.IsRead {
			c.unread++
		}
		if err := c.cache.UpsertOne(ctx, n); err != nil {
			c.log.Warnf("caching notification %s: %v", n.ID, err)
		}
	}

	return c.loadedLocked(), nil
}

// offlineFallback serves page 1 from the cached snapshot. Any later page
// returns the loaded set unchanged: paging past the snapshot is not
// supported offline.
func (c *Controller) offlineFallback(
	ctx context.Context,
	userID string,
	page int,
	gen int,
) ([]model.Notification, error) {
	if page > 1 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.loadedLocked(), nil
	}

	cached, err := c.cache.GetSnapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reading cached snapshot for %s: %w", userID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		return c.loadedLocked(), nil
	}

	c.userID = userID
	c.items = append([]model.Notification(nil), cached...)
	c.unread = countUnread(c.items)

	return c.loadedLocked(), nil
}

// MarkRead marks a notification as read. A record already read (or
// missing) is treated as success, and the counter moves by at most one.
func (c *Controller) MarkRead(ctx context.Context, id string) error {
	return c.setRead(ctx, id, true)
}

// MarkUnread marks a notification as unread, the mirror of MarkRead.
func (c *Controller) MarkUnread(ctx context.Context, id string) error {
	return c.setRead(ctx, id, false)
}

func (c *Controller) setRead(ctx context.Context, id string, read bool) error {
	if id == "" {
		return ErrEmptyID
	}

	if _, err := c.store.SetRead(ctx, id, read); err != nil {
		if recordstore.IsUnavailable(err) {
			c.monitor.SetOnline(false)
		}
		return fmt.Errorf("updating read state of %s: %w", id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The local flip is keyed off our own copy, not the server's
	// changed flag, so feed and counter always move together.
	i := c.indexOfLocked(id)
	if i < 0 || c.items[i].IsRead == read {
		return nil
	}

	c.items[i].IsRead = read
	if read {
		c.unread = clampZero(c.unread - 1)
	} else {
		c.unread++
	}

	if err := c.cache.UpsertOne(ctx, c.items[i]); err != nil {
		c.log.Warnf("caching read state of %s: %v", id, err)
	}
	return nil
}

// MarkAllRead transitions every loaded notification to read and resets
// the unread counter to zero.
func (c *Controller) MarkAllRead(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	if err := c.store.MarkAllRead(ctx, userID); err != nil {
		if recordstore.IsUnavailable(err) {
			c.monitor.SetOnline(false)
		}
		return fmt.Errorf("marking all read for %s: %w", userID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		c.items[i].IsRead = true
	}
	c.unread = 0

	if err := c.cache.PutSnapshot(ctx, userID, c.items); err != nil {
		c.log.Warnf("refreshing snapshot for %s: %v", userID, err)
	}
	return nil
}

// DeleteOne removes a single notification.
func (c *Controller) DeleteOne(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return c.DeleteMany(ctx, []string{id})
}

// DeleteMany removes a set of notifications. The counter is decremented
// by the number of unread items actually removed, since some may already
// be read.
func (c *Controller) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := c.store.DeleteNotifications(ctx, ids); err != nil {
		if recordstore.IsUnavailable(err) {
			c.monitor.SetOnline(false)
		}
		return fmt.Errorf("deleting notifications: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		i := c.indexOfLocked(id)
		if i < 0 {
			continue
		}
		if !c.items[i].IsRead {
			c.unread = clampZero(c.unread - 1)
		}
		c.items = append(c.items[:i], c.items[i+1:]...)

		if err := c.cache.RemoveOne(ctx, id); err != nil {
			c.log.Warnf("removing %s from cache: %v", id, err)
		}
	}
	return nil
}

// ClearAll removes every notification for the user, from the store, the
// feed, and the cached snapshot.
func (c *Controller) ClearAll(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	if err := c.store.ClearNotifications(ctx, userID); err != nil {
		if recordstore.IsUnavailable(err) {
			c.monitor.SetOnline(false)
		}
		return fmt.Errorf("clearing notifications for %s: %w", userID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = nil
	c.unread = 0

	if err := c.cache.ClearSnapshot(ctx, userID); err != nil {
		c.log.Warnf("clearing snapshot for %s: %v", userID, err)
	}
	return nil
}

// RefreshUnreadCount recounts unread notifications authoritatively from
// the record store, correcting any drift the incremental counter picked
// up.
func (c *Controller) RefreshUnreadCount(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrEmptyUserID
	}

	count, err := c.store.UnreadCount(ctx, userID)
	if err != nil {
		if recordstore.IsUnavailable(err) {
			c.monitor.SetOnline(false)
		}
		return 0, fmt.Errorf("counting unread for %s: %w", userID, err)
	}

	c.mu.Lock()
	c.unread = count
	c.mu.Unlock()

	return count, nil
}

// ApplyInsert merges a realtime insert into the feed. An id already
// present is ignored, guarding against the change channel and a
// concurrent page fetch both delivering the same record.
func (c *Controller) ApplyInsert(ctx context.Context, n model.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOfLocked(n.ID) >= 0 {
		return
	}

	c.items = append([]model.Notification{n}, c.items...)
	if !n.IsRead {
		c.unread++
	}

	if err := c.cache.UpsertOne(ctx, n); err != nil {
		c.log.Warnf("caching inserted notification %s: %v", n.ID, err)
	}
}

// ApplyUpdate replaces a loaded notification with its new version,
// moving the counter by comparing the previous and new read state. An
// update for an id that is not loaded is dropped; a later full refetch
// reconciles it.
func (c *Controller) ApplyUpdate(ctx context.Context, n model.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOfLocked(n.ID)
	if i < 0 {
		return
	}

	wasRead := c.items[i].IsRead
	c.items[i] = n

	switch {
	case wasRead && !n.IsRead:
		c.unread++
	case !wasRead && n.IsRead:
		c.unread = clampZero(c.unread - 1)
	}

	if err := c.cache.UpsertOne(ctx, n); err != nil {
		c.log.Warnf("caching updated notification %s: %v", n.ID, err)
	}
}

// ApplyDelete removes a notification the server reports as deleted.
// An id that is not loaded is a no-op.
func (c *Controller) ApplyDelete(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOfLocked(id)
	if i < 0 {
		return
	}

	if !c.items[i].IsRead {
		c.unread = clampZero(c.unread - 1)
	}
	c.items = append(c.items[:i], c.items[i+1:]...)

	if err := c.cache.RemoveOne(ctx, id); err != nil {
		c.log.Warnf("removing deleted notification %s from cache: %v", id, err)
	}
}

// loadedLocked returns a copy of the feed. Callers must hold c.mu.
func (c *Controller) loadedLocked() []model.Notification {
	out := make([]model.Notification, len(c.items))
	copy(out, c.items)
	return out
}

// indexOfLocked returns the position of id in the feed, or -1.
// Callers must hold c.mu.
func (c *Controller) indexOfLocked(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

func countUnread(items []model.Notification) int {
	count := 0
	for i := range items {
		if !items[i].IsRead {
			count++
		}
	}
	return count
}

func clampZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// Package cache implements the durable local store backing the offline
// feed snapshot and the pending-mutation queue.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tvandenberg/clubsync/internal/model"
)

// Store is the local SQLite cache. It holds one notification snapshot per
// user plus the offline mutation queue. All snapshot operations are
// idempotent and return empty results rather than errors on missing keys.
type Store struct {
	db *sqlx.DB
}

// NewStore opens (or creates) a SQLite database at dbPath, enables WAL
// mode, and runs any pending schema migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *Store) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// PutSnapshot replaces the cached snapshot for a user wholesale with the
// given notifications and stamps the snapshot time.
func (s *Store) PutSnapshot(ctx context.Context, userID string, notifications []model.Notification) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM snapshot_notifications WHERE user_id = ?", userID,
	); err != nil {
		return fmt.Errorf("clearing previous snapshot for %s: %w", userID, err)
	}

	const query = `
		INSERT OR REPLACE INTO snapshot_notifications (
			id, user_id, title, message, type,
			reference_type, reference_id, is_read, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range notifications {
		_, err = stmt.ExecContext(ctx,
			n.ID, userID, n.Title, n.Message, n.Type,
			n.ReferenceType, n.ReferenceID, boolToInt(n.IsRead), n.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("inserting snapshot row %s: %w", n.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshot_meta (user_id, cached_at)
		VALUES (?, ?)`, userID, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("stamping snapshot for %s: %w", userID, err)
	}

	return tx.Commit()
}

// GetSnapshot returns the cached snapshot for a user, newest first.
// A user with no snapshot yields an empty slice, not an error.
func (s *Store) GetSnapshot(ctx context.Context, userID string) ([]model.Notification, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, user_id, title, message, type,
		       reference_type, reference_id, is_read, created_at
		FROM snapshot_notifications
		WHERE user_id = ?
		ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot for %s: %w", userID, err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// SnapshotAge returns when the user's snapshot was last replaced. The
// zero time means no snapshot exists.
func (s *Store) SnapshotAge(ctx context.Context, userID string) (time.Time, error) {
	var cachedAt time.Time
	err := s.db.GetContext(ctx, &cachedAt,
		"SELECT cached_at FROM snapshot_meta WHERE user_id = ?", userID,
	)
	if err != nil {
		// Missing row is not an error, just an absent snapshot.
		return time.Time{}, nil
	}
	return cachedAt, nil
}

// UpsertOne inserts or replaces a single notification in the user's
// cached snapshot, keeping it aligned with the live feed between full
// refreshes.
func (s *Store) UpsertOne(ctx context.Context, n model.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshot_notifications (
			id, user_id, title, message, type,
			reference_type, reference_id, is_read, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Message, n.Type,
		n.ReferenceType, n.ReferenceID, boolToInt(n.IsRead), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting cached notification %s: %w", n.ID, err)
	}
	return nil
}

// RemoveOne deletes a single notification from the cached snapshot.
// Removing an id that is not cached is a no-op.
func (s *Store) RemoveOne(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM snapshot_notifications WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("removing cached notification %s: %w", id, err)
	}
	return nil
}

// ClearSnapshot drops the user's cached snapshot entirely.
func (s *Store) ClearSnapshot(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM snapshot_notifications WHERE user_id = ?", userID,
	); err != nil {
		return fmt.Errorf("clearing snapshot for %s: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM snapshot_meta WHERE user_id = ?", userID,
	); err != nil {
		return fmt.Errorf("clearing snapshot meta for %s: %w", userID, err)
	}

	return tx.Commit()
}

// EnqueueMutation appends a pending mutation and returns its queue id.
func (s *Store) EnqueueMutation(ctx context.Context, op model.MutationOp, payload []byte) (int64, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mutation_queue (op_type, payload, retries, created_at)
		VALUES (?, ?, 0, ?)`,
		string(op), string(payload), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueuing mutation %s: %w", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading queue id: %w", err)
	}
	return id, nil
}

// PendingMutations returns all queued mutations in insertion order.
func (s *Store) PendingMutations(ctx context.Context) ([]model.QueueItem, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT queue_id, op_type, payload, retries, created_at
		FROM mutation_queue
		ORDER BY queue_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying mutation queue: %w", err)
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		var (
			item    model.QueueItem
			opType  string
			payload string
		)
		if err := rows.Scan(
			&item.QueueID, &opType, &payload, &item.Retries, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}
		item.Op = model.MutationOp(opType)
		item.Payload = []byte(payload)
		items = append(items, item)
	}

	return items, rows.Err()
}

// DeleteMutation removes a queued mutation by id.
func (s *Store) DeleteMutation(ctx context.Context, queueID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM mutation_queue WHERE queue_id = ?", queueID,
	)
	if err != nil {
		return fmt.Errorf("deleting queue item %d: %w", queueID, err)
	}
	return nil
}

// BumpRetry increments the retry counter for a queued mutation and
// returns the new count.
func (s *Store) BumpRetry(ctx context.Context, queueID int64) (int, error) {
	_, err := s.db.ExecContext(ctx,
		"UPDATE mutation_queue SET retries = retries + 1 WHERE queue_id = ?", queueID,
	)
	if err != nil {
		return 0, fmt.Errorf("bumping retries for queue item %d: %w", queueID, err)
	}

	var retries int
	err = s.db.GetContext(ctx, &retries,
		"SELECT retries FROM mutation_queue WHERE queue_id = ?", queueID,
	)
	if err != nil {
		return 0, fmt.Errorf("reading retries for queue item %d: %w", queueID, err)
	}
	return retries, nil
}

// PendingCount returns the number of queued mutations.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM mutation_queue")
	if err != nil {
		return 0, fmt.Errorf("counting mutation queue: %w", err)
	}
	return count, nil
}

// scanNotification scans a notification row from a sqlx.Rows result set.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		readInt   int
		createdAt time.Time
	)

	err := rows.Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type,
		&n.ReferenceType, &n.ReferenceID, &readInt, &createdAt,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	n.IsRead = readInt != 0
	n.CreatedAt = createdAt

	return n, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

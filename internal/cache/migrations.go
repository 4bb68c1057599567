package cache

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_notifications (
	id             TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	message        TEXT NOT NULL DEFAULT '',
	type           TEXT NOT NULL DEFAULT '',
	reference_type TEXT NOT NULL DEFAULT '',
	reference_id   TEXT NOT NULL DEFAULT '',
	is_read        INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL,
	PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS snapshot_meta (
	user_id   TEXT PRIMARY KEY,
	cached_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS mutation_queue (
	queue_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	op_type    TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '{}',
	retries    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_snapshot_user ON snapshot_notifications(user_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_created ON snapshot_notifications(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_snapshot_user_created
	ON snapshot_notifications(user_id, created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

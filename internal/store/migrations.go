package store

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

CREATE TABLE IF NOT EXISTS emails (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	sender     TEXT NOT NULL DEFAULT '',
	recipient  TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	timestamp  TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	thread_id  TEXT NOT NULL DEFAULT '',
	is_reply   INTEGER NOT NULL DEFAULT 0 CHECK(is_reply IN (0, 1)),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS actions (
	id          TEXT PRIMARY KEY,
	email_id    TEXT NOT NULL,
	action_type TEXT NOT NULL,
	details     TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS deleted_emails (
	message_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_thread_id ON emails(thread_id);
CREATE INDEX IF NOT EXISTS idx_emails_created_at ON emails(created_at);
CREATE INDEX IF NOT EXISTS idx_actions_email_id ON actions(email_id);

INSERT OR IGNORE INTO settings (key, value) VALUES ('auto_reply_mode', 'off');

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_emails_is_reply ON emails(is_reply);
CREATE INDEX IF NOT EXISTS idx_actions_created_at ON actions(created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ndpham/inboxtriage/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection, so the pool must
	// stay at a single connection or later queries see empty schemas.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

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

// StoreMessage inserts an email row keyed on message_id. Duplicate
// message ids are silent no-ops (INSERT OR IGNORE).
func (s *SQLiteStore) StoreMessage(ctx context.Context, e model.Email) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO emails
		(message_id, sender, recipient, subject, timestamp, body, thread_id, is_reply)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.MessageID, e.Sender, e.Recipient, e.Subject,
		e.Timestamp, e.Body, e.ThreadID, boolToInt(e.IsReply),
	)
	if err != nil {
		return fmt.Errorf("storing message %s: %w", e.MessageID, err)
	}
	return nil
}

// ListMessages returns stored emails newest-first by insertion order,
// excluding soft-deleted ids.
func (s *SQLiteStore) ListMessages(ctx context.Context, limit int) ([]model.Email, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT message_id, sender, recipient, subject, timestamp, body, thread_id, is_reply, created_at
		FROM emails
		WHERE message_id NOT IN (SELECT message_id FROM deleted_emails)
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return scanEmails(rows)
}

// GetThread returns all emails with the given thread id, oldest-first
// by insertion order.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) ([]model.Email, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT message_id, sender, recipient, subject, timestamp, body, thread_id, is_reply, created_at
		FROM emails
		WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC`, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying thread %s: %w", threadID, err)
	}
	defer rows.Close()

	return scanEmails(rows)
}

// GetMessageByID returns a single email by its message id.
func (s *SQLiteStore) GetMessageByID(ctx context.Context, messageID string) (*model.Email, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT message_id, sender, recipient, subject, timestamp, body, thread_id, is_reply, created_at
		FROM emails
		WHERE message_id = ?`, messageID,
	)

	e, err := scanEmailRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting message %s: %w", messageID, err)
	}
	return &e, nil
}

// ListMailboxMessageIDs returns the ids of all stored non-reply rows.
func (s *SQLiteStore) ListMailboxMessageIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT message_id FROM emails WHERE is_reply = 0",
	)
	if err != nil {
		return nil, fmt.Errorf("listing mailbox message ids: %w", err)
	}
	return ids, nil
}

// PurgeMessages physically deletes the given message ids in one
// transaction.
func (s *SQLiteStore) PurgeMessages(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning purge transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, "DELETE FROM emails WHERE message_id = ?")
	if err != nil {
		return fmt.Errorf("preparing purge statement: %w", err)
	}
	defer stmt.Close()

	for _, id := range messageIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("purging message %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// IsDeleted reports whether the message id is in the soft-delete set.
func (s *SQLiteStore) IsDeleted(ctx context.Context, messageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM deleted_emails WHERE message_id = ?", messageID,
	)
	if err != nil {
		return false, fmt.Errorf("checking deleted %s: %w", messageID, err)
	}
	return count > 0, nil
}

// MarkDeleted adds the message id to the soft-delete set.
func (s *SQLiteStore) MarkDeleted(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO deleted_emails (message_id) VALUES (?)", messageID,
	)
	if err != nil {
		return fmt.Errorf("marking %s deleted: %w", messageID, err)
	}
	return nil
}

// LogAction appends one row to the action log.
func (s *SQLiteStore) LogAction(
	ctx context.Context,
	emailID string,
	actionType model.ActionType,
	details string,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (id, email_id, action_type, details)
		VALUES (?, ?, ?, ?)`,
		uuid.New().String(), emailID, string(actionType), details,
	)
	if err != nil {
		return fmt.Errorf("logging action %s for %s: %w", actionType, emailID, err)
	}
	return nil
}

// GetActions returns all actions for a message, newest-first.
func (s *SQLiteStore) GetActions(ctx context.Context, emailID string) ([]model.Action, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, email_id, action_type, details, created_at
		FROM actions
		WHERE email_id = ?
		ORDER BY created_at DESC, rowid DESC`, emailID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying actions for %s: %w", emailID, err)
	}
	defer rows.Close()

	var actions []model.Action
	for rows.Next() {
		var (
			a          model.Action
			actionType string
			createdAt  time.Time
		)
		if err := rows.Scan(&a.ID, &a.EmailID, &actionType, &a.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning action row: %w", err)
		}
		a.ActionType = model.ActionType(actionType)
		a.CreatedAt = createdAt
		actions = append(actions, a)
	}

	return actions, rows.Err()
}

// IsAutoReplyEnabled reads the auto_reply_mode setting.
func (s *SQLiteStore) IsAutoReplyEnabled(ctx context.Context) (bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT value FROM settings WHERE key = 'auto_reply_mode'",
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("reading auto_reply_mode: %w", err)
	}
	return value == "on", nil
}

// SetAutoReplyMode writes the auto_reply_mode setting.
func (s *SQLiteStore) SetAutoReplyMode(ctx context.Context, enabled bool) error {
	value := "off"
	if enabled {
		value = "on"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ('auto_reply_mode', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, value,
	)
	if err != nil {
		return fmt.Errorf("setting auto_reply_mode: %w", err)
	}
	return nil
}

// scanEmails scans all email rows from a sqlx.Rows result set.
func scanEmails(rows *sqlx.Rows) ([]model.Email, error) {
	var emails []model.Email
	for rows.Next() {
		var (
			e         model.Email
			isReply   int
			createdAt time.Time
		)
		err := rows.Scan(
			&e.MessageID, &e.Sender, &e.Recipient, &e.Subject,
			&e.Timestamp, &e.Body, &e.ThreadID, &isReply, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning email row: %w", err)
		}
		e.IsReply = isReply != 0
		e.CreatedAt = createdAt
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// scanEmailRow scans a single email row from a sqlx.Row.
func scanEmailRow(row *sqlx.Row) (model.Email, error) {
	var (
		e         model.Email
		isReply   int
		createdAt time.Time
	)
	err := row.Scan(
		&e.MessageID, &e.Sender, &e.Recipient, &e.Subject,
		&e.Timestamp, &e.Body, &e.ThreadID, &isReply, &createdAt,
	)
	if err != nil {
		return model.Email{}, err
	}
	e.IsReply = isReply != 0
	e.CreatedAt = createdAt
	return e, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

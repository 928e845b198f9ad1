package store

import (
	"context"
	"errors"

	"github.com/ndpham/inboxtriage/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for emails, the action log,
// the soft-delete set, and settings.
type Store interface {
	// StoreMessage inserts an email keyed on its message id. Storing a
	// message id that already exists is a silent no-op.
	StoreMessage(ctx context.Context, e model.Email) error

	// ListMessages returns stored emails newest-first by insertion,
	// excluding soft-deleted ids, capped at limit.
	ListMessages(ctx context.Context, limit int) ([]model.Email, error)

	// GetThread returns all emails sharing threadID, oldest-first by
	// insertion.
	GetThread(ctx context.Context, threadID string) ([]model.Email, error)

	// GetMessageByID returns one email by message id, or ErrNotFound.
	GetMessageByID(ctx context.Context, messageID string) (*model.Email, error)

	// ListMailboxMessageIDs returns the ids of all stored non-reply
	// messages, the reconciliation input.
	ListMailboxMessageIDs(ctx context.Context) ([]string, error)

	// PurgeMessages physically deletes the given message ids in a
	// single transaction.
	PurgeMessages(ctx context.Context, messageIDs []string) error

	IsDeleted(ctx context.Context, messageID string) (bool, error)
	MarkDeleted(ctx context.Context, messageID string) error

	// LogAction appends one action row. Write failures propagate.
	LogAction(ctx context.Context, emailID string, actionType model.ActionType, details string) error

	// GetActions returns all actions for a message, newest-first.
	GetActions(ctx context.Context, emailID string) ([]model.Action, error)

	IsAutoReplyEnabled(ctx context.Context) (bool, error)
	SetAutoReplyMode(ctx context.Context, enabled bool) error

	Close() error
}

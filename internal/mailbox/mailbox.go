package mailbox

import (
	"context"
	"errors"
	"fmt"
)

// AuthError indicates that authentication has failed or expired for the
// mailbox provider.
type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ErrMessageNotFound is returned when the provider has no message with
// the requested id.
var ErrMessageNotFound = errors.New("mailbox message not found")

// Message is one mailbox item as seen by the provider.
type Message struct {
	// ID is the provider-assigned, globally unique message identifier.
	ID string

	// ThreadID groups messages into a conversation.
	ThreadID string

	From    string
	To      string
	Subject string

	// Date is the provider-supplied date header, passed through verbatim.
	Date string

	// Snippet is a short plain-text preview of the body.
	Snippet string

	// Body is the full plain-text body; populated only by GetMessage.
	Body string
}

// SentReply describes a reply accepted by the provider for delivery.
type SentReply struct {
	// MessageID is the provider-assigned id of the sent message, or a
	// locally generated one when the provider does not report it.
	MessageID string

	// ThreadID is the conversation the reply was threaded into.
	ThreadID string
}

// Provider defines the contract a mailbox integration must implement.
type Provider interface {
	// Name returns the provider identifier ("gmail", "imap").
	Name() string

	// ListUnread returns unread inbox messages, excluding mail sent by
	// the bot itself and ids already auto-replied.
	ListUnread(ctx context.Context, max int) ([]Message, error)

	// GetMessage returns the full detail, including body, for one
	// message id. Returns ErrMessageNotFound if the provider has no
	// such message.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// SendReply sends body to the given address, threaded to the
	// original message, and records originalID in the replied log.
	SendReply(ctx context.Context, to, subject, body, originalID string) (*SentReply, error)
}

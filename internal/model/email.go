package model

import "time"

// ActionType enumerates the side effects recorded in the action log.
type ActionType string

const (
	ActionReplyGenerated    ActionType = "reply_generated"
	ActionReplySent         ActionType = "reply_sent"
	ActionAutoReplySent     ActionType = "auto_reply_sent"
	ActionSlackNotification ActionType = "slack_notification"
	ActionEventScheduled    ActionType = "event_scheduled"
	ActionWebSearch         ActionType = "web_search"
	ActionDeleted           ActionType = "deleted"
)

// Email is one mailbox item, either pulled from the provider or
// synthesized locally as a sent reply.
type Email struct {
	// MessageID is the provider-assigned identifier and the dedup key.
	MessageID string `db:"message_id" json:"id"`

	Sender    string `db:"sender" json:"from"`
	Recipient string `db:"recipient" json:"to"`
	Subject   string `db:"subject" json:"subject"`

	// Timestamp is the provider-supplied date header, stored verbatim;
	// it is not guaranteed to be parseable.
	Timestamp string `db:"timestamp" json:"date"`

	// Body is a best-effort plain-text extraction.
	Body string `db:"body" json:"snippet"`

	// ThreadID groups messages into a conversation.
	ThreadID string `db:"thread_id" json:"threadId"`

	IsReply bool `db:"is_reply" json:"isReply"`

	// CreatedAt is assigned by the store on insert.
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Action is one append-only record of a side effect taken for a message.
type Action struct {
	ID         string     `db:"id" json:"id"`
	EmailID    string     `db:"email_id" json:"email_id"`
	ActionType ActionType `db:"action_type" json:"action_type"`
	Details    string     `db:"details" json:"details"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Analysis is the structured classification of one email body.
type Analysis struct {
	// Category is one of work, personal, newsletter, notification,
	// spam, general.
	Category string `json:"category"`

	// Priority ranges 1 (lowest) to 10 (highest).
	Priority int `json:"priority"`

	RequiresAction bool `json:"requires_action"`

	// ActionType is one of reply, schedule, search, none.
	ActionType string `json:"action_type"`

	KeyTopics []string `json:"key_topics"`
}

// NotifyThreshold is the priority above which a chat notification fires.
const NotifyThreshold = 7

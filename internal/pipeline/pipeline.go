// Package pipeline orchestrates the triage cycle: fetch unread mail,
// reconcile the local store against the mailbox, classify, notify, and
// optionally auto-reply.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ndpham/inboxtriage/internal/mailbox"
	"github.com/ndpham/inboxtriage/internal/model"
	"github.com/ndpham/inboxtriage/internal/store"
)

// Classifier analyzes emails and drafts replies.
type Classifier interface {
	Analyze(ctx context.Context, e model.Email) *model.Analysis
	GenerateReply(ctx context.Context, e model.Email, threadContext string) (string, error)
	Model() string
}

// Notifier raises high-priority alerts.
type Notifier interface {
	NotifyHighPriority(ctx context.Context, e model.Email, a model.Analysis) error
}

// Scheduler creates calendar follow-ups for emails asking for a meeting.
type Scheduler interface {
	ScheduleFollowUp(ctx context.Context, subject, sender string) (string, error)
}

// Searcher looks up background context on the web.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// SearchResult is one web search hit recorded in the action log.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Summary reports what one tick did.
type Summary struct {
	Listed   int
	Stored   int
	Notified int
	Replied  int
	Purged   int
}

// autoReplyTemplate is the canned body sent when auto-reply mode is on
// and the analysis calls for a plain reply.
const autoReplyTemplate = "Thank you for your email. I have received your " +
	"message and will get back to you as soon as possible.\n\n" +
	"This is an automated response."

// Pipeline runs the per-tick triage cycle. Scheduler and Searcher are
// optional; when nil the corresponding analysis branches fall through
// to the plain auto-reply.
type Pipeline struct {
	store      store.Store
	provider   mailbox.Provider
	classifier Classifier
	notifier   Notifier
	scheduler  Scheduler
	searcher   Searcher
	logger     *slog.Logger

	maxResults   int
	purgeMissing bool

	mu       sync.Mutex
	notified map[string]bool
}

// New creates a pipeline.
func New(
	s store.Store,
	provider mailbox.Provider,
	classifier Classifier,
	notifier Notifier,
	scheduler Scheduler,
	searcher Searcher,
	logger *slog.Logger,
	maxResults int,
	purgeMissing bool,
) *Pipeline {
	return &Pipeline{
		store:        s,
		provider:     provider,
		classifier:   classifier,
		notifier:     notifier,
		scheduler:    scheduler,
		searcher:     searcher,
		logger:       logger,
		maxResults:   maxResults,
		purgeMissing: purgeMissing,
		notified:     make(map[string]bool),
	}
}

// Tick runs one triage cycle. Errors from persistence end the tick;
// notification failures are logged and swallowed.
func (p *Pipeline) Tick(ctx context.Context) (Summary, error) {
	var sum Summary

	listed, err := p.provider.ListUnread(ctx, p.maxResults)
	if err != nil {
		return sum, fmt.Errorf("listing unread: %w", err)
	}
	sum.Listed = len(listed)

	if p.purgeMissing {
		purged, err := p.reconcile(ctx, listed)
		if err != nil {
			return sum, err
		}
		sum.Purged = purged
	}

	autoReply, err := p.store.IsAutoReplyEnabled(ctx)
	if err != nil {
		return sum, fmt.Errorf("reading auto-reply mode: %w", err)
	}

	for _, m := range listed {
		deleted, err := p.store.IsDeleted(ctx, m.ID)
		if err != nil {
			return sum, err
		}
		if deleted {
			continue
		}

		full, err := p.provider.GetMessage(ctx, m.ID)
		if err != nil {
			p.logger.Warn("fetching message detail", "id", m.ID, "error", err)
			continue
		}

		email := emailFromMessage(*full)
		if err := p.store.StoreMessage(ctx, email); err != nil {
			return sum, err
		}
		sum.Stored++

		analysis := p.classifier.Analyze(ctx, email)

		if analysis.Priority > model.NotifyThreshold && !p.wasNotified(m.ID) {
			if err := p.notify(ctx, email, *analysis); err != nil {
				p.logger.Warn("slack notification failed", "id", m.ID, "error", err)
			} else {
				p.markNotified(m.ID)
				sum.Notified++
			}
		}

		if autoReply {
			replied, err := p.autoRespond(ctx, email, *analysis)
			if err != nil {
				return sum, err
			}
			if replied {
				sum.Replied++
			}
		}
	}

	return sum, nil
}

// reconcile purges locally stored mailbox rows that are no longer in
// the live listing and forgets their notified state.
func (p *Pipeline) reconcile(ctx context.Context, listed []mailbox.Message) (int, error) {
	stored, err := p.store.ListMailboxMessageIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing stored ids: %w", err)
	}

	live := make(map[string]bool, len(listed))
	for _, m := range listed {
		live[m.ID] = true
	}

	var missing []string
	for _, id := range stored {
		if !live[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	if err := p.store.PurgeMessages(ctx, missing); err != nil {
		return 0, fmt.Errorf("purging missing messages: %w", err)
	}

	p.mu.Lock()
	for _, id := range missing {
		delete(p.notified, id)
	}
	p.mu.Unlock()

	return len(missing), nil
}

// notify posts the Slack alert and logs the action.
func (p *Pipeline) notify(ctx context.Context, e model.Email, a model.Analysis) error {
	if err := p.notifier.NotifyHighPriority(ctx, e, a); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]any{
		"priority": a.Priority,
		"category": a.Category,
	})
	if err := p.store.LogAction(ctx, e.MessageID, model.ActionSlackNotification, string(details)); err != nil {
		p.logger.Warn("logging notification action", "id", e.MessageID, "error", err)
	}
	return nil
}

// autoRespond handles one email in auto-reply mode, branching on the
// analysis action type. Returns whether a reply email was sent.
func (p *Pipeline) autoRespond(ctx context.Context, e model.Email, a model.Analysis) (bool, error) {
	switch {
	case a.ActionType == "schedule" && p.scheduler != nil:
		link, err := p.scheduler.ScheduleFollowUp(ctx, e.Subject, e.Sender)
		if err != nil {
			p.logger.Warn("scheduling follow-up", "id", e.MessageID, "error", err)
			return false, nil
		}
		details, _ := json.Marshal(map[string]any{"event_link": link})
		return false, p.store.LogAction(ctx, e.MessageID, model.ActionEventScheduled, string(details))

	case a.ActionType == "search" && p.searcher != nil:
		results, err := p.searcher.Search(ctx, e.Subject)
		if err != nil {
			p.logger.Warn("web search", "id", e.MessageID, "error", err)
			return false, nil
		}
		details, _ := json.Marshal(map[string]any{"query": e.Subject, "results": results})
		return false, p.store.LogAction(ctx, e.MessageID, model.ActionWebSearch, string(details))
	}

	subject := e.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	sent, err := p.provider.SendReply(ctx, e.Sender, subject, autoReplyTemplate, e.MessageID)
	if err != nil {
		p.logger.Warn("auto-reply send failed", "id", e.MessageID, "error", err)
		return false, nil
	}

	reply := model.Email{
		MessageID: sent.MessageID,
		Sender:    e.Recipient,
		Recipient: e.Sender,
		Subject:   subject,
		Body:      autoReplyTemplate,
		ThreadID:  sent.ThreadID,
		IsReply:   true,
	}
	if err := p.store.StoreMessage(ctx, reply); err != nil {
		return false, err
	}

	details, _ := json.Marshal(map[string]any{
		"to":          e.Sender,
		"subject":     subject,
		"body_length": len(autoReplyTemplate),
	})
	if err := p.store.LogAction(ctx, e.MessageID, model.ActionAutoReplySent, string(details)); err != nil {
		return true, err
	}

	return true, nil
}

// ForgetNotified drops an id from the notified-set, used when a message
// is purged outside the reconcile path.
func (p *Pipeline) ForgetNotified(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.notified, id)
}

func (p *Pipeline) wasNotified(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notified[id]
}

func (p *Pipeline) markNotified(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notified[id] = true
}

// emailFromMessage converts a provider message into a store row.
func emailFromMessage(m mailbox.Message) model.Email {
	return model.Email{
		MessageID: m.ID,
		Sender:    m.From,
		Recipient: m.To,
		Subject:   m.Subject,
		Timestamp: m.Date,
		Body:      m.Body,
		ThreadID:  m.ThreadID,
		IsReply:   false,
	}
}

// Package triage composes the store, mailbox provider, classifier, and
// notifier into the operations exposed over HTTP.
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ndpham/inboxtriage/internal/mailbox"
	"github.com/ndpham/inboxtriage/internal/model"
	"github.com/ndpham/inboxtriage/internal/pipeline"
	"github.com/ndpham/inboxtriage/internal/store"
)

// Ticker runs one triage cycle on demand.
type Ticker interface {
	Tick(ctx context.Context) (pipeline.Summary, error)
}

// Service implements the query and action operations.
type Service struct {
	store      store.Store
	provider   mailbox.Provider
	classifier pipeline.Classifier
	notifier   pipeline.Notifier
	ticker     Ticker
	logger     *slog.Logger
}

// NewService creates the service layer.
func NewService(
	s store.Store,
	provider mailbox.Provider,
	classifier pipeline.Classifier,
	notifier pipeline.Notifier,
	ticker Ticker,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      s,
		provider:   provider,
		classifier: classifier,
		notifier:   notifier,
		ticker:     ticker,
		logger:     logger,
	}
}

// ProviderName returns the active mailbox provider's identifier.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// CheckStorage verifies the database is reachable.
func (s *Service) CheckStorage(ctx context.Context) error {
	if _, err := s.store.IsAutoReplyEnabled(ctx); err != nil {
		return &StorageError{Op: "health check", Err: err}
	}
	return nil
}

// FetchEmails runs a triage cycle against the mailbox and returns the
// stored, non-deleted emails newest-first.
func (s *Service) FetchEmails(ctx context.Context, limit int) ([]model.Email, error) {
	if _, err := s.ticker.Tick(ctx); err != nil {
		return nil, &UpstreamError{Op: "fetching mailbox", Err: err}
	}

	emails, err := s.store.ListMessages(ctx, limit)
	if err != nil {
		return nil, &StorageError{Op: "listing emails", Err: err}
	}
	if len(emails) == 0 {
		return nil, &NotFoundError{Resource: "emails", ID: "inbox"}
	}

	return emails, nil
}

// GetEmail returns a single stored email. Soft-deleted ids are reported
// as not found.
func (s *Service) GetEmail(ctx context.Context, id string) (*model.Email, error) {
	if id == "" {
		return nil, &ValidationError{Message: "email id is required"}
	}

	deleted, err := s.store.IsDeleted(ctx, id)
	if err != nil {
		return nil, &StorageError{Op: "checking deletion", Err: err}
	}
	if deleted {
		return nil, &NotFoundError{Resource: "email", ID: id}
	}

	email, err := s.store.GetMessageByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "email", ID: id}
		}
		return nil, &StorageError{Op: "getting email", Err: err}
	}

	return email, nil
}

// DeleteEmail adds the id to the soft-delete set and logs the action.
// Deleting an unknown or already-deleted id succeeds.
func (s *Service) DeleteEmail(ctx context.Context, id string) error {
	if id == "" {
		return &ValidationError{Message: "email id is required"}
	}

	if err := s.store.MarkDeleted(ctx, id); err != nil {
		return &StorageError{Op: "marking deleted", Err: err}
	}

	if err := s.store.LogAction(ctx, id, model.ActionDeleted, "{}"); err != nil {
		return &StorageError{Op: "logging deletion", Err: err}
	}

	return nil
}

// ReplyDraft is the result of a reply generation.
type ReplyDraft struct {
	Reply       string
	Analysis    model.Analysis
	Sender      string
	Subject     string
	ThreadCount int
}

// GenerateReply drafts a reply for a stored email using its thread as
// context, analyzes the email, logs the generation, and notifies Slack
// when the priority crosses the threshold.
func (s *Service) GenerateReply(ctx context.Context, id string) (*ReplyDraft, error) {
	email, err := s.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}

	thread, err := s.store.GetThread(ctx, email.ThreadID)
	if err != nil {
		return nil, &StorageError{Op: "getting thread", Err: err}
	}

	threadContext := buildThreadContext(thread)

	reply, err := s.classifier.GenerateReply(ctx, *email, threadContext)
	if err != nil {
		return nil, &UpstreamError{Op: "generating reply", Err: err}
	}

	analysis := s.classifier.Analyze(ctx, *email)

	details, _ := json.Marshal(map[string]any{
		"model":          s.classifier.Model(),
		"context_length": len(threadContext),
	})
	if err := s.store.LogAction(ctx, id, model.ActionReplyGenerated, string(details)); err != nil {
		return nil, &StorageError{Op: "logging reply generation", Err: err}
	}

	if analysis.Priority > model.NotifyThreshold {
		if err := s.notifier.NotifyHighPriority(ctx, *email, *analysis); err != nil {
			s.logger.Warn("slack notification failed", "id", id, "error", err)
		} else {
			notifyDetails, _ := json.Marshal(map[string]any{
				"priority": analysis.Priority,
				"category": analysis.Category,
			})
			if err := s.store.LogAction(
				ctx, id, model.ActionSlackNotification, string(notifyDetails),
			); err != nil {
				s.logger.Warn("logging notification action", "id", id, "error", err)
			}
		}
	}

	return &ReplyDraft{
		Reply:       reply,
		Analysis:    *analysis,
		Sender:      email.Sender,
		Subject:     email.Subject,
		ThreadCount: len(thread),
	}, nil
}

// SendReply sends a reply via the mailbox provider, stores the sent
// message as a reply row, and logs the action.
func (s *Service) SendReply(ctx context.Context, emailID, to, subject, body string) error {
	switch {
	case emailID == "":
		return &ValidationError{Message: "email_id is required"}
	case to == "":
		return &ValidationError{Message: "to is required"}
	case subject == "":
		return &ValidationError{Message: "subject is required"}
	case body == "":
		return &ValidationError{Message: "body is required"}
	}

	sent, err := s.provider.SendReply(ctx, to, subject, body, emailID)
	if err != nil {
		return &UpstreamError{Op: "sending reply", Err: err}
	}

	reply := model.Email{
		MessageID: sent.MessageID,
		Sender:    "me",
		Recipient: to,
		Subject:   subject,
		Body:      body,
		ThreadID:  sent.ThreadID,
		IsReply:   true,
	}
	if err := s.store.StoreMessage(ctx, reply); err != nil {
		return &StorageError{Op: "storing reply", Err: err}
	}

	details, _ := json.Marshal(map[string]any{
		"to":          to,
		"subject":     subject,
		"body_length": len(body),
	})
	if err := s.store.LogAction(ctx, emailID, model.ActionReplySent, string(details)); err != nil {
		return &StorageError{Op: "logging reply", Err: err}
	}

	return nil
}

// Actions returns the action log for a message, newest-first. Soft
// deletion does not hide actions.
func (s *Service) Actions(ctx context.Context, id string) ([]model.Action, error) {
	if id == "" {
		return nil, &ValidationError{Message: "email id is required"}
	}

	actions, err := s.store.GetActions(ctx, id)
	if err != nil {
		return nil, &StorageError{Op: "listing actions", Err: err}
	}
	return actions, nil
}

// AutoReplyEnabled reads the persisted auto-reply mode.
func (s *Service) AutoReplyEnabled(ctx context.Context) (bool, error) {
	enabled, err := s.store.IsAutoReplyEnabled(ctx)
	if err != nil {
		return false, &StorageError{Op: "reading auto-reply mode", Err: err}
	}
	return enabled, nil
}

// ToggleAutoReply flips the persisted auto-reply mode and returns the
// new state.
func (s *Service) ToggleAutoReply(ctx context.Context) (bool, error) {
	enabled, err := s.store.IsAutoReplyEnabled(ctx)
	if err != nil {
		return false, &StorageError{Op: "reading auto-reply mode", Err: err}
	}

	if err := s.store.SetAutoReplyMode(ctx, !enabled); err != nil {
		return false, &StorageError{Op: "writing auto-reply mode", Err: err}
	}

	return !enabled, nil
}

// buildThreadContext renders prior thread messages for the reply
// prompt.
func buildThreadContext(thread []model.Email) string {
	parts := make([]string, 0, len(thread))
	for _, m := range thread {
		parts = append(parts, fmt.Sprintf(
			"From: %s\nSubject: %s\n%s", m.Sender, m.Subject, m.Body,
		))
	}
	return strings.Join(parts, "\n---\n")
}

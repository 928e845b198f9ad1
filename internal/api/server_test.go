package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndpham/inboxtriage/internal/mailbox"
	"github.com/ndpham/inboxtriage/internal/model"
	"github.com/ndpham/inboxtriage/internal/pipeline"
	"github.com/ndpham/inboxtriage/internal/store"
	"github.com/ndpham/inboxtriage/internal/triage"
	"github.com/ndpham/inboxtriage/tests/testutil"
)

type fakeProvider struct {
	messages []mailbox.Message
	sent     []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) ListUnread(_ context.Context, _ int) ([]mailbox.Message, error) {
	return f.messages, nil
}

func (f *fakeProvider) GetMessage(_ context.Context, id string) (*mailbox.Message, error) {
	for _, m := range f.messages {
		if m.ID == id {
			full := m
			return &full, nil
		}
	}
	return nil, mailbox.ErrMessageNotFound
}

func (f *fakeProvider) SendReply(_ context.Context, to, _, _, originalID string) (*mailbox.SentReply, error) {
	f.sent = append(f.sent, originalID)
	return &mailbox.SentReply{MessageID: "reply-to-" + originalID, ThreadID: "thread-x"}, nil
}

type fakeClassifier struct{ priority int }

func (f *fakeClassifier) Analyze(_ context.Context, _ model.Email) *model.Analysis {
	return &model.Analysis{Category: "work", Priority: f.priority, ActionType: "reply"}
}

func (f *fakeClassifier) GenerateReply(_ context.Context, _ model.Email, _ string) (string, error) {
	return "drafted reply", nil
}

func (f *fakeClassifier) Model() string { return "fake-model" }

type fakeNotifier struct{ notified []string }

func (f *fakeNotifier) NotifyHighPriority(_ context.Context, e model.Email, _ model.Analysis) error {
	f.notified = append(f.notified, e.MessageID)
	return nil
}

type noopTicker struct{ ticks int }

func (f *noopTicker) Tick(_ context.Context) (pipeline.Summary, error) {
	f.ticks++
	return pipeline.Summary{}, nil
}

type fixture struct {
	store    *store.SQLiteStore
	provider *fakeProvider
	notifier *fakeNotifier
	ticker   *noopTicker
	cooldown *Cooldown
	server   *Server
}

func newFixture(t *testing.T, priority int) *fixture {
	t.Helper()

	s := testutil.NewTestStore(t)
	provider := &fakeProvider{}
	notifier := &fakeNotifier{}
	ticker := &noopTicker{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := triage.NewService(s, provider, &fakeClassifier{priority: priority}, notifier, ticker, logger)
	cooldown := NewCooldown(60 * time.Second)

	return &fixture{
		store:    s,
		provider: provider,
		notifier: notifier,
		ticker:   ticker,
		cooldown: cooldown,
		server:   NewServer(service, cooldown, logger),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func seedEmail(t *testing.T, s *store.SQLiteStore, id string) {
	t.Helper()
	require.NoError(t, s.StoreMessage(context.Background(), model.Email{
		MessageID: id,
		Sender:    "alice@example.com",
		Recipient: "bot@example.com",
		Subject:   "Subject " + id,
		Timestamp: "Mon, 12 Jan 2026 09:30:00 +0000",
		Body:      "body",
		ThreadID:  "thread-1",
	}))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 5)

	rec, payload := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "connected", payload["database"])
	assert.Equal(t, "fake", payload["provider_connected"])
}

func TestFetchEmailsCooldown(t *testing.T) {
	f := newFixture(t, 5)
	seedEmail(t, f.store, "m1")

	now := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)
	f.cooldown.SetNow(func() time.Time { return now })

	rec, payload := f.do(t, http.MethodGet, "/api/emails", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, float64(1), payload["count"])
	assert.Equal(t, 1, f.ticker.ticks)

	// Second request inside the window is rejected with a positive
	// retry_after and no tick.
	now = now.Add(20 * time.Second)
	rec, payload = f.do(t, http.MethodGet, "/api/emails", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	retryAfter, ok := payload["retry_after"].(float64)
	require.True(t, ok)
	assert.Equal(t, float64(40), retryAfter)
	assert.Equal(t, 1, f.ticker.ticks)

	// After the window expires the fetch proceeds again.
	now = now.Add(41 * time.Second)
	rec, _ = f.do(t, http.MethodGet, "/api/emails", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.ticker.ticks)
}

func TestFetchEmailsEmptyInboxIs404(t *testing.T) {
	f := newFixture(t, 5)

	rec, payload := f.do(t, http.MethodGet, "/api/emails", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, payload["success"])
}

func TestGetEmail(t *testing.T) {
	f := newFixture(t, 5)
	seedEmail(t, f.store, "m1")

	rec, payload := f.do(t, http.MethodGet, "/api/emails/m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	email, ok := payload["email"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m1", email["id"])
	assert.Equal(t, "alice@example.com", email["from"])

	rec, _ = f.do(t, http.MethodGet, "/api/emails/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteEmailHidesItButKeepsActions(t *testing.T) {
	f := newFixture(t, 5)
	seedEmail(t, f.store, "m1")

	rec, payload := f.do(t, http.MethodPost, "/api/emails/m1/delete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["success"])

	rec, _ = f.do(t, http.MethodGet, "/api/emails/m1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, payload = f.do(t, http.MethodGet, "/api/actions/m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	actions, ok := payload["actions"].([]any)
	require.True(t, ok)
	require.Len(t, actions, 1)
	action := actions[0].(map[string]any)
	assert.Equal(t, "deleted", action["action_type"])
}

func TestGenerateReply(t *testing.T) {
	f := newFixture(t, 9)
	seedEmail(t, f.store, "m1")

	rec, payload := f.do(t, http.MethodPost, "/api/reply/generate", `{"email_id":"m1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "drafted reply", payload["reply"])
	assert.Equal(t, "alice@example.com", payload["sender"])
	assert.Equal(t, float64(1), payload["thread_count"])

	analysis, ok := payload["analysis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(9), analysis["priority"])

	// Priority 9 crosses the threshold: Slack fired and both actions
	// were logged.
	assert.Equal(t, []string{"m1"}, f.notifier.notified)

	actions, err := f.store.GetActions(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, model.ActionSlackNotification, actions[0].ActionType)
	assert.Equal(t, model.ActionReplyGenerated, actions[1].ActionType)
}

func TestGenerateReplyValidation(t *testing.T) {
	f := newFixture(t, 5)

	rec, _ := f.do(t, http.MethodPost, "/api/reply/generate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/reply/generate", `{"email_id":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendReply(t *testing.T) {
	f := newFixture(t, 5)
	seedEmail(t, f.store, "m1")

	body := `{"email_id":"m1","to":"alice@example.com","subject":"Re: Subject m1","body":"On it."}`
	rec, payload := f.do(t, http.MethodPost, "/api/reply/send", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, []string{"m1"}, f.provider.sent)

	reply, err := f.store.GetMessageByID(context.Background(), "reply-to-m1")
	require.NoError(t, err)
	assert.True(t, reply.IsReply)

	actions, err := f.store.GetActions(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionReplySent, actions[0].ActionType)
}

func TestSendReplyValidation(t *testing.T) {
	f := newFixture(t, 5)

	rec, payload := f.do(t, http.MethodPost, "/api/reply/send", `{"email_id":"m1","to":"alice@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, payload["success"])
}

func TestAutoReplyToggle(t *testing.T) {
	f := newFixture(t, 5)

	rec, payload := f.do(t, http.MethodGet, "/auto-reply/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, payload["auto_reply_enabled"])

	rec, payload = f.do(t, http.MethodPost, "/auto-reply/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["auto_reply_enabled"])
	assert.Equal(t, "auto-reply enabled", payload["message"])

	rec, payload = f.do(t, http.MethodGet, "/auto-reply/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["auto_reply_enabled"])

	rec, payload = f.do(t, http.MethodPost, "/auto-reply/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, payload["auto_reply_enabled"])
}

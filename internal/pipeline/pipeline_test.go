package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndpham/inboxtriage/internal/mailbox"
	"github.com/ndpham/inboxtriage/internal/model"
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
			full.Body = "full body of " + id
			return &full, nil
		}
	}
	return nil, mailbox.ErrMessageNotFound
}

func (f *fakeProvider) SendReply(_ context.Context, to, _, _, originalID string) (*mailbox.SentReply, error) {
	f.sent = append(f.sent, originalID)
	return &mailbox.SentReply{
		MessageID: "reply-to-" + originalID,
		ThreadID:  "thread-" + originalID,
	}, nil
}

type fakeClassifier struct {
	priority   int
	actionType string
}

func (f *fakeClassifier) Analyze(_ context.Context, _ model.Email) *model.Analysis {
	return &model.Analysis{
		Category:   "work",
		Priority:   f.priority,
		ActionType: f.actionType,
	}
}

func (f *fakeClassifier) GenerateReply(_ context.Context, _ model.Email, _ string) (string, error) {
	return "generated reply", nil
}

func (f *fakeClassifier) Model() string { return "fake-model" }

type fakeNotifier struct {
	notified []string
	fail     bool
}

func (f *fakeNotifier) NotifyHighPriority(_ context.Context, e model.Email, _ model.Analysis) error {
	if f.fail {
		return fmt.Errorf("slack unavailable")
	}
	f.notified = append(f.notified, e.MessageID)
	return nil
}

type fakeScheduler struct{ scheduled []string }

func (f *fakeScheduler) ScheduleFollowUp(_ context.Context, subject, _ string) (string, error) {
	f.scheduled = append(f.scheduled, subject)
	return "https://calendar.example.com/event/1", nil
}

func message(id string) mailbox.Message {
	return mailbox.Message{
		ID:       id,
		ThreadID: "thread-" + id,
		From:     "alice@example.com",
		To:       "bot@example.com",
		Subject:  "Subject " + id,
		Date:     "Mon, 12 Jan 2026 09:30:00 +0000",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickNotifiesOncePerMessage(t *testing.T) {
	s := testutil.NewTestStore(t)
	provider := &fakeProvider{messages: []mailbox.Message{message("m1"), message("m2")}}
	notifier := &fakeNotifier{}

	p := New(s, provider, &fakeClassifier{priority: 9}, notifier, nil, nil, testLogger(), 25, true)
	ctx := context.Background()

	sum, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Stored)
	assert.Equal(t, 2, sum.Notified)
	assert.ElementsMatch(t, []string{"m1", "m2"}, notifier.notified)

	// Unchanged mailbox state: no new rows, no second notification.
	sum, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Notified)
	assert.Len(t, notifier.notified, 2)

	emails, err := s.ListMessages(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, emails, 2)

	actions, err := s.GetActions(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionSlackNotification, actions[0].ActionType)
}

func TestTickLowPriorityDoesNotNotify(t *testing.T) {
	s := testutil.NewTestStore(t)
	provider := &fakeProvider{messages: []mailbox.Message{message("m1")}}
	notifier := &fakeNotifier{}

	p := New(s, provider, &fakeClassifier{priority: 5}, notifier, nil, nil, testLogger(), 25, true)

	sum, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Notified)
	assert.Empty(t, notifier.notified)
}

func TestNotifyFailureIsSwallowedAndRetried(t *testing.T) {
	s := testutil.NewTestStore(t)
	provider := &fakeProvider{messages: []mailbox.Message{message("m1")}}
	notifier := &fakeNotifier{fail: true}

	p := New(s, provider, &fakeClassifier{priority: 9}, notifier, nil, nil, testLogger(), 25, true)
	ctx := context.Background()

	sum, err := p.Tick(ctx)
	require.NoError(t, err, "notification failure must not fail the tick")
	assert.Equal(t, 0, sum.Notified)

	// Once Slack recovers the next tick notifies, since the failed
	// attempt was never marked.
	notifier.fail = false
	sum, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Notified)
}

func TestReconcilePurgesMissingAndForgetsNotified(t *testing.T) {
	s := testutil.NewTestStore(t)
	provider := &fakeProvider{messages: []mailbox.Message{message("m1"), message("m2")}}
	notifier := &fakeNotifier{}

	p := New(s, provider, &fakeClassifier{priority: 9}, notifier, nil, nil, testLogger(), 25, true)
	ctx := context.Background()

	_, err := p.Tick(ctx)
	require.NoError(t, err)

	// m1 disappears from the mailbox.
	provider.messages = []mailbox.Message{message("m2")}

	sum, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Purged)

	ids, err := s.ListMailboxMessageIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids)

	// m1 comes back: it is new again and notifies again.
	provider.messages = []mailbox.Message{message("m1"), message("m2")}
	sum, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Notified)
}

func TestAutoReplySendsAndStoresReplyRow(t *testing.T) {
	s := testutil.NewTestStore(t)
	provider := &fakeProvider{messages: []mailbox.Message{message("m1")}}

	p := New(s, provider, &fakeClassifier{priority: 5, actionType: "reply"}, &fakeNotifier{}, nil, nil, testLogger(), 25, true)
	ctx := context.Background()

	require.NoError(t, s.SetAutoReplyMode(ctx, true))

	sum, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Replied)
	assert.Equal(t, []string{"m1"}, provider.sent)

	reply, err := s.GetMessageByID(ctx, "reply-to-m1")
	require.NoError(t, err)
	assert.True(t, reply.IsReply)
	assert.Equal(t, "alice@example.com", reply.Recipient)
	assert.Equal(t, "Re: Subject m1", reply.Subject)

	actions, err := s.GetActions(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionAutoReplySent, actions[0].ActionType)
}

func TestAutoReplyScheduleBranch(t *testing.T) {
	s := testutil.NewTestStore(t)
	provider := &fakeProvider{messages: []mailbox.Message{message("m1")}}
	scheduler := &fakeScheduler{}

	p := New(s, provider, &fakeClassifier{priority: 5, actionType: "schedule"}, &fakeNotifier{}, scheduler, nil, testLogger(), 25, true)
	ctx := context.Background()

	require.NoError(t, s.SetAutoReplyMode(ctx, true))

	sum, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Replied, "schedule branch does not mail a reply")
	assert.Empty(t, provider.sent)
	assert.Equal(t, []string{"Subject m1"}, scheduler.scheduled)

	actions, err := s.GetActions(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionEventScheduled, actions[0].ActionType)
	assert.Contains(t, actions[0].Details, "calendar.example.com")
}

func TestAutoReplySkipsDeletedMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	provider := &fakeProvider{messages: []mailbox.Message{message("m1")}}

	p := New(s, provider, &fakeClassifier{priority: 5}, &fakeNotifier{}, nil, nil, testLogger(), 25, true)
	ctx := context.Background()

	require.NoError(t, s.SetAutoReplyMode(ctx, true))
	require.NoError(t, s.MarkDeleted(ctx, "m1"))

	sum, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Stored)
	assert.Empty(t, provider.sent)
}

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndpham/inboxtriage/internal/model"
	"github.com/ndpham/inboxtriage/internal/store"
	"github.com/ndpham/inboxtriage/tests/testutil"
)

func sampleEmail(id string) model.Email {
	return model.Email{
		MessageID: id,
		Sender:    "alice@example.com",
		Recipient: "bot@example.com",
		Subject:   "Quarterly numbers",
		Timestamp: "Mon, 12 Jan 2026 09:30:00 +0000",
		Body:      "Please see attached.",
		ThreadID:  "thread-1",
	}
}

func TestStoreMessageIdempotent(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m1")))
	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m1")))
	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m1")))

	emails, err := s.ListMessages(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, emails, 1)
	assert.Equal(t, "m1", emails[0].MessageID)
}

func TestSoftDeleteHidesFromReads(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m1")))
	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m2")))

	require.NoError(t, s.MarkDeleted(ctx, "m1"))

	emails, err := s.ListMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "m2", emails[0].MessageID)

	deleted, err := s.IsDeleted(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, deleted)

	// Deleting twice is a no-op.
	require.NoError(t, s.MarkDeleted(ctx, "m1"))
}

func TestGetMessageByIDNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetMessageByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetThreadOldestFirst(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	m1 := sampleEmail("m1")
	m2 := sampleEmail("m2")
	m2.Subject = "Re: Quarterly numbers"
	m2.IsReply = true

	other := sampleEmail("m3")
	other.ThreadID = "thread-2"

	require.NoError(t, s.StoreMessage(ctx, m1))
	require.NoError(t, s.StoreMessage(ctx, m2))
	require.NoError(t, s.StoreMessage(ctx, other))

	thread, err := s.GetThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "m1", thread[0].MessageID)
	assert.Equal(t, "m2", thread[1].MessageID)
	assert.True(t, thread[1].IsReply)
}

func TestListMessagesNewestFirst(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m1")))
	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m2")))
	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m3")))

	emails, err := s.ListMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, emails, 3)
	assert.Equal(t, "m3", emails[0].MessageID)
	assert.Equal(t, "m1", emails[2].MessageID)
}

func TestPurgeMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m1")))
	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m2")))

	reply := sampleEmail("r1")
	reply.IsReply = true
	require.NoError(t, s.StoreMessage(ctx, reply))

	ids, err := s.ListMailboxMessageIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, ids, "reply rows are not mailbox messages")

	require.NoError(t, s.PurgeMessages(ctx, []string{"m1"}))

	ids, err = s.ListMailboxMessageIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids)

	// Purging nothing succeeds.
	require.NoError(t, s.PurgeMessages(ctx, nil))
}

func TestActionsNewestFirstAndSurviveDelete(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreMessage(ctx, sampleEmail("m1")))
	require.NoError(t, s.LogAction(ctx, "m1", model.ActionReplyGenerated, `{"model":"llama3-8b-8192"}`))
	require.NoError(t, s.LogAction(ctx, "m1", model.ActionReplySent, `{"to":"alice@example.com"}`))
	require.NoError(t, s.MarkDeleted(ctx, "m1"))
	require.NoError(t, s.LogAction(ctx, "m1", model.ActionDeleted, "{}"))

	actions, err := s.GetActions(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, model.ActionDeleted, actions[0].ActionType)
	assert.Equal(t, model.ActionReplySent, actions[1].ActionType)
	assert.Equal(t, model.ActionReplyGenerated, actions[2].ActionType)
}

func TestAutoReplyMode(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	enabled, err := s.IsAutoReplyEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled, "seeded off")

	require.NoError(t, s.SetAutoReplyMode(ctx, true))
	enabled, err = s.IsAutoReplyEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, s.SetAutoReplyMode(ctx, false))
	enabled, err = s.IsAutoReplyEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

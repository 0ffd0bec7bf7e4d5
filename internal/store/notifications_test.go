// ABOUTME: Tests for message sends and the notification fan-out engine
// ABOUTME: Covers fan-out invariants, read/flag/delete state, and unread counts

package store

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zombiesouplab/chat/internal/entity"
)

// seedConversation creates a conversation with the given refs and returns it
// with the participation rows keyed by ref string
func seedConversation(t *testing.T, s *SQLiteStore, refs ...entity.Ref) (*Conversation, map[string]*Participation) {
	t.Helper()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, nil, refs)
	require.NoError(t, err)

	participations := make(map[string]*Participation, len(refs))
	for _, ref := range refs {
		p, err := s.GetParticipation(ctx, conv.ID, ref)
		require.NoError(t, err)
		participations[ref.String()] = p
	}
	return conv, participations
}

func TestSendMessage_FansOutToAllParticipants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := entity.NewRef("user", "1")
	u2 := entity.NewRef("user", "2")
	u3 := entity.NewRef("user", "3")
	conv, parts := seedConversation(t, s, u1, u2, u3)

	msg, err := s.SendMessage(ctx, conv.ID, parts[u1.String()].ID, "hello everyone", MessageTypeText)
	require.NoError(t, err)
	require.NotZero(t, msg.ID)

	// Exactly one notification per participant, exactly one is_sender
	senders := 0
	for _, ref := range []entity.Ref{u1, u2, u3} {
		n, err := s.GetNotification(ctx, msg.ID, ref)
		require.NoError(t, err, "participant %s should have a notification", ref)
		assert.Equal(t, msg.ID, n.MessageID)
		assert.Equal(t, conv.ID, n.ConversationID)
		if n.IsSender {
			senders++
			assert.True(t, n.IsSeen, "sender notification must be pre-seen")
			assert.True(t, n.Messageable.Equal(u1))
		} else {
			assert.False(t, n.IsSeen, "recipient notifications start unseen")
		}
		assert.False(t, n.Flagged)
		assert.Nil(t, n.DeletedAt)
	}
	assert.Equal(t, 1, senders, "exactly one notification carries is_sender")
}

func TestSendMessage_AuthorMustParticipate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := entity.NewRef("user", "1")
	conv1, parts1 := seedConversation(t, s, u1)
	conv2, _ := seedConversation(t, s, entity.NewRef("user", "2"))

	// Unknown participation
	_, err := s.SendMessage(ctx, conv1.ID, 9999, "nope", MessageTypeText)
	assert.ErrorIs(t, err, ErrNotFound)

	// Participation from a different conversation
	_, err = s.SendMessage(ctx, conv2.ID, parts1[u1.String()].ID, "nope", MessageTypeText)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessage_TouchesConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := entity.NewRef("user", "1")
	conv, parts := seedConversation(t, s, u1)

	before, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)

	_, err = s.SendMessage(ctx, conv.ID, parts[u1.String()].ID, "bump", MessageTypeText)
	require.NoError(t, err)

	after, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))
}

func TestMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := entity.NewRef("user", "1")
	u2 := entity.NewRef("user", "2")
	conv, parts := seedConversation(t, s, u1, u2)

	msg, err := s.SendMessage(ctx, conv.ID, parts[u1.String()].ID, "Hello", MessageTypeText)
	require.NoError(t, err)

	// After a send the recipient has 1 unread, the sender 0
	count, err := s.UnreadCount(ctx, u2)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.UnreadCount(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, s.MarkRead(ctx, msg.ID, u2))

	count, err = s.UnreadCount(ctx, u2)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	n, err := s.GetNotification(ctx, msg.ID, u2)
	require.NoError(t, err)
	assert.True(t, n.IsSeen)
}

func TestMarkRead_NoNotification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := entity.NewRef("user", "1")
	late := entity.NewRef("user", "late")
	conv, parts := seedConversation(t, s, u1)

	msg, err := s.SendMessage(ctx, conv.ID, parts[u1.String()].ID, "before you joined", MessageTypeText)
	require.NoError(t, err)

	// late joins after the message was sent, so no notification exists
	_, err = s.AddParticipants(ctx, conv.ID, []entity.Ref{late})
	require.NoError(t, err)

	err = s.MarkRead(ctx, msg.ID, late)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestMarkAllRead_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := entity.NewRef("user", "1")
	u2 := entity.NewRef("user", "2")
	conv, parts := seedConversation(t, s, u1, u2)

	for i := 0; i < 3; i++ {
		_, err := s.SendMessage(ctx, conv.ID, parts[u1.String()].ID, "msg", MessageTypeText)
		require.NoError(t, err)
	}

	count, err := s.ConversationUnreadCount(ctx, conv.ID, u2)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	require.NoError(t, s.MarkAllRead(ctx, conv.ID, u2))
	count, err = s.ConversationUnreadCount(ctx, conv.ID, u2)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Reapplying has no further effect
	require.NoError(t, s.MarkAllRead(ctx, conv.ID, u2))
	count, err = s.ConversationUnreadCount(ctx, conv.ID, u2)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestToggleFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := entity.NewRef("user", "1")
	u2 := entity.NewRef("user", "2")
	conv, parts := seedConversation(t, s, u1, u2)

	msg, err := s.SendMessage(ctx, conv.ID, parts[u1.String()].ID, "flag me", MessageTypeText)
	require.NoError(t, err)

	flagged, err := s.ToggleFlag(ctx, msg.ID, u2)
	require.NoError(t, err)
	assert.True(t, flagged)

	// Only u2's row is flagged
	flagged, err = s.IsFlagged(ctx, msg.ID, u1)
	require.NoError(t, err)
	assert.False(t, flagged)

	flagged, err = s.ToggleFlag(ctx, msg.ID, u2)
	require.NoError(t, err)
	assert.False(t, flagged)

	_, err = s.ToggleFlag(ctx, 9999, u2)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestDeleteMessageFor_IndependentPerParticipant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := entity.NewRef("user", "1")
	u2 := entity.NewRef("user", "2")
	conv, parts := seedConversation(t, s, u1, u2)

	msg, err := s.SendMessage(ctx, conv.ID, parts[u1.String()].ID, "now you see me", MessageTypeText)
	require.NoError(t, err)

	require.NoError(t, s.DeleteMessageFor(ctx, msg.ID, u2))

	// u2's view is tombstoned
	n, err := s.GetNotification(ctx, msg.ID, u2)
	require.NoError(t, err)
	require.NotNil(t, n.DeletedAt)

	// u1's view is untouched, and the message itself still exists
	n, err = s.GetNotification(ctx, msg.ID, u1)
	require.NoError(t, err)
	assert.Nil(t, n.DeletedAt)

	_, err = s.GetMessage(ctx, msg.ID)
	assert.NoError(t, err)

	err = s.DeleteMessageFor(ctx, 9999, u2)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestClearConversationFor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := entity.NewRef("user", "1")
	u2 := entity.NewRef("user", "2")
	conv, parts := seedConversation(t, s, u1, u2)

	for i := 0; i < 4; i++ {
		_, err := s.SendMessage(ctx, conv.ID, parts[u1.String()].ID, "msg", MessageTypeText)
		require.NoError(t, err)
	}

	require.NoError(t, s.ClearConversationFor(ctx, conv.ID, u2))

	// Unread drops to zero because deleted rows don't count
	count, err := s.UnreadCount(ctx, u2)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// u1 still sees everything
	page, err := s.ListMessages(ctx, conv.ID, u1, ListMessagesParams{PerPage: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 4)

	// Clearing an already-cleared view is a no-op
	require.NoError(t, s.ClearConversationFor(ctx, conv.ID, u2))
}

func TestUnreadNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := entity.NewRef("user", "1")
	u2 := entity.NewRef("user", "2")
	conv1, parts1 := seedConversation(t, s, u1, u2)
	conv2, parts2 := seedConversation(t, s, u1, u2)

	_, err := s.SendMessage(ctx, conv1.ID, parts1[u1.String()].ID, "one", MessageTypeText)
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, conv2.ID, parts2[u1.String()].ID, "two", MessageTypeText)
	require.NoError(t, err)

	all, err := s.UnreadNotifications(ctx, u2, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := s.UnreadNotifications(ctx, u2, conv2.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, conv2.ID, scoped[0].ConversationID)

	// The sender has nothing unread
	none, err := s.UnreadNotifications(ctx, u1, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFanOut_LargeConversationBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// More participants than one fan-out batch
	refs := make([]entity.Ref, 0, fanOutBatchSize+50)
	for i := 0; i < fanOutBatchSize+50; i++ {
		refs = append(refs, entity.NewRef("user", strconv.Itoa(i)))
	}
	conv, err := s.CreateConversation(ctx, nil, refs)
	require.NoError(t, err)

	sender, err := s.GetParticipation(ctx, conv.ID, refs[0])
	require.NoError(t, err)

	msg, err := s.SendMessage(ctx, conv.ID, sender.ID, "broadcast", MessageTypeText)
	require.NoError(t, err)

	var total int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_notifications WHERE message_id = ?`, msg.ID).Scan(&total)
	require.NoError(t, err)
	assert.Equal(t, len(refs), total)

	var sendersCount int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_notifications WHERE message_id = ? AND is_sender = 1`, msg.ID).Scan(&sendersCount)
	require.NoError(t, err)
	assert.Equal(t, 1, sendersCount)
}

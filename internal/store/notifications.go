// ABOUTME: Message persistence and notification fan-out engine
// ABOUTME: SendMessage atomically inserts a message plus one notification per participant

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/zombiesouplab/chat/internal/entity"
)

// fanOutBatchSize bounds the number of rows per bulk notification INSERT
const fanOutBatchSize = 1000

// SendMessage inserts a message and fans out one notification row per current
// participant of the conversation, all inside one transaction. The sender's
// notification is created pre-seen. If any part fails the whole send rolls
// back, so a message is never visible without its notification set.
//
// Sending also touches the conversation's updated_at, which drives
// conversation listing order.
func (s *SQLiteStore) SendMessage(ctx context.Context, conversationID, participationID int64, body, msgType string) (*Message, error) {
	if msgType == "" {
		msgType = MessageTypeText
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// The author must currently participate in the conversation
	var authorConversation int64
	err = tx.QueryRowContext(ctx,
		`SELECT conversation_id FROM participation WHERE id = ?`, participationID).Scan(&authorConversation)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("participation %d: %w", participationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading author participation: %w", err)
	}
	if authorConversation != conversationID {
		return nil, fmt.Errorf("participation %d is not in conversation %d: %w", participationID, conversationID, ErrNotFound)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, participation_id, body, type, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, participationID, body, msgType, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	messageID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading message id: %w", err)
	}

	if err := fanOut(ctx, tx, messageID, conversationID, participationID, now); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, fmtTime(now), conversationID); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("message sent",
		"message_id", messageID,
		"conversation_id", conversationID,
		"participation_id", participationID)

	return &Message{
		ID:              messageID,
		ConversationID:  conversationID,
		ParticipationID: participationID,
		Body:            body,
		Type:            msgType,
		CreatedAt:       now,
	}, nil
}

// fanOut bulk-inserts one notification per participant, in batches, within
// the sender's transaction
func fanOut(ctx context.Context, tx *sql.Tx, messageID, conversationID, senderParticipationID int64, now time.Time) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, messageable_type, messageable_id FROM participation WHERE conversation_id = ? ORDER BY id`,
		conversationID)
	if err != nil {
		return fmt.Errorf("loading participants for fan-out: %w", err)
	}

	type target struct {
		participationID int64
		ref             entity.Ref
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.participationID, &t.ref.Type, &t.ref.ID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning fan-out participant: %w", err)
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating fan-out participants: %w", err)
	}

	ts := fmtTime(now)
	for start := 0; start < len(targets); start += fanOutBatchSize {
		end := start + fanOutBatchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO message_notifications
			(message_id, conversation_id, participation_id, messageable_type, messageable_id, is_sender, is_seen, flagged, created_at, updated_at)
			VALUES `)
		args := make([]any, 0, len(batch)*10)
		for i, t := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, 0, ?, ?)")
			isSender := boolInt(t.participationID == senderParticipationID)
			args = append(args,
				messageID, conversationID, t.participationID,
				t.ref.Type, t.ref.ID,
				isSender, isSender, // the sender has already seen their own message
				ts, ts)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("inserting notification batch: %w", err)
		}
	}
	return nil
}

// GetMessage retrieves a message by id
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m := &Message{}
	var participationID sql.NullInt64
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, participation_id, body, type, created_at FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ConversationID, &participationID, &m.Body, &m.Type, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	m.ParticipationID = participationID.Int64
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return m, nil
}

// GetNotification retrieves the notification row for one (message, participant) pair
func (s *SQLiteStore) GetNotification(ctx context.Context, messageID int64, ref entity.Ref) (*MessageNotification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, conversation_id, participation_id, messageable_type, messageable_id,
		        is_sender, is_seen, flagged, created_at, updated_at, deleted_at
		 FROM message_notifications
		 WHERE message_id = ? AND messageable_type = ? AND messageable_id = ?`,
		messageID, ref.Type, ref.ID)

	n, err := scanNotification(row)
	if err == ErrNotFound {
		return nil, ErrNotificationNotFound
	}
	return n, err
}

// MarkRead marks one (message, participant) notification as seen.
// Returns ErrNotificationNotFound if the participant was never in the
// message's audience.
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID int64, ref entity.Ref) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_notifications SET is_seen = 1, updated_at = ?
		 WHERE message_id = ? AND messageable_type = ? AND messageable_id = ?`,
		fmtTime(time.Now().UTC()), messageID, ref.Type, ref.ID)
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking mark read result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("message %d for %s: %w", messageID, ref, ErrNotificationNotFound)
	}
	return nil
}

// MarkAllRead marks every visible notification in the conversation as seen
// for the participant. Idempotent: reapplying changes nothing.
func (s *SQLiteStore) MarkAllRead(ctx context.Context, conversationID int64, ref entity.Ref) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_notifications SET is_seen = 1, updated_at = ?
		 WHERE conversation_id = ? AND messageable_type = ? AND messageable_id = ?
		   AND deleted_at IS NULL AND is_seen = 0`,
		fmtTime(time.Now().UTC()), conversationID, ref.Type, ref.ID)
	if err != nil {
		return fmt.Errorf("marking all read: %w", err)
	}
	return nil
}

// ToggleFlag flips the flagged bit for one (message, participant) pair and
// returns the new state
func (s *SQLiteStore) ToggleFlag(ctx context.Context, messageID int64, ref entity.Ref) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_notifications SET flagged = 1 - flagged, updated_at = ?
		 WHERE message_id = ? AND messageable_type = ? AND messageable_id = ?`,
		fmtTime(time.Now().UTC()), messageID, ref.Type, ref.ID)
	if err != nil {
		return false, fmt.Errorf("toggling flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking toggle result: %w", err)
	}
	if affected == 0 {
		return false, fmt.Errorf("message %d for %s: %w", messageID, ref, ErrNotificationNotFound)
	}
	return s.IsFlagged(ctx, messageID, ref)
}

// IsFlagged reports whether the participant has flagged the message
func (s *SQLiteStore) IsFlagged(ctx context.Context, messageID int64, ref entity.Ref) (bool, error) {
	var flagged int
	err := s.db.QueryRowContext(ctx,
		`SELECT flagged FROM message_notifications
		 WHERE message_id = ? AND messageable_type = ? AND messageable_id = ?`,
		messageID, ref.Type, ref.ID).Scan(&flagged)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("message %d for %s: %w", messageID, ref, ErrNotificationNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("querying flag: %w", err)
	}
	return flagged != 0, nil
}

// DeleteMessageFor tombstones one message for one participant. The message
// itself and other participants' notifications are untouched. The original
// tombstone timestamp is kept if the row was already deleted.
func (s *SQLiteStore) DeleteMessageFor(ctx context.Context, messageID int64, ref entity.Ref) error {
	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_notifications SET deleted_at = COALESCE(deleted_at, ?), updated_at = ?
		 WHERE message_id = ? AND messageable_type = ? AND messageable_id = ?`,
		now, now, messageID, ref.Type, ref.ID)
	if err != nil {
		return fmt.Errorf("deleting message for participant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("message %d for %s: %w", messageID, ref, ErrNotificationNotFound)
	}
	return nil
}

// ClearConversationFor tombstones every visible notification in the
// conversation for one participant. Clearing an already-empty view is a no-op.
func (s *SQLiteStore) ClearConversationFor(ctx context.Context, conversationID int64, ref entity.Ref) error {
	now := fmtTime(time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_notifications SET deleted_at = ?, updated_at = ?
		 WHERE conversation_id = ? AND messageable_type = ? AND messageable_id = ?
		   AND deleted_at IS NULL`,
		now, now, conversationID, ref.Type, ref.ID)
	if err != nil {
		return fmt.Errorf("clearing conversation: %w", err)
	}
	return nil
}

// UnreadCount counts unseen, visible notifications for the participant across
// all conversations
func (s *SQLiteStore) UnreadCount(ctx context.Context, ref entity.Ref) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_notifications
		 WHERE messageable_type = ? AND messageable_id = ? AND is_seen = 0 AND deleted_at IS NULL`,
		ref.Type, ref.ID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return count, nil
}

// ConversationUnreadCount counts unseen, visible notifications for the
// participant within one conversation
func (s *SQLiteStore) ConversationUnreadCount(ctx context.Context, conversationID int64, ref entity.Ref) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_notifications
		 WHERE conversation_id = ? AND messageable_type = ? AND messageable_id = ?
		   AND is_seen = 0 AND deleted_at IS NULL`,
		conversationID, ref.Type, ref.ID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting conversation unread: %w", err)
	}
	return count, nil
}

// UnreadNotifications returns the participant's unseen, visible notification
// rows. Pass conversationID 0 to span all conversations.
func (s *SQLiteStore) UnreadNotifications(ctx context.Context, ref entity.Ref, conversationID int64) ([]*MessageNotification, error) {
	query := `SELECT id, message_id, conversation_id, participation_id, messageable_type, messageable_id,
	                 is_sender, is_seen, flagged, created_at, updated_at, deleted_at
	          FROM message_notifications
	          WHERE messageable_type = ? AND messageable_id = ? AND is_seen = 0 AND deleted_at IS NULL`
	args := []any{ref.Type, ref.ID}
	if conversationID != 0 {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY message_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unread notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*MessageNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func scanNotification(row scanner) (*MessageNotification, error) {
	n := &MessageNotification{}
	var isSender, isSeen, flagged int
	var createdAt, updatedAt string
	var deletedAt sql.NullString

	err := row.Scan(&n.ID, &n.MessageID, &n.ConversationID, &n.ParticipationID,
		&n.Messageable.Type, &n.Messageable.ID,
		&isSender, &isSeen, &flagged, &createdAt, &updatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning notification: %w", err)
	}

	n.IsSender = isSender != 0
	n.IsSeen = isSeen != 0
	n.Flagged = flagged != 0
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		n.DeletedAt = &t
	}
	return n, nil
}

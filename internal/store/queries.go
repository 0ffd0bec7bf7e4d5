// ABOUTME: Filtered, paginated conversation and message listings plus pair/common queries
// ABOUTME: All listings are scoped per participant through the notification join

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/zombiesouplab/chat/internal/entity"
)

// ListConversations pages through the participant's conversations, most
// recently updated first (id breaks timestamp ties). Each item carries the
// conversation's last message still visible to the participant, with that
// participant's notification metadata attached.
func (s *SQLiteStore) ListConversations(ctx context.Context, ref entity.Ref, params ListConversationsParams) (*ConversationPage, error) {
	page, perPage := normalizePage(params.Page, params.PerPage)

	where := `p.messageable_type = ? AND p.messageable_id = ?`
	args := []any{ref.Type, ref.ID}
	if params.Filters.Private != nil {
		where += ` AND c.private = ?`
		args = append(args, boolInt(*params.Filters.Private))
	}
	if params.Filters.DirectMessage != nil {
		where += ` AND c.direct_message = ?`
		args = append(args, boolInt(*params.Filters.DirectMessage))
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM participation p JOIN conversations c ON c.id = p.conversation_id WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}

	query := `SELECT c.id, c.private, c.direct_message, c.data, c.created_at, c.updated_at
	          FROM participation p
	          JOIN conversations c ON c.id = p.conversation_id
	          WHERE ` + where + `
	          ORDER BY c.updated_at DESC, c.id DESC
	          LIMIT ? OFFSET ?`
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var items []*ConversationListItem
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, &ConversationListItem{Conversation: c})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	for _, item := range items {
		last, err := s.lastVisibleMessage(ctx, item.Conversation.ID, ref)
		if err != nil {
			return nil, err
		}
		item.LastMessage = last
	}

	return &ConversationPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PerPage:  perPage,
		LastPage: lastPage(total, perPage),
	}, nil
}

// lastVisibleMessage loads the newest message in the conversation that the
// participant has not deleted, or nil when none remain
func (s *SQLiteStore) lastVisibleMessage(ctx context.Context, conversationID int64, ref entity.Ref) (*MessageWithMeta, error) {
	row := s.db.QueryRowContext(ctx, messageWithMetaSelect+`
		 WHERE m.conversation_id = ? AND n.messageable_type = ? AND n.messageable_id = ?
		   AND n.deleted_at IS NULL
		 ORDER BY m.id DESC
		 LIMIT 1`,
		conversationID, ref.Type, ref.ID)

	m, err := scanMessageWithMeta(row)
	if err == ErrNotFound {
		return nil, nil
	}
	return m, err
}

// ListMessages pages through the conversation's messages as seen by one
// participant. Deleted=false lists visible messages, Deleted=true lists the
// participant's tombstoned ones. Order is by message id per params.Sorting.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64, ref entity.Ref, params ListMessagesParams) (*MessagePage, error) {
	page, perPage := normalizePage(params.Page, params.PerPage)

	deletedPredicate := `n.deleted_at IS NULL`
	if params.Deleted {
		deletedPredicate = `n.deleted_at IS NOT NULL`
	}
	order := `ASC`
	if params.Sorting == SortDesc {
		order = `DESC`
	}

	where := ` WHERE m.conversation_id = ? AND n.messageable_type = ? AND n.messageable_id = ? AND ` + deletedPredicate
	args := []any{conversationID, ref.Type, ref.ID}

	var total int
	countQuery := `SELECT COUNT(*) FROM messages m JOIN message_notifications n ON n.message_id = m.id` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	query := messageWithMetaSelect + where + ` ORDER BY m.id ` + order + ` LIMIT ? OFFSET ?`
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var items []*MessageWithMeta
	for rows.Next() {
		m, err := scanMessageWithMeta(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return &MessagePage{
		Items:    items,
		Total:    total,
		Page:     page,
		PerPage:  perPage,
		LastPage: lastPage(total, perPage),
	}, nil
}

// ConversationBetween finds the private or direct two-party conversation
// containing exactly {a, b}, or ErrNotFound
func (s *SQLiteStore) ConversationBetween(ctx context.Context, a, b entity.Ref) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.private, c.direct_message, c.data, c.created_at, c.updated_at
		 FROM conversations c
		 JOIN participation pa ON pa.conversation_id = c.id
		      AND pa.messageable_type = ? AND pa.messageable_id = ?
		 JOIN participation pb ON pb.conversation_id = c.id
		      AND pb.messageable_type = ? AND pb.messageable_id = ?
		 WHERE (c.private = 1 OR c.direct_message = 1)
		   AND (SELECT COUNT(*) FROM participation px WHERE px.conversation_id = c.id) = 2
		 ORDER BY c.id
		 LIMIT 1`,
		a.Type, a.ID, b.Type, b.ID)
	return scanConversation(row)
}

// DirectConversationExists reports whether a direct conversation between the
// pair already exists. excludeID skips one conversation, typically the one
// being promoted to direct; pass 0 to exclude none.
func (s *SQLiteStore) DirectConversationExists(ctx context.Context, a, b entity.Ref, excludeID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM conversations c
		 JOIN participation pa ON pa.conversation_id = c.id
		      AND pa.messageable_type = ? AND pa.messageable_id = ?
		 JOIN participation pb ON pb.conversation_id = c.id
		      AND pb.messageable_type = ? AND pb.messageable_id = ?
		 WHERE c.direct_message = 1 AND c.id != ?`,
		a.Type, a.ID, b.Type, b.ID, excludeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking direct conversation: %w", err)
	}
	return count > 0, nil
}

// CommonConversations returns the conversations in which every given entity
// participates. Conversations may have additional participants beyond the
// given set; only the overlap is counted.
func (s *SQLiteStore) CommonConversations(ctx context.Context, refs []entity.Ref) ([]*Conversation, error) {
	refs = lo.UniqBy(refs, entity.Ref.String)
	if len(refs) == 0 {
		return nil, nil
	}

	predicates := make([]string, 0, len(refs))
	args := make([]any, 0, len(refs)*2+1)
	for _, ref := range refs {
		predicates = append(predicates, `(messageable_type = ? AND messageable_id = ?)`)
		args = append(args, ref.Type, ref.ID)
	}
	args = append(args, len(refs))

	query := `SELECT conversation_id FROM participation
	          WHERE ` + strings.Join(predicates, " OR ") + `
	          GROUP BY conversation_id
	          HAVING COUNT(*) = ?
	          ORDER BY conversation_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying common conversations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating common conversations: %w", err)
	}

	conversations := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, nil
}

// messageWithMetaSelect joins messages with the querying participant's
// notification row; the notification's updated_at doubles as read_at
const messageWithMetaSelect = `
	SELECT m.id, m.conversation_id, m.participation_id, m.body, m.type, m.created_at,
	       n.id, n.is_seen, n.is_sender, n.flagged, n.updated_at, n.deleted_at
	FROM messages m
	JOIN message_notifications n ON n.message_id = m.id`

func scanMessageWithMeta(row scanner) (*MessageWithMeta, error) {
	m := &MessageWithMeta{}
	var participationID sql.NullInt64
	var isSeen, isSender, flagged int
	var createdAt, readAt string
	var deletedAt sql.NullString

	err := row.Scan(&m.ID, &m.ConversationID, &participationID, &m.Body, &m.Type, &createdAt,
		&m.NotificationID, &isSeen, &isSender, &flagged, &readAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	m.ParticipationID = participationID.Int64
	m.IsSeen = isSeen != 0
	m.IsSender = isSender != 0
	m.Flagged = flagged != 0
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.ReadAt, err = parseTime(readAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		m.DeletedAt = &t
	}
	return m, nil
}

// ABOUTME: Store data types and sentinel errors for the chat persistence layer
// ABOUTME: Defines Conversation, Participation, Message, MessageNotification and page types

package store

import (
	"errors"
	"time"

	"github.com/zombiesouplab/chat/internal/entity"
)

// ErrNotFound is returned when a conversation, message, or participation lookup misses
var ErrNotFound = errors.New("not found")

// ErrNotificationNotFound is returned when a (message, participant) pair has no
// notification row, e.g. the participant joined after the message was sent
var ErrNotificationNotFound = errors.New("message notification not found")

// ErrDirectMessagingExists is returned when a direct conversation already
// exists between the same pair of participants
var ErrDirectMessagingExists = errors.New("direct messaging already exists between participants")

// ErrInvalidDirectMessageParticipants is returned when a direct conversation
// would end up with a participant count other than 2
var ErrInvalidDirectMessageParticipants = errors.New("direct messages must have exactly two participants")

// ErrParticipationExists is returned when an entity already participates in the conversation
var ErrParticipationExists = errors.New("participation already exists")

// ErrConversationNotEmpty is returned when deleting a conversation that still has participants
var ErrConversationNotEmpty = errors.New("conversation still has participants")

// MessageType constants for the message type column
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

// Conversation is a multi-party conversation record.
// Data is an opaque key-value blob owned by the host application.
type Conversation struct {
	ID            int64
	Private       bool
	DirectMessage bool
	Data          map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Participation binds an entity to a conversation. It is the unit of
// membership and the join key for notification fan-out.
type Participation struct {
	ID             int64
	ConversationID int64
	Messageable    entity.Ref
	CreatedAt      time.Time
}

// Message is a single message in a conversation. Immutable once created;
// per-recipient read/delete state lives on MessageNotification rows.
type Message struct {
	ID              int64
	ConversationID  int64
	ParticipationID int64 // authoring participation; 0 after the author leaves
	Body            string
	Type            string
	CreatedAt       time.Time
}

// MessageNotification is the fan-out artifact: one row per (message,
// participant) pair tracking that participant's seen/flagged/deleted state.
type MessageNotification struct {
	ID              int64
	MessageID       int64
	ConversationID  int64
	ParticipationID int64
	Messageable     entity.Ref
	IsSender        bool
	IsSeen          bool
	Flagged         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Sorting selects message listing order by message id.
type Sorting string

const (
	SortAsc  Sorting = "asc"
	SortDesc Sorting = "desc"
)

// ConversationFilters narrows a conversation listing. Nil fields are ignored.
type ConversationFilters struct {
	Private       *bool
	DirectMessage *bool
}

// ListConversationsParams controls pagination and filtering of conversation listings.
type ListConversationsParams struct {
	Page    int
	PerPage int
	Filters ConversationFilters
}

// ListMessagesParams controls pagination of per-participant message listings.
// Deleted selects the participant's soft-deleted messages instead of visible ones.
type ListMessagesParams struct {
	Page    int
	PerPage int
	Sorting Sorting
	Deleted bool
}

// MessageWithMeta is a message joined with the querying participant's
// notification row. ReadAt mirrors the notification's updated_at.
type MessageWithMeta struct {
	Message
	NotificationID int64
	IsSeen         bool
	IsSender       bool
	Flagged        bool
	ReadAt         time.Time
	DeletedAt      *time.Time
}

// ConversationListItem is one row of a conversation listing: the conversation
// plus its most recent message still visible to the querying participant.
type ConversationListItem struct {
	Conversation *Conversation
	LastMessage  *MessageWithMeta // nil when every message is deleted for the participant
}

// ConversationPage is a page of conversation listing results.
type ConversationPage struct {
	Items    []*ConversationListItem
	Total    int
	Page     int
	PerPage  int
	LastPage int
}

// MessagePage is a page of per-participant message listing results.
type MessagePage struct {
	Items    []*MessageWithMeta
	Total    int
	Page     int
	PerPage  int
	LastPage int
}

const defaultPerPage = 25

// normalizePage clamps paging params to sane defaults.
func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	return page, perPage
}

// lastPage computes the index of the final page for a total row count.
func lastPage(total, perPage int) int {
	if total == 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}

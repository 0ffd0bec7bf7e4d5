// ABOUTME: Domain event values returned by service operations
// ABOUTME: Events are plain values; dispatch is the caller's or a Dispatcher's concern

package conversation

import (
	"github.com/zombiesouplab/chat/internal/entity"
	"github.com/zombiesouplab/chat/internal/store"
)

// Event is implemented by every domain event emitted by the service.
// Events are returned from the operations that produce them and, when a
// Dispatcher is configured, also handed to it after the storage transaction
// commits. Dispatch failures never fail the producing operation.
type Event interface {
	// EventID is a unique id for deduplication by downstream consumers
	EventID() string
	// ConversationID returns the id of the conversation the event belongs to
	ConversationID() int64
}

// MessageSent is emitted after a message and its notification fan-out commit.
type MessageSent struct {
	ID           string
	Message      *store.Message
	Conversation *store.Conversation
}

func (e MessageSent) EventID() string       { return e.ID }
func (e MessageSent) ConversationID() int64 { return e.Conversation.ID }

// ConversationStarted is emitted when a conversation is created.
type ConversationStarted struct {
	ID           string
	Conversation *store.Conversation
}

func (e ConversationStarted) EventID() string       { return e.ID }
func (e ConversationStarted) ConversationID() int64 { return e.Conversation.ID }

// ParticipantsJoined is emitted when entities are added to a conversation.
type ParticipantsJoined struct {
	ID           string
	Conversation *store.Conversation
	Participants []entity.Ref
}

func (e ParticipantsJoined) EventID() string       { return e.ID }
func (e ParticipantsJoined) ConversationID() int64 { return e.Conversation.ID }

// ParticipantsLeft is emitted when entities are removed from a conversation.
type ParticipantsLeft struct {
	ID           string
	Conversation *store.Conversation
	Participants []entity.Ref
}

func (e ParticipantsLeft) EventID() string       { return e.ID }
func (e ParticipantsLeft) ConversationID() int64 { return e.Conversation.ID }

// Dispatcher receives events after their producing transaction commits.
// Implementations must not block; a slow consumer must never stall a send.
type Dispatcher interface {
	Dispatch(event Event)
}

// ABOUTME: Service is the facade for the chat core: conversations, membership, sends
// ABOUTME: Enforces direct-message and auto-public rules; storage does the heavy lifting

package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/zombiesouplab/chat/internal/entity"
	"github.com/zombiesouplab/chat/internal/store"
)

// Store defines what the service needs from persistence
type Store interface {
	CreateConversation(ctx context.Context, data map[string]any, participants []entity.Ref) (*store.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
	SetPrivate(ctx context.Context, id int64, private bool) error
	SetDirect(ctx context.Context, id int64, direct bool) error
	UpdateConversationData(ctx context.Context, id int64, data map[string]any) error

	AddParticipants(ctx context.Context, conversationID int64, refs []entity.Ref) ([]*store.Participation, error)
	RemoveParticipants(ctx context.Context, conversationID int64, refs []entity.Ref) error
	GetParticipation(ctx context.Context, conversationID int64, ref entity.Ref) (*store.Participation, error)
	ListParticipants(ctx context.Context, conversationID int64) ([]*store.Participation, error)
	ParticipantCount(ctx context.Context, conversationID int64) (int, error)

	SendMessage(ctx context.Context, conversationID, participationID int64, body, msgType string) (*store.Message, error)
	GetMessage(ctx context.Context, id int64) (*store.Message, error)
	GetNotification(ctx context.Context, messageID int64, ref entity.Ref) (*store.MessageNotification, error)
	MarkRead(ctx context.Context, messageID int64, ref entity.Ref) error
	MarkAllRead(ctx context.Context, conversationID int64, ref entity.Ref) error
	ToggleFlag(ctx context.Context, messageID int64, ref entity.Ref) (bool, error)
	IsFlagged(ctx context.Context, messageID int64, ref entity.Ref) (bool, error)
	DeleteMessageFor(ctx context.Context, messageID int64, ref entity.Ref) error
	ClearConversationFor(ctx context.Context, conversationID int64, ref entity.Ref) error

	UnreadCount(ctx context.Context, ref entity.Ref) (int, error)
	ConversationUnreadCount(ctx context.Context, conversationID int64, ref entity.Ref) (int, error)
	UnreadNotifications(ctx context.Context, ref entity.Ref, conversationID int64) ([]*store.MessageNotification, error)

	ListConversations(ctx context.Context, ref entity.Ref, params store.ListConversationsParams) (*store.ConversationPage, error)
	ListMessages(ctx context.Context, conversationID int64, ref entity.Ref, params store.ListMessagesParams) (*store.MessagePage, error)
	ConversationBetween(ctx context.Context, a, b entity.Ref) (*store.Conversation, error)
	DirectConversationExists(ctx context.Context, a, b entity.Ref, excludeID int64) (bool, error)
	CommonConversations(ctx context.Context, refs []entity.Ref) ([]*store.Conversation, error)
}

// Settings is the configuration surface the service consumes
type Settings struct {
	// AutoPublicThreshold is the participant count at which a private
	// conversation is automatically made public
	AutoPublicThreshold int
	// AutoPublicEnabled turns the auto-public rule on or off
	AutoPublicEnabled bool
}

// DefaultSettings returns the default configuration surface
func DefaultSettings() Settings {
	return Settings{
		AutoPublicThreshold: 3,
		AutoPublicEnabled:   true,
	}
}

// Service composes the store, event dispatch, and entity resolution into the
// caller-facing chat API. Stateless: every operation takes its full input.
type Service struct {
	store      Store
	dispatcher Dispatcher
	registry   *entity.Registry
	settings   Settings
	logger     *slog.Logger
}

// New creates a Service. dispatcher and registry may be nil: without a
// dispatcher events are only returned, not published; without a registry
// profile resolution is unavailable. Pass nil logger for slog.Default().
func New(st Store, dispatcher Dispatcher, registry *entity.Registry, settings Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.AutoPublicThreshold <= 0 {
		settings.AutoPublicThreshold = DefaultSettings().AutoPublicThreshold
	}
	return &Service{
		store:      st,
		dispatcher: dispatcher,
		registry:   registry,
		settings:   settings,
		logger:     logger.With("component", "conversation"),
	}
}

// StartRequest describes a conversation to create. Participants are
// deduplicated; Data is an opaque blob stored with the conversation.
type StartRequest struct {
	Participants []entity.Ref
	Data         map[string]any
}

// Start creates a conversation with the given participants. New conversations
// are private; the auto-public rule applies immediately when the participant
// count reaches the configured threshold.
func (s *Service) Start(ctx context.Context, req StartRequest) (*store.Conversation, ConversationStarted, error) {
	refs := lo.UniqBy(req.Participants, entity.Ref.String)
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, ConversationStarted{}, err
		}
	}

	conv, err := s.store.CreateConversation(ctx, req.Data, refs)
	if err != nil {
		return nil, ConversationStarted{}, fmt.Errorf("starting conversation: %w", err)
	}

	conv, err = s.applyAutoPublic(ctx, conv.ID)
	if err != nil {
		return nil, ConversationStarted{}, err
	}

	event := ConversationStarted{ID: uuid.New().String(), Conversation: conv}
	s.dispatch(event)

	s.logger.Info("conversation started",
		"conversation_id", conv.ID,
		"participants", len(refs))
	return conv, event, nil
}

// StartDirect creates a direct-message conversation between exactly two
// entities. Fails with store.ErrDirectMessagingExists if the pair already has
// one.
func (s *Service) StartDirect(ctx context.Context, a, b entity.Ref, data map[string]any) (*store.Conversation, ConversationStarted, error) {
	if a.Equal(b) {
		return nil, ConversationStarted{}, store.ErrInvalidDirectMessageParticipants
	}

	exists, err := s.store.DirectConversationExists(ctx, a, b, 0)
	if err != nil {
		return nil, ConversationStarted{}, err
	}
	if exists {
		return nil, ConversationStarted{}, store.ErrDirectMessagingExists
	}

	conv, event, err := s.Start(ctx, StartRequest{Participants: []entity.Ref{a, b}, Data: data})
	if err != nil {
		return nil, ConversationStarted{}, err
	}
	if err := s.store.SetDirect(ctx, conv.ID, true); err != nil {
		return nil, ConversationStarted{}, err
	}

	conv, err = s.store.GetConversation(ctx, conv.ID)
	if err != nil {
		return nil, ConversationStarted{}, err
	}
	event.Conversation = conv
	return conv, event, nil
}

// Get retrieves a conversation by id
func (s *Service) Get(ctx context.Context, conversationID int64) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, conversationID)
}

// UpdateData replaces the conversation's opaque data blob
func (s *Service) UpdateData(ctx context.Context, conversationID int64, data map[string]any) error {
	return s.store.UpdateConversationData(ctx, conversationID, data)
}

// Delete removes an empty conversation. While participants remain it fails
// with store.ErrConversationNotEmpty.
func (s *Service) Delete(ctx context.Context, conversationID int64) error {
	return s.store.DeleteConversation(ctx, conversationID)
}

// AddParticipants adds entities to a conversation. A direct conversation is
// capped at two participants. Adding may flip the conversation public per the
// auto-public rule.
func (s *Service) AddParticipants(ctx context.Context, conversationID int64, refs []entity.Ref) (ParticipantsJoined, error) {
	refs = lo.UniqBy(refs, entity.Ref.String)
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return ParticipantsJoined{}, err
		}
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return ParticipantsJoined{}, err
	}

	if conv.DirectMessage {
		count, err := s.store.ParticipantCount(ctx, conversationID)
		if err != nil {
			return ParticipantsJoined{}, err
		}
		if count+len(refs) > 2 {
			return ParticipantsJoined{}, store.ErrInvalidDirectMessageParticipants
		}
	}

	if _, err := s.store.AddParticipants(ctx, conversationID, refs); err != nil {
		return ParticipantsJoined{}, err
	}

	conv, err = s.applyAutoPublic(ctx, conversationID)
	if err != nil {
		return ParticipantsJoined{}, err
	}

	event := ParticipantsJoined{ID: uuid.New().String(), Conversation: conv, Participants: refs}
	s.dispatch(event)
	return event, nil
}

// RemoveParticipants removes entities from a conversation. History is kept
// for the remaining participants.
func (s *Service) RemoveParticipants(ctx context.Context, conversationID int64, refs []entity.Ref) (ParticipantsLeft, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return ParticipantsLeft{}, err
	}

	refs = lo.UniqBy(refs, entity.Ref.String)
	if err := s.store.RemoveParticipants(ctx, conversationID, refs); err != nil {
		return ParticipantsLeft{}, err
	}

	event := ParticipantsLeft{ID: uuid.New().String(), Conversation: conv, Participants: refs}
	s.dispatch(event)
	return event, nil
}

// MakeDirect flags a two-participant conversation as direct messaging.
// Fails with store.ErrInvalidDirectMessageParticipants when the count is not
// exactly 2, and with store.ErrDirectMessagingExists when the pair already
// has a direct conversation.
func (s *Service) MakeDirect(ctx context.Context, conversationID int64) (*store.Conversation, error) {
	participants, err := s.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(participants) != 2 {
		return nil, store.ErrInvalidDirectMessageParticipants
	}

	exists, err := s.store.DirectConversationExists(ctx,
		participants[0].Messageable, participants[1].Messageable, conversationID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, store.ErrDirectMessagingExists
	}

	if err := s.store.SetDirect(ctx, conversationID, true); err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, conversationID)
}

// MakePrivate sets the conversation's privacy flag
func (s *Service) MakePrivate(ctx context.Context, conversationID int64, private bool) error {
	return s.store.SetPrivate(ctx, conversationID, private)
}

// SendRequest is the immutable command describing one message send.
type SendRequest struct {
	ConversationID int64
	Sender         entity.Ref
	Body           string
	Type           string // defaults to text
}

// Send records the message and fans out notifications atomically, then
// publishes a MessageSent event. The event is also returned so callers can
// dispatch through their own machinery.
func (s *Service) Send(ctx context.Context, req SendRequest) (*store.Message, MessageSent, error) {
	if req.Body == "" {
		return nil, MessageSent{}, fmt.Errorf("message body is required")
	}
	if err := req.Sender.Validate(); err != nil {
		return nil, MessageSent{}, err
	}

	participation, err := s.store.GetParticipation(ctx, req.ConversationID, req.Sender)
	if err != nil {
		return nil, MessageSent{}, fmt.Errorf("sender %s in conversation %d: %w", req.Sender, req.ConversationID, err)
	}

	msg, err := s.store.SendMessage(ctx, req.ConversationID, participation.ID, req.Body, req.Type)
	if err != nil {
		return nil, MessageSent{}, fmt.Errorf("sending message: %w", err)
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, MessageSent{}, err
	}

	event := MessageSent{ID: uuid.New().String(), Message: msg, Conversation: conv}
	s.dispatch(event)

	s.logger.Debug("message sent",
		"message_id", msg.ID,
		"conversation_id", req.ConversationID,
		"sender", req.Sender.String())
	return msg, event, nil
}

// MarkRead marks one message as seen for the participant
func (s *Service) MarkRead(ctx context.Context, messageID int64, participant entity.Ref) error {
	return s.store.MarkRead(ctx, messageID, participant)
}

// ReadAll marks every visible message in the conversation as seen for the
// participant. Idempotent.
func (s *Service) ReadAll(ctx context.Context, conversationID int64, participant entity.Ref) error {
	return s.store.MarkAllRead(ctx, conversationID, participant)
}

// ToggleFlag flips the participant's flag on a message and returns the new state
func (s *Service) ToggleFlag(ctx context.Context, messageID int64, participant entity.Ref) (bool, error) {
	return s.store.ToggleFlag(ctx, messageID, participant)
}

// IsFlagged reports whether the participant has flagged the message
func (s *Service) IsFlagged(ctx context.Context, messageID int64, participant entity.Ref) (bool, error) {
	return s.store.IsFlagged(ctx, messageID, participant)
}

// DeleteMessage hides one message from the participant's view
func (s *Service) DeleteMessage(ctx context.Context, messageID int64, participant entity.Ref) error {
	return s.store.DeleteMessageFor(ctx, messageID, participant)
}

// Clear hides the whole conversation history from the participant's view
func (s *Service) Clear(ctx context.Context, conversationID int64, participant entity.Ref) error {
	return s.store.ClearConversationFor(ctx, conversationID, participant)
}

// GetNotification returns the participant's notification row for a message
func (s *Service) GetNotification(ctx context.Context, messageID int64, participant entity.Ref) (*store.MessageNotification, error) {
	return s.store.GetNotification(ctx, messageID, participant)
}

// UnreadCount counts the participant's unseen messages across all conversations
func (s *Service) UnreadCount(ctx context.Context, participant entity.Ref) (int, error) {
	return s.store.UnreadCount(ctx, participant)
}

// ConversationUnreadCount counts the participant's unseen messages in one conversation
func (s *Service) ConversationUnreadCount(ctx context.Context, conversationID int64, participant entity.Ref) (int, error) {
	return s.store.ConversationUnreadCount(ctx, conversationID, participant)
}

// UnreadNotifications returns the participant's unseen notification rows,
// optionally scoped to one conversation (pass 0 for all)
func (s *Service) UnreadNotifications(ctx context.Context, participant entity.Ref, conversationID int64) ([]*store.MessageNotification, error) {
	return s.store.UnreadNotifications(ctx, participant, conversationID)
}

// ListConversations pages through the participant's conversations
func (s *Service) ListConversations(ctx context.Context, participant entity.Ref, params store.ListConversationsParams) (*store.ConversationPage, error) {
	return s.store.ListConversations(ctx, participant, params)
}

// ListMessages pages through a conversation as one participant sees it
func (s *Service) ListMessages(ctx context.Context, conversationID int64, participant entity.Ref, params store.ListMessagesParams) (*store.MessagePage, error) {
	return s.store.ListMessages(ctx, conversationID, participant, params)
}

// Between finds the private or direct conversation containing exactly the two
// entities, or store.ErrNotFound
func (s *Service) Between(ctx context.Context, a, b entity.Ref) (*store.Conversation, error) {
	return s.store.ConversationBetween(ctx, a, b)
}

// Common returns conversations in which all the given entities participate
func (s *Service) Common(ctx context.Context, refs []entity.Ref) ([]*store.Conversation, error) {
	return s.store.CommonConversations(ctx, refs)
}

// Participants returns the conversation's membership rows
func (s *Service) Participants(ctx context.Context, conversationID int64) ([]*store.Participation, error) {
	return s.store.ListParticipants(ctx, conversationID)
}

// ParticipantProfiles resolves every participant to its display profile via
// the entity registry
func (s *Service) ParticipantProfiles(ctx context.Context, conversationID int64) ([]*entity.Profile, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("no entity registry configured")
	}

	participants, err := s.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	profiles := make([]*entity.Profile, 0, len(participants))
	for _, p := range participants {
		profile, err := s.registry.Resolve(ctx, p.Messageable)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// applyAutoPublic flips the conversation public once the participant count
// reaches the configured threshold, then returns the fresh record
func (s *Service) applyAutoPublic(ctx context.Context, conversationID int64) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !s.settings.AutoPublicEnabled || !conv.Private {
		return conv, nil
	}

	count, err := s.store.ParticipantCount(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if count < s.settings.AutoPublicThreshold {
		return conv, nil
	}

	if err := s.store.SetPrivate(ctx, conversationID, false); err != nil {
		return nil, err
	}
	s.logger.Info("conversation made public",
		"conversation_id", conversationID,
		"participants", count)
	return s.store.GetConversation(ctx, conversationID)
}

// dispatch hands the event to the dispatcher when one is configured
func (s *Service) dispatch(event Event) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(event)
}

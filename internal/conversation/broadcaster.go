// ABOUTME: In-memory fan-out broadcaster for domain events
// ABOUTME: Publishes events to per-conversation subscribers without blocking the write path

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for domain events. Subscribers
// register for a conversation id and receive events as operations commit.
// It implements Dispatcher: publishing never blocks, so a slow subscriber
// can never stall a send.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64]map[string]chan Event // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[int64]map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given conversation.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID int64) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan Event)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call more
// than once.
func (b *Broadcaster) Unsubscribe(conversationID int64, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}
	close(ch)

	b.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// Dispatch sends the event to all subscribers of its conversation.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Dispatch(event Event) {
	conversationID := event.ConversationID()

	b.mu.RLock()
	subs, ok := b.subscribers[conversationID]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	delivered, dropped := 0, 0
	for subID, ch := range subs {
		select {
		case ch <- event:
			delivered++
		default:
			dropped++
			b.logger.Warn("subscriber buffer full, dropping event",
				"conversation_id", conversationID,
				"sub_id", subID,
				"event_id", event.EventID())
		}
	}
	b.mu.RUnlock()

	b.logger.Debug("event dispatched",
		"conversation_id", conversationID,
		"event_id", event.EventID(),
		"delivered", delivered,
		"dropped", dropped)
}

// SubscriberCount reports how many subscribers a conversation currently has
func (b *Broadcaster) SubscriberCount(conversationID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[conversationID])
}

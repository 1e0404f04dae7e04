package realtime

import (
	"context"
	"errors"
	"sync"

	"staff-chat/internal/models"
)

var ErrBrokerClosed = errors.New("broker closed")

// LocalBroker fans events out inside one process.
type LocalBroker struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[int64]map[uint64]Handler
	closed bool
}

// NewLocalBroker creates an empty in-process broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{topics: make(map[int64]map[uint64]Handler)}
}

// Publish delivers ev synchronously to every current subscriber of its
// conversation.
func (b *LocalBroker) Publish(ctx context.Context, ev models.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	subs := b.topics[ev.Conversation()]
	handlers := make([]Handler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Subscribe registers h for a conversation.
func (b *LocalBroker) Subscribe(ctx context.Context, conversationID int64, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	b.nextID++
	id := b.nextID
	if _, ok := b.topics[conversationID]; !ok {
		b.topics[conversationID] = make(map[uint64]Handler)
	}
	b.topics[conversationID][id] = h
	return &localSubscription{broker: b, conversationID: conversationID, id: id}, nil
}

// Subscribers reports how many handlers are attached to a conversation.
func (b *LocalBroker) Subscribers(conversationID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[conversationID])
}

// Close drops every subscription.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.topics = make(map[int64]map[uint64]Handler)
	return nil
}

func (b *LocalBroker) remove(conversationID int64, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[conversationID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.topics, conversationID)
		}
	}
}

type localSubscription struct {
	broker         *LocalBroker
	conversationID int64
	id             uint64
	once           sync.Once
}

func (s *localSubscription) Unsubscribe() error {
	s.once.Do(func() { s.broker.remove(s.conversationID, s.id) })
	return nil
}

package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"staff-chat/internal/models"
	"staff-chat/internal/observability"
)

// RedisBroker fans events out across service instances with Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisBroker wraps an existing client. The client is owned by the
// caller.
func NewRedisBroker(client *redis.Client, log zerolog.Logger) *RedisBroker {
	return &RedisBroker{client: client, log: log.With().Str("component", "redis_broker").Logger()}
}

// Publish encodes ev and publishes it on the conversation topic.
func (b *RedisBroker) Publish(ctx context.Context, ev models.Event) error {
	payload, err := models.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Topic(ev.Conversation()), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe listens on the conversation topic until Unsubscribe is called.
// Payloads that fail validation are logged and dropped.
func (b *RedisBroker) Subscribe(ctx context.Context, conversationID int64, h Handler) (Subscription, error) {
	topic := Topic(conversationID)
	pubsub := b.client.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so events published after
	// Subscribe returns are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			ev, err := models.DecodeEvent([]byte(msg.Payload))
			if err != nil {
				observability.IncPushEvent("dropped")
				b.log.Warn().Err(err).Str("topic", topic).Msg("dropping malformed push event")
				continue
			}
			h(ev)
		}
	}()
	return sub, nil
}

// Close is a no-op; the Redis client is closed by its owner.
func (b *RedisBroker) Close() error {
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}

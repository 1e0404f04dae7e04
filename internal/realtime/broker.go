// Package realtime carries push-channel events between the code that
// appends messages and the websocket sessions watching a conversation.
//
// Delivery is at-least-once while subscribed and nothing is replayed for a
// subscriber that was not attached; consumers re-fetch state after
// (re)subscribing.
package realtime

import (
	"context"
	"fmt"

	"staff-chat/internal/models"
)

// Handler receives decoded events. It runs on the broker's delivery
// goroutine and must not block for long.
type Handler func(models.Event)

// Subscription is a live registration returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
}

// Broker publishes and fans out conversation events.
type Broker interface {
	Publish(ctx context.Context, ev models.Event) error
	Subscribe(ctx context.Context, conversationID int64, h Handler) (Subscription, error)
	Close() error
}

// Topic is the channel name for a conversation.
func Topic(conversationID int64) string {
	return fmt.Sprintf("staffchat:conversation:%d", conversationID)
}

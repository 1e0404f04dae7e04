package ws

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"staff-chat/internal/observability"
)

const wsRoutingKey = "ws_events.conversations"

func newConnID() string {
	return ulid.Make().String()
}

// publishWSEvent reports a websocket lifecycle event on the event bus and
// in metrics.
func publishWSEvent(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Headers:   observability.BuildHeaders(info.RequestID, info.TraceID),
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":            "conversation",
				"conversation_id": info.ConversationID,
				"event":           event,
				"conn_id":         info.ConnID,
				"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
				"reason":          reason,
			},
			"identity": map[string]interface{}{
				"participant_id": info.ParticipantID,
				"device_id":      info.DeviceID,
				"ip":             info.IP,
			},
		},
	})
}

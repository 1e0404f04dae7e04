package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"staff-chat/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         zerolog.Logger
}

// AuditEntry is one auditable chat action.
type AuditEntry struct {
	Level          string
	Action         string
	Text           string
	ParticipantID  string
	ConversationID int64
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	ParticipantID string       `json:"participant_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level          string `json:"level"`
	Action         string `json:"action"`
	Text           string `json:"text"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log zerolog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Emit publishes entry. Failures are logged and never returned; auditing
// must not fail the chat operation that triggered it.
func (e *AuditEmitter) Emit(ctx context.Context, entry AuditEntry) {
	if e == nil || e.publisher == nil {
		return
	}
	if entry.Level == "" {
		entry.Level = "INFO"
	}

	requestID := RequestIDFromContext(ctx)
	e.log.Debug().
		Str("action", entry.Action).
		Str("request_id", requestID).
		Str("participant_id", entry.ParticipantID).
		Int64("conversation_id", entry.ConversationID).
		Msg("audit emit")

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		TraceID:       observability.TraceIDFromContext(ctx),
		ParticipantID: entry.ParticipantID,
		Payload: AuditPayload{
			Level:          entry.Level,
			Action:         entry.Action,
			Text:           entry.Text,
			ConversationID: entry.ConversationID,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.log.Warn().Err(err).Str("action", entry.Action).Msg("audit publish failed")
	}
}

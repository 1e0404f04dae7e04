package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind tags push-channel payloads.
type EventKind string

const EventMessageInserted EventKind = "message_inserted"

var ErrMalformedEvent = errors.New("malformed event")

// Event is a push-channel notification. MessageInserted is the only
// variant today.
type Event interface {
	Kind() EventKind
	Conversation() int64
}

// MessageInserted announces a newly appended message.
type MessageInserted struct {
	ConversationID int64
	Message        Message
}

func (MessageInserted) Kind() EventKind { return EventMessageInserted }

func (e MessageInserted) Conversation() int64 { return e.ConversationID }

type wireEvent struct {
	Type           EventKind `json:"type"`
	ConversationID int64     `json:"conversation_id"`
	Message        *Message  `json:"message,omitempty"`
}

// EncodeEvent serializes an event for the wire.
func EncodeEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case MessageInserted:
		msg := e.Message
		return json.Marshal(wireEvent{Type: EventMessageInserted, ConversationID: e.ConversationID, Message: &msg})
	case *MessageInserted:
		return EncodeEvent(*e)
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", ErrMalformedEvent, ev)
	}
}

// DecodeEvent parses and validates a wire payload. Anything that is not a
// well-formed known variant is rejected here.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch w.Type {
	case EventMessageInserted:
		if w.Message == nil || w.Message.ID <= 0 || w.ConversationID <= 0 {
			return nil, fmt.Errorf("%w: message_inserted without message", ErrMalformedEvent)
		}
		if w.Message.ConversationID != w.ConversationID {
			return nil, fmt.Errorf("%w: conversation mismatch", ErrMalformedEvent)
		}
		return MessageInserted{ConversationID: w.ConversationID, Message: *w.Message}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, w.Type)
	}
}

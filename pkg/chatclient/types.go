package chatclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

type Conversation struct {
	ID              int64      `json:"id"`
	ParticipantLow  string     `json:"participant_low"`
	ParticipantHigh string     `json:"participant_high"`
	LastMessage     *string    `json:"last_message,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Resolution struct {
	Conversation Conversation `json:"conversation"`
	Created      bool         `json:"created"`
}

type ConversationSummary struct {
	ConversationID int64      `json:"conversation_id"`
	PartnerID      string     `json:"partner_id"`
	PartnerName    string     `json:"partner_name,omitempty"`
	LastMessage    *string    `json:"last_message,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	Unread         int        `json:"unread"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
}

type Watermark struct {
	ConversationID int64      `json:"conversation_id"`
	ParticipantID  string     `json:"participant_id"`
	LastReadAt     *time.Time `json:"last_read_at"`
}

type Unread struct {
	Total         int           `json:"total"`
	Conversations map[int64]int `json:"conversations"`
}

// MessageInserted is the only push event the server emits.
type MessageInserted struct {
	ConversationID int64
	Message        Message
}

const eventMessageInserted = "message_inserted"

var errUnknownEvent = errors.New("unknown push event")

type wireEvent struct {
	Type           string   `json:"type"`
	ConversationID int64    `json:"conversation_id"`
	Message        *Message `json:"message"`
}

func decodeEvent(data []byte) (MessageInserted, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return MessageInserted{}, err
	}
	if w.Type != eventMessageInserted {
		return MessageInserted{}, fmt.Errorf("%w: %q", errUnknownEvent, w.Type)
	}
	if w.Message == nil || w.Message.ID <= 0 || w.Message.ConversationID != w.ConversationID {
		return MessageInserted{}, fmt.Errorf("%w: malformed message", errUnknownEvent)
	}
	return MessageInserted{ConversationID: w.ConversationID, Message: *w.Message}, nil
}

// SortMessages orders by (CreatedAt, ID).
func SortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

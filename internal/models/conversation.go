package models

import (
	"sort"
	"time"
)

// Conversation is the single private chat between an unordered pair of
// participants. The pair is stored in canonical order so that
// ParticipantLow < ParticipantHigh.
type Conversation struct {
	ID              int64      `db:"id" json:"id"`
	ParticipantLow  string     `db:"participant_low" json:"participant_low"`
	ParticipantHigh string     `db:"participant_high" json:"participant_high"`
	LastMessage     *string    `db:"last_message" json:"last_message,omitempty"`
	LastMessageAt   *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether id is one side of the conversation.
func (c Conversation) HasParticipant(id string) bool {
	return id != "" && (c.ParticipantLow == id || c.ParticipantHigh == id)
}

// Partner returns the other participant from self's point of view.
func (c Conversation) Partner(self string) string {
	if c.ParticipantLow == self {
		return c.ParticipantHigh
	}
	return c.ParticipantLow
}

// LastActivity is the instant used to order conversation lists.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// CanonicalPair sorts two identities byte-wise so the same unordered pair
// always maps to the same (low, high) key.
func CanonicalPair(a, b string) (string, string) {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0], pair[1]
}

// ConversationSummary is the list-view projection of a conversation.
type ConversationSummary struct {
	ConversationID int64      `json:"conversation_id"`
	PartnerID      string     `json:"partner_id"`
	PartnerName    string     `json:"partner_name,omitempty"`
	LastMessage    *string    `json:"last_message,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	Unread         int        `json:"unread"`
	CreatedAt      time.Time  `json:"created_at"`
}

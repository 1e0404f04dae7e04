package models

import "time"

// ReadWatermark is how far a participant has read a conversation.
// A nil LastReadAt means the participant never opened it.
type ReadWatermark struct {
	ConversationID int64      `db:"conversation_id" json:"conversation_id"`
	ParticipantID  string     `db:"participant_id" json:"participant_id"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at"`
}

// Covers reports whether msg is at or before the watermark.
func (w ReadWatermark) Covers(msg Message) bool {
	return w.LastReadAt != nil && !msg.CreatedAt.After(*w.LastReadAt)
}

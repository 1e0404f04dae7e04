package ws

import "time"

type ConnInfo struct {
	ConnID         string
	ConversationID int64
	ParticipantID  string
	DeviceID       string
	IP             string
	RequestID      string
	TraceID        string
	ConnectedAt    time.Time
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPairIsOrderIndependent(t *testing.T) {
	low1, high1 := CanonicalPair("u2", "u1")
	low2, high2 := CanonicalPair("u1", "u2")

	assert.Equal(t, "u1", low1)
	assert.Equal(t, "u2", high1)
	assert.Equal(t, low1, low2)
	assert.Equal(t, high1, high2)
}

func TestConversationPartner(t *testing.T) {
	conv := Conversation{ParticipantLow: "a", ParticipantHigh: "b"}

	assert.Equal(t, "b", conv.Partner("a"))
	assert.Equal(t, "a", conv.Partner("b"))
	assert.True(t, conv.HasParticipant("a"))
	assert.False(t, conv.HasParticipant("c"))
	assert.False(t, conv.HasParticipant(""))
}

func TestSortMessagesBreaksTiesByID(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: 3, CreatedAt: t0.Add(time.Second)},
		{ID: 2, CreatedAt: t0},
		{ID: 1, CreatedAt: t0},
	}

	SortMessages(msgs)

	assert.Equal(t, []int64{1, 2, 3}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestWatermarkCovers(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	msg := Message{ID: 1, CreatedAt: t0}

	assert.False(t, ReadWatermark{}.Covers(msg))
	assert.True(t, ReadWatermark{LastReadAt: &t0}.Covers(msg))
	before := t0.Add(-time.Second)
	assert.False(t, ReadWatermark{LastReadAt: &before}.Covers(msg))
}

func TestEventRoundTrip(t *testing.T) {
	msg := Message{ID: 9, ConversationID: 4, SenderID: "u1", Body: "hello", CreatedAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}

	data, err := EncodeEvent(MessageInserted{ConversationID: 4, Message: msg})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message_inserted","conversation_id":4,"message":{"id":9,"conversation_id":4,"sender_id":"u1","body":"hello","created_at":"2026-01-01T09:00:00Z"}}`, string(data))

	ev, err := DecodeEvent(data)
	require.NoError(t, err)
	inserted, ok := ev.(MessageInserted)
	require.True(t, ok)
	assert.Equal(t, msg, inserted.Message)
}

func TestDecodeEventRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"unknown type":    `{"type":"message_deleted","conversation_id":1}`,
		"missing message": `{"type":"message_inserted","conversation_id":1}`,
		"mismatch":        `{"type":"message_inserted","conversation_id":1,"message":{"id":2,"conversation_id":3}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(payload))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

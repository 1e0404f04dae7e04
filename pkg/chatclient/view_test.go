package chatclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	closed bool
}

func (s *fakeSub) Close() error {
	s.closed = true
	return nil
}

type fakeAPI struct {
	mu          sync.Mutex
	recent      []Message
	beforeFetch func()
	sendErr     error
	markErr     error
	markReads   int
	onEvent     func(MessageInserted)
	onReconnect func()
	sub         *fakeSub
	nextID      int64
}

func (f *fakeAPI) Recent(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	if f.beforeFetch != nil {
		f.beforeFetch()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.recent...), nil
}

func (f *fakeAPI) Send(ctx context.Context, conversationID int64, body string) (Message, error) {
	if f.sendErr != nil {
		return Message{}, f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return Message{ID: f.nextID, ConversationID: conversationID, SenderID: "ana", Body: body, CreatedAt: at(f.nextID)}, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, conversationID int64, ts *time.Time) (Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads++
	return Watermark{}, f.markErr
}

func (f *fakeAPI) Subscribe(ctx context.Context, conversationID int64, onEvent func(MessageInserted), onReconnect func()) (Subscription, error) {
	f.onEvent, f.onReconnect = onEvent, onReconnect
	f.sub = &fakeSub{}
	return f.sub, nil
}

func (f *fakeAPI) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markReads
}

func at(sec int64) time.Time {
	return time.Date(2026, 5, 4, 9, 0, int(sec), 0, time.UTC)
}

func msg(id int64, sender string, sec int64) Message {
	return Message{ID: id, ConversationID: 1, SenderID: sender, Body: "m", CreatedAt: at(sec)}
}

func ids(msgs []Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestOpenViewDeduplicatesEventsRacingTheFetch(t *testing.T) {
	api := &fakeAPI{recent: []Message{msg(1, "ben", 1), msg(2, "ben", 2)}}
	api.beforeFetch = func() {
		// Message 2 is pushed while the initial fetch is in flight.
		api.onEvent(MessageInserted{ConversationID: 1, Message: msg(2, "ben", 2)})
	}

	v, err := OpenView(context.Background(), api, 1, "ana", ViewOptions{})
	require.NoError(t, err)
	defer v.Close()

	assert.Equal(t, []int64{1, 2}, ids(v.Messages()))
	assert.GreaterOrEqual(t, api.reads(), 1)
}

func TestViewOrdersOutOfOrderEvents(t *testing.T) {
	api := &fakeAPI{}
	v, err := OpenView(context.Background(), api, 1, "ana", ViewOptions{})
	require.NoError(t, err)
	defer v.Close()

	api.onEvent(MessageInserted{ConversationID: 1, Message: msg(5, "ben", 5)})
	api.onEvent(MessageInserted{ConversationID: 1, Message: msg(3, "ben", 3)})
	api.onEvent(MessageInserted{ConversationID: 1, Message: msg(4, "ben", 5)})
	api.onEvent(MessageInserted{ConversationID: 1, Message: msg(3, "ben", 3)})

	assert.Equal(t, []int64{3, 4, 5}, ids(v.Messages()))
}

func TestViewMarksReadOnlyForForeignEvents(t *testing.T) {
	api := &fakeAPI{}
	v, err := OpenView(context.Background(), api, 1, "ana", ViewOptions{})
	require.NoError(t, err)
	defer v.Close()
	require.Equal(t, 1, api.reads())

	api.onEvent(MessageInserted{ConversationID: 1, Message: msg(1, "ana", 1)})
	assert.Equal(t, 1, api.reads())

	api.onEvent(MessageInserted{ConversationID: 1, Message: msg(2, "ben", 2)})
	assert.Equal(t, 2, api.reads())
}

func TestViewSwallowsWatermarkFailures(t *testing.T) {
	api := &fakeAPI{markErr: errors.New("503")}
	v, err := OpenView(context.Background(), api, 1, "ana", ViewOptions{})
	require.NoError(t, err)
	defer v.Close()

	api.onEvent(MessageInserted{ConversationID: 1, Message: msg(2, "ben", 2)})
	assert.Equal(t, []int64{2}, ids(v.Messages()))
}

func TestViewResyncsAfterReconnect(t *testing.T) {
	api := &fakeAPI{}
	v, err := OpenView(context.Background(), api, 1, "ana", ViewOptions{})
	require.NoError(t, err)
	defer v.Close()

	api.mu.Lock()
	api.recent = []Message{msg(7, "ben", 7), msg(8, "ben", 8)}
	api.mu.Unlock()
	api.onReconnect()

	assert.Equal(t, []int64{7, 8}, ids(v.Messages()))
	assert.Equal(t, 2, api.reads())
}

func TestViewSendRendersImmediately(t *testing.T) {
	api := &fakeAPI{}
	var snapshots [][]Message
	v, err := OpenView(context.Background(), api, 1, "ana", ViewOptions{
		OnChange: func(msgs []Message) { snapshots = append(snapshots, msgs) },
	})
	require.NoError(t, err)
	defer v.Close()

	sent, err := v.Send(context.Background(), "hello")
	require.NoError(t, err)
	api.onEvent(MessageInserted{ConversationID: 1, Message: sent})

	assert.Equal(t, []int64{sent.ID}, ids(v.Messages()))
	assert.Len(t, snapshots, 1)
}

func TestViewSendFailureKeepsListUnchanged(t *testing.T) {
	api := &fakeAPI{sendErr: &APIError{Status: 403, Message: "not a conversation participant"}}
	v, err := OpenView(context.Background(), api, 1, "ana", ViewOptions{})
	require.NoError(t, err)
	defer v.Close()

	_, err = v.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Empty(t, v.Messages())
}

func TestClosedViewDiscardsLateResults(t *testing.T) {
	api := &fakeAPI{}
	v, err := OpenView(context.Background(), api, 1, "ana", ViewOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Close())
	assert.True(t, api.sub.closed)
	reads := api.reads()

	api.onEvent(MessageInserted{ConversationID: 1, Message: msg(9, "ben", 9)})
	api.mu.Lock()
	api.recent = []Message{msg(10, "ben", 10)}
	api.mu.Unlock()
	api.onReconnect()

	assert.Empty(t, v.Messages())
	assert.Equal(t, reads, api.reads())
	assert.NoError(t, v.Close())
}

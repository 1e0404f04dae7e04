package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/auth"
	"staff-chat/internal/mocks"
	"staff-chat/internal/models"
	"staff-chat/internal/realtime"
)

func newWSServer(t *testing.T, authorizer *mocks.ChatServiceMock) (*httptest.Server, *realtime.LocalBroker, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	broker := realtime.NewLocalBroker()
	hub := NewHub(broker, zerolog.Nop())
	handler := NewConversationWebSocketHandler(hub, authorizer, auth.StaticSessions{"tok-ana": "ana", "tok-cai": "cai"}, zerolog.Nop())

	r := gin.New()
	r.GET("/ws/conversations/:conversation_id", handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, broker, hub
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestHandshakeStreamsEvents(t *testing.T) {
	authorizer := new(mocks.ChatServiceMock)
	authorizer.On("Authorize", mock.Anything, int64(5), "ana").
		Return(models.Conversation{ID: 5, ParticipantLow: "ana", ParticipantHigh: "ben"}, nil)
	srv, broker, hub := newWSServer(t, authorizer)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/conversations/5?token=tok-ana"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients(5) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, broker.Publish(context.Background(), inserted(5, 42)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := models.DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ev.(models.MessageInserted).Message.ID)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return hub.Clients(5) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandshakeRejections(t *testing.T) {
	authorizer := new(mocks.ChatServiceMock)
	authorizer.On("Authorize", mock.Anything, int64(5), "cai").Return(nil, apperrors.ErrNotParticipant)
	authorizer.On("Authorize", mock.Anything, int64(9), "ana").Return(nil, apperrors.ErrConversationNotFound)
	srv, _, _ := newWSServer(t, authorizer)

	cases := []struct {
		name   string
		path   string
		status int
	}{
		{name: "bad id", path: "/ws/conversations/abc?token=tok-ana", status: http.StatusBadRequest},
		{name: "no token", path: "/ws/conversations/5", status: http.StatusUnauthorized},
		{name: "unknown token", path: "/ws/conversations/5?token=nope", status: http.StatusUnauthorized},
		{name: "not a member", path: "/ws/conversations/5?token=tok-cai", status: http.StatusForbidden},
		{name: "missing conversation", path: "/ws/conversations/9?token=tok-ana", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tc.path), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

package ws

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/auth"
	"staff-chat/internal/models"
	"staff-chat/internal/observability"
)

// Authorizer checks conversation membership.
type Authorizer interface {
	Authorize(ctx context.Context, conversationID int64, participant string) (models.Conversation, error)
}

// ConversationWebSocketHandler streams push events of one conversation.
type ConversationWebSocketHandler struct {
	hub        *Hub
	authorizer Authorizer
	verifier   auth.SessionVerifier
	log        zerolog.Logger
}

// NewConversationWebSocketHandler constructs a ConversationWebSocketHandler.
func NewConversationWebSocketHandler(hub *Hub, authorizer Authorizer, verifier auth.SessionVerifier, log zerolog.Logger) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{hub: hub, authorizer: authorizer, verifier: verifier, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, checks membership, upgrades the
// connection and attaches it to the hub.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil || conversationID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("staff-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	span.SetAttributes(attribute.Int64("conversation_id", conversationID))
	c.Request = c.Request.WithContext(ctx)

	participantID, err := h.verifier.Verify(ctx, bearerToken(c))
	if err != nil {
		status := http.StatusUnauthorized
		if apperrors.IsTransient(err) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "invalid token"})
		return
	}

	if _, err := h.authorizer.Authorize(ctx, conversationID, participantID); err != nil {
		c.JSON(handshakeStatus(err), gin.H{"error": apperrors.MessageOf(err)})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := observability.ClientInfoFromRequest(c.Request)
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = client.RequestID
	}
	info := ConnInfo{
		ConnID:         newConnID(),
		ConversationID: conversationID,
		ParticipantID:  participantID,
		DeviceID:       client.DeviceID,
		IP:             client.IP,
		RequestID:      requestID,
		TraceID:        span.SpanContext().TraceID().String(),
		ConnectedAt:    time.Now(),
	}

	// The hub subscription outlives the handshake request.
	joined, err := h.hub.Join(context.WithoutCancel(ctx), conversationID, conn, info)
	if err != nil {
		h.log.Warn().Err(err).Int64("conversation_id", conversationID).Msg("push subscribe failed")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "push channel unavailable"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	observability.IncWSActive()
	publishWSEvent(ctx, info, "ws_connect", "")
	h.log.Debug().Str("conn_id", info.ConnID).Int64("conversation_id", conversationID).Str("participant_id", participantID).Msg("websocket connected")

	go h.readLoop(conn, joined)
}

// readLoop drains client frames so control messages are processed and
// detaches the session when the socket closes.
func (h *ConversationWebSocketHandler) readLoop(conn *websocket.Conn, client *Client) {
	info := client.Info()
	var closeReason string
	defer func() {
		h.hub.Leave(info.ConversationID, client)
		observability.DecWSActive()
		publishWSEvent(context.Background(), info, "ws_disconnect", closeReason)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(context.Background(), info, "ws_error", closeReason)
			}
			return
		}
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

func handshakeStatus(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodePermissionDenied:
		return http.StatusForbidden
	case apperrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/models"
	"staff-chat/internal/services"
)

// ChatService is the conversation API the handlers drive.
type ChatService interface {
	ListStaff(ctx context.Context, requester string) ([]models.Participant, error)
	ListConversations(ctx context.Context, participant string) ([]models.ConversationSummary, error)
	ResolveConversation(ctx context.Context, requester, partner string) (services.Resolution, error)
	AppendMessage(ctx context.Context, conversationID int64, sender, body string) (models.Message, error)
	FetchRecent(ctx context.Context, conversationID int64, requester string, limit int) ([]models.Message, error)
	FetchBefore(ctx context.Context, conversationID int64, requester string, beforeID int64, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID int64, participant string, at *time.Time) (models.ReadWatermark, error)
	UnreadCounts(ctx context.Context, participant string) (map[int64]int, error)
}

// ChatHandler serves the conversation endpoints.
type ChatHandler struct {
	svc ChatService
	log zerolog.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(svc ChatService, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, log: log}
}

// ListStaff returns the staff members the caller can message.
func (h *ChatHandler) ListStaff(c *gin.Context) {
	staff, err := h.svc.ListStaff(c.Request.Context(), participantIDFromContext(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"staff": staff})
}

// ListConversations returns the caller's conversations with unread counts.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	list, err := h.svc.ListConversations(c.Request.Context(), participantIDFromContext(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// StartConversation resolves the conversation with partner_id, creating it
// on first contact.
func (h *ChatHandler) StartConversation(c *gin.Context) {
	var req struct {
		PartnerID string `json:"partner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.ResolveConversation(c.Request.Context(), participantIDFromContext(c), req.PartnerID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// GetMessages returns the recent window, or the page before ?before=<id>.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	var (
		msgs []models.Message
		err  error
	)
	requester := participantIDFromContext(c)
	if raw := c.Query("before"); raw != "" {
		beforeID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		msgs, err = h.svc.FetchBefore(c.Request.Context(), conversationID, requester, beforeID, limit)
	} else {
		msgs, err = h.svc.FetchRecent(c.Request.Context(), conversationID, requester, limit)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage appends a message from the caller.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.AppendMessage(c.Request.Context(), conversationID, participantIDFromContext(c), req.Body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead advances the caller's read watermark. Without read_at the
// store's current time is used.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	var req struct {
		ReadAt *time.Time `json:"read_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wm, err := h.svc.MarkRead(c.Request.Context(), conversationID, participantIDFromContext(c), req.ReadAt)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wm)
}

// Unread returns per-conversation unread counts and their total.
func (h *ChatHandler) Unread(c *gin.Context) {
	counts, err := h.svc.UnreadCounts(c.Request.Context(), participantIDFromContext(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "conversations": counts})
}

// Register mounts the conversation routes on r.
func (h *ChatHandler) Register(r gin.IRouter) {
	r.GET("/staff", h.ListStaff)
	r.GET("/conversations", h.ListConversations)
	r.POST("/conversations", h.StartConversation)
	r.GET("/conversations/:conversation_id/messages", h.GetMessages)
	r.POST("/conversations/:conversation_id/messages", h.PostMessage)
	r.POST("/conversations/:conversation_id/read", h.MarkRead)
	r.GET("/unread", h.Unread)
}

func (h *ChatHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", requestIDFromContext(c)).
			Str("route", c.FullPath()).
			Msg("request failed")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": apperrors.MessageOf(err)})
}

func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.CodePermissionDenied:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeAlreadyExists:
		return http.StatusConflict
	case apperrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseConversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

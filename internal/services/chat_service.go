package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/models"
	"staff-chat/internal/observability"
	"staff-chat/internal/realtime"
	"staff-chat/internal/repositories"
	"staff-chat/internal/telemetry"
)

const (
	// MaxBodyLength is the longest accepted message body, in runes.
	MaxBodyLength = 4000
	// DefaultRecentLimit bounds FetchRecent when no limit is configured.
	DefaultRecentLimit = 300
)

// Auditor receives audit entries for chat actions.
type Auditor interface {
	Emit(ctx context.Context, entry telemetry.AuditEntry)
}

// Resolution is the result of ResolveConversation.
type Resolution struct {
	Conversation models.Conversation `json:"conversation"`
	Created      bool                `json:"created"`
}

// Deps are the collaborators of ChatService.
type Deps struct {
	Participants  repositories.ParticipantRepository
	Conversations repositories.ConversationRepository
	Messages      repositories.MessageRepository
	Watermarks    repositories.WatermarkRepository
	Broker        realtime.Broker
	Audit         Auditor
	Log           zerolog.Logger

	// RecentLimit caps FetchRecent. Zero means DefaultRecentLimit.
	RecentLimit int
	// BackOff builds the retry policy for idempotent reads.
	BackOff func() backoff.BackOff
}

// ChatService implements conversation resolution, message storage and
// read tracking. Every call takes the acting participant explicitly.
type ChatService struct {
	participants  repositories.ParticipantRepository
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	watermarks    repositories.WatermarkRepository
	broker        realtime.Broker
	audit         Auditor
	log           zerolog.Logger
	recentLimit   int
	newBackOff    func() backoff.BackOff
	tracer        trace.Tracer
}

// NewChatService builds a ChatService.
func NewChatService(d Deps) *ChatService {
	s := &ChatService{
		participants:  d.Participants,
		conversations: d.Conversations,
		messages:      d.Messages,
		watermarks:    d.Watermarks,
		broker:        d.Broker,
		audit:         d.Audit,
		log:           d.Log.With().Str("component", "chat_service").Logger(),
		recentLimit:   d.RecentLimit,
		newBackOff:    d.BackOff,
		tracer:        otel.Tracer("staff-chat/services"),
	}
	if s.recentLimit <= 0 {
		s.recentLimit = DefaultRecentLimit
	}
	if s.newBackOff == nil {
		s.newBackOff = DefaultBackOff
	}
	return s
}

// RecentLimit reports the configured FetchRecent cap.
func (s *ChatService) RecentLimit() int {
	return s.recentLimit
}

func (s *ChatService) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperrors.MessageOf(err))
	}
	span.End()
}

// ResolveConversation returns the single conversation between requester and
// partner, creating it and both read watermarks on first contact.
func (s *ChatService) ResolveConversation(ctx context.Context, requester, partner string) (res Resolution, err error) {
	ctx, span := s.start(ctx, "chat.resolve_conversation",
		attribute.String("requester", requester), attribute.String("partner", partner))
	defer func() { endSpan(span, err) }()

	requester, partner = strings.TrimSpace(requester), strings.TrimSpace(partner)
	if requester == "" || partner == "" {
		return Resolution{}, apperrors.ErrMissingParticipant
	}
	if requester == partner {
		return Resolution{}, apperrors.ErrSelfConversation
	}

	p, err := retryRead(ctx, s, "get_participant", func() (models.Participant, error) {
		return s.participants.GetParticipant(ctx, partner)
	})
	if err != nil {
		return Resolution{}, err
	}
	if !p.Active {
		return Resolution{}, apperrors.ErrParticipantNotFound
	}

	low, high := models.CanonicalPair(requester, partner)
	conv, err := retryRead(ctx, s, "find_by_pair", func() (models.Conversation, error) {
		return s.conversations.FindByPair(ctx, low, high)
	})
	created := false
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrConversationNotFound):
		conv, created, err = s.conversations.CreatePair(ctx, low, high)
		if err != nil {
			return Resolution{}, err
		}
	default:
		return Resolution{}, err
	}

	if _, err = retryRead(ctx, s, "ensure_watermarks", func() (struct{}, error) {
		return struct{}{}, s.watermarks.EnsureWatermarks(ctx, conv.ID, low, high)
	}); err != nil {
		return Resolution{}, err
	}

	span.SetAttributes(attribute.Int64("conversation_id", conv.ID), attribute.Bool("created", created))
	if created {
		observability.IncConversationCreated()
		s.log.Info().Int64("conversation_id", conv.ID).Str("requester", requester).Str("partner", partner).Msg("conversation created")
		s.emitAudit(ctx, telemetry.AuditEntry{
			Action:         "conversation.created",
			Text:           "conversation created",
			ParticipantID:  requester,
			ConversationID: conv.ID,
		})
	}
	return Resolution{Conversation: conv, Created: created}, nil
}

// Authorize returns the conversation when participant belongs to it.
func (s *ChatService) Authorize(ctx context.Context, conversationID int64, participant string) (models.Conversation, error) {
	if conversationID <= 0 {
		return models.Conversation{}, apperrors.ErrMissingConversation
	}
	if strings.TrimSpace(participant) == "" {
		return models.Conversation{}, apperrors.ErrMissingParticipant
	}
	conv, err := retryRead(ctx, s, "get_conversation", func() (models.Conversation, error) {
		return s.conversations.GetConversation(ctx, conversationID)
	})
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasParticipant(participant) {
		return models.Conversation{}, apperrors.ErrNotParticipant
	}
	return conv, nil
}

// AppendMessage stores a message from sender and publishes it to the
// conversation's push channel. The stored record is returned even when the
// publish fails.
func (s *ChatService) AppendMessage(ctx context.Context, conversationID int64, sender, body string) (msg models.Message, err error) {
	ctx, span := s.start(ctx, "chat.append_message",
		attribute.Int64("conversation_id", conversationID), attribute.String("sender", sender))
	defer func() { endSpan(span, err) }()

	body = strings.TrimSpace(body)
	if body == "" {
		return models.Message{}, apperrors.ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return models.Message{}, apperrors.ErrBodyTooLong
	}

	if _, err = s.Authorize(ctx, conversationID, sender); err != nil {
		return models.Message{}, err
	}

	msg, err = s.messages.AppendMessage(ctx, conversationID, sender, body)
	if err != nil {
		return models.Message{}, err
	}
	observability.IncMessageAppended()
	span.SetAttributes(attribute.Int64("message_id", msg.ID))

	s.publish(ctx, models.MessageInserted{ConversationID: conversationID, Message: msg})
	s.emitAudit(ctx, telemetry.AuditEntry{
		Action:         "message.sent",
		Text:           "message sent",
		ParticipantID:  sender,
		ConversationID: conversationID,
	})
	return msg, nil
}

func (s *ChatService) publish(ctx context.Context, ev models.Event) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, ev); err != nil {
		observability.IncPushEvent("publish_failed")
		s.log.Warn().Err(err).Int64("conversation_id", ev.Conversation()).Msg("push publish failed")
		return
	}
	observability.IncPushEvent("published")
}

// FetchRecent returns the newest messages of a conversation in ascending
// (created_at, id) order. limit <= 0 or above the cap uses the cap.
func (s *ChatService) FetchRecent(ctx context.Context, conversationID int64, requester string, limit int) (msgs []models.Message, err error) {
	ctx, span := s.start(ctx, "chat.fetch_recent", attribute.Int64("conversation_id", conversationID))
	defer func() { endSpan(span, err) }()

	if _, err = s.Authorize(ctx, conversationID, requester); err != nil {
		return nil, err
	}
	return retryRead(ctx, s, "list_recent", func() ([]models.Message, error) {
		return s.messages.ListRecent(ctx, conversationID, s.clampLimit(limit))
	})
}

// FetchBefore pages backwards through history: up to limit messages strictly
// older than beforeID, ascending.
func (s *ChatService) FetchBefore(ctx context.Context, conversationID int64, requester string, beforeID int64, limit int) (msgs []models.Message, err error) {
	ctx, span := s.start(ctx, "chat.fetch_before",
		attribute.Int64("conversation_id", conversationID), attribute.Int64("before_id", beforeID))
	defer func() { endSpan(span, err) }()

	if beforeID <= 0 {
		return nil, apperrors.InvalidArg("before must be a message id")
	}
	if _, err = s.Authorize(ctx, conversationID, requester); err != nil {
		return nil, err
	}
	return retryRead(ctx, s, "list_before", func() ([]models.Message, error) {
		return s.messages.ListBefore(ctx, conversationID, beforeID, s.clampLimit(limit))
	})
}

func (s *ChatService) clampLimit(limit int) int {
	if limit <= 0 || limit > s.recentLimit {
		return s.recentLimit
	}
	return limit
}

// MarkRead advances participant's watermark to at, or to the store's current
// time when at is nil. The watermark never moves backwards.
func (s *ChatService) MarkRead(ctx context.Context, conversationID int64, participant string, at *time.Time) (wm models.ReadWatermark, err error) {
	ctx, span := s.start(ctx, "chat.mark_read", attribute.Int64("conversation_id", conversationID))
	defer func() { endSpan(span, err) }()

	if _, err = s.Authorize(ctx, conversationID, participant); err != nil {
		return models.ReadWatermark{}, err
	}
	wm, err = retryRead(ctx, s, "mark_read", func() (models.ReadWatermark, error) {
		return s.watermarks.MarkRead(ctx, conversationID, participant, at)
	})
	if err != nil {
		observability.IncWatermarkUpdate("error")
		return models.ReadWatermark{}, err
	}
	observability.IncWatermarkUpdate("ok")
	return wm, nil
}

// UnreadCounts returns, for every conversation of participant, the number of
// partner messages newer than the participant's watermark.
func (s *ChatService) UnreadCounts(ctx context.Context, participant string) (counts map[int64]int, err error) {
	ctx, span := s.start(ctx, "chat.unread_counts")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(participant) == "" {
		return nil, apperrors.ErrMissingParticipant
	}
	return retryRead(ctx, s, "unread_counts", func() (map[int64]int, error) {
		return s.watermarks.UnreadCounts(ctx, participant)
	})
}

// ListConversations returns participant's conversations, most recently
// active first, with partner names and unread counts.
func (s *ChatService) ListConversations(ctx context.Context, participant string) (out []models.ConversationSummary, err error) {
	ctx, span := s.start(ctx, "chat.list_conversations")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(participant) == "" {
		return nil, apperrors.ErrMissingParticipant
	}
	convs, err := retryRead(ctx, s, "list_conversations", func() ([]models.Conversation, error) {
		return s.conversations.ListForParticipant(ctx, participant)
	})
	if err != nil {
		return nil, err
	}

	partnerIDs := make([]string, 0, len(convs))
	for _, conv := range convs {
		partnerIDs = append(partnerIDs, conv.Partner(participant))
	}
	partners, err := retryRead(ctx, s, "get_participants", func() ([]models.Participant, error) {
		return s.participants.GetParticipants(ctx, partnerIDs)
	})
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(partners))
	for _, p := range partners {
		names[p.ID] = p.DisplayName
	}

	counts, err := s.UnreadCounts(ctx, participant)
	if err != nil {
		return nil, err
	}

	out = make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		partnerID := conv.Partner(participant)
		out = append(out, models.ConversationSummary{
			ConversationID: conv.ID,
			PartnerID:      partnerID,
			PartnerName:    names[partnerID],
			LastMessage:    conv.LastMessage,
			LastMessageAt:  conv.LastMessageAt,
			Unread:         counts[conv.ID],
			CreatedAt:      conv.CreatedAt,
		})
	}
	return out, nil
}

// ListStaff returns the active staff members requester can start a
// conversation with.
func (s *ChatService) ListStaff(ctx context.Context, requester string) ([]models.Participant, error) {
	all, err := retryRead(ctx, s, "list_participants", func() ([]models.Participant, error) {
		return s.participants.ListActiveParticipants(ctx)
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Participant, 0, len(all))
	for _, p := range all {
		if p.ID != requester {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *ChatService) emitAudit(ctx context.Context, entry telemetry.AuditEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, entry)
}

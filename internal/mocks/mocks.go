package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"staff-chat/internal/models"
	"staff-chat/internal/realtime"
	"staff-chat/internal/services"
	"staff-chat/internal/telemetry"
)

type ParticipantRepositoryMock struct {
	mock.Mock
}

func (m *ParticipantRepositoryMock) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	args := m.Called(ctx, id)
	var p models.Participant
	if val := args.Get(0); val != nil {
		p = val.(models.Participant)
	}
	return p, args.Error(1)
}

func (m *ParticipantRepositoryMock) GetParticipants(ctx context.Context, ids []string) ([]models.Participant, error) {
	args := m.Called(ctx, ids)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

func (m *ParticipantRepositoryMock) ListActiveParticipants(ctx context.Context) ([]models.Participant, error) {
	args := m.Called(ctx)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) FindByPair(ctx context.Context, low, high string) (models.Conversation, error) {
	args := m.Called(ctx, low, high)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) CreatePair(ctx context.Context, low, high string) (models.Conversation, bool, error) {
	args := m.Called(ctx, low, high)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, id int64) (models.Conversation, error) {
	args := m.Called(ctx, id)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListForParticipant(ctx context.Context, participantID string) ([]models.Conversation, error) {
	args := m.Called(ctx, participantID)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) AppendMessage(ctx context.Context, conversationID int64, senderID string, body string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, body)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListRecent(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) ListBefore(ctx context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, beforeID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type WatermarkRepositoryMock struct {
	mock.Mock
}

func (m *WatermarkRepositoryMock) EnsureWatermarks(ctx context.Context, conversationID int64, participantIDs ...string) error {
	args := m.Called(ctx, conversationID, participantIDs)
	return args.Error(0)
}

func (m *WatermarkRepositoryMock) MarkRead(ctx context.Context, conversationID int64, participantID string, at *time.Time) (models.ReadWatermark, error) {
	args := m.Called(ctx, conversationID, participantID, at)
	var wm models.ReadWatermark
	if val := args.Get(0); val != nil {
		wm = val.(models.ReadWatermark)
	}
	return wm, args.Error(1)
}

func (m *WatermarkRepositoryMock) GetWatermark(ctx context.Context, conversationID int64, participantID string) (models.ReadWatermark, error) {
	args := m.Called(ctx, conversationID, participantID)
	var wm models.ReadWatermark
	if val := args.Get(0); val != nil {
		wm = val.(models.ReadWatermark)
	}
	return wm, args.Error(1)
}

func (m *WatermarkRepositoryMock) UnreadCounts(ctx context.Context, participantID string) (map[int64]int, error) {
	args := m.Called(ctx, participantID)
	var counts map[int64]int
	if val := args.Get(0); val != nil {
		counts = val.(map[int64]int)
	}
	return counts, args.Error(1)
}

type BrokerMock struct {
	mock.Mock
}

func (m *BrokerMock) Publish(ctx context.Context, ev models.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *BrokerMock) Subscribe(ctx context.Context, conversationID int64, h realtime.Handler) (realtime.Subscription, error) {
	args := m.Called(ctx, conversationID, h)
	var sub realtime.Subscription
	if val := args.Get(0); val != nil {
		sub = val.(realtime.Subscription)
	}
	return sub, args.Error(1)
}

func (m *BrokerMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type AuditorMock struct {
	mock.Mock
}

func (m *AuditorMock) Emit(ctx context.Context, entry telemetry.AuditEntry) {
	m.Called(ctx, entry)
}

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) ListStaff(ctx context.Context, requester string) ([]models.Participant, error) {
	args := m.Called(ctx, requester)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) ListConversations(ctx context.Context, participant string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, participant)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) ResolveConversation(ctx context.Context, requester, partner string) (services.Resolution, error) {
	args := m.Called(ctx, requester, partner)
	var res services.Resolution
	if val := args.Get(0); val != nil {
		res = val.(services.Resolution)
	}
	return res, args.Error(1)
}

func (m *ChatServiceMock) Authorize(ctx context.Context, conversationID int64, participant string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID, participant)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ChatServiceMock) AppendMessage(ctx context.Context, conversationID int64, sender, body string) (models.Message, error) {
	args := m.Called(ctx, conversationID, sender, body)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) FetchRecent(ctx context.Context, conversationID int64, requester string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, requester, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatServiceMock) FetchBefore(ctx context.Context, conversationID int64, requester string, beforeID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, requester, beforeID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatServiceMock) MarkRead(ctx context.Context, conversationID int64, participant string, at *time.Time) (models.ReadWatermark, error) {
	args := m.Called(ctx, conversationID, participant, at)
	var wm models.ReadWatermark
	if val := args.Get(0); val != nil {
		wm = val.(models.ReadWatermark)
	}
	return wm, args.Error(1)
}

func (m *ChatServiceMock) UnreadCounts(ctx context.Context, participant string) (map[int64]int, error) {
	args := m.Called(ctx, participant)
	var counts map[int64]int
	if val := args.Get(0); val != nil {
		counts = val.(map[int64]int)
	}
	return counts, args.Error(1)
}

type SessionVerifierMock struct {
	mock.Mock
}

func (m *SessionVerifierMock) Verify(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

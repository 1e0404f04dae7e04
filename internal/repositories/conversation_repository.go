package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/models"
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	FindByPair(ctx context.Context, low, high string) (models.Conversation, error)
	CreatePair(ctx context.Context, low, high string) (models.Conversation, bool, error)
	GetConversation(ctx context.Context, id int64) (models.Conversation, error)
	ListForParticipant(ctx context.Context, participantID string) ([]models.Conversation, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, participant_low, participant_high, last_message, last_message_at, created_at`

// FindByPair looks up the conversation for a canonical pair. If legacy
// duplicates exist the oldest one wins.
func (r *ConversationRepo) FindByPair(ctx context.Context, low, high string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations
        WHERE participant_low=$1 AND participant_high=$2 ORDER BY id LIMIT 1`, low, high)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, apperrors.ErrConversationNotFound
	}
	return conv, classify("find conversation", err)
}

// CreatePair inserts the conversation for a canonical pair. When a
// concurrent caller already inserted it, the existing row is returned with
// created=false.
func (r *ConversationRepo) CreatePair(ctx context.Context, low, high string) (models.Conversation, bool, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `INSERT INTO conversations (participant_low, participant_high) VALUES ($1, $2)
        ON CONFLICT (participant_low, participant_high) DO NOTHING
        RETURNING `+conversationColumns, low, high)
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := r.FindByPair(ctx, low, high)
		return existing, false, findErr
	}
	if err != nil {
		return models.Conversation{}, false, classify("create conversation", err)
	}
	return conv, true, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, id int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, apperrors.ErrConversationNotFound
	}
	return conv, classify("get conversation", err)
}

// ListForParticipant returns the participant's conversations, most recently
// active first.
func (r *ConversationRepo) ListForParticipant(ctx context.Context, participantID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT `+conversationColumns+` FROM conversations
        WHERE participant_low=$1 OR participant_high=$1
        ORDER BY COALESCE(last_message_at, created_at) DESC, id DESC`, participantID)
	return convs, classify("list conversations", err)
}

package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/models"
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, conversationID int64, senderID string, body string) (models.Message, error)
	ListRecent(ctx context.Context, conversationID int64, limit int) ([]models.Message, error)
	ListBefore(ctx context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// appendMessageQuery inserts the message, refreshes the conversation's
// last-message cache and advances the sender's watermark in one statement,
// so the row's created_at is stamped as close to its commit as possible.
const appendMessageQuery = `WITH ins AS (
        INSERT INTO messages (conversation_id, sender_id, body) VALUES ($1, $2, $3)
        RETURNING id, conversation_id, sender_id, body, created_at
    ), cache AS (
        UPDATE conversations c SET last_message = ins.body, last_message_at = ins.created_at
        FROM ins
        WHERE c.id = ins.conversation_id AND (c.last_message_at IS NULL OR c.last_message_at <= ins.created_at)
    ), sender AS (
        INSERT INTO read_watermarks (conversation_id, participant_id, last_read_at, updated_at)
        SELECT conversation_id, sender_id, created_at, NOW() FROM ins
        ON CONFLICT (conversation_id, participant_id) DO UPDATE
        SET last_read_at = GREATEST(read_watermarks.last_read_at, EXCLUDED.last_read_at), updated_at = NOW()
    )
    SELECT id, conversation_id, sender_id, body, created_at FROM ins`

// AppendMessage stores a message. The cache and sender watermark updates
// are atomic with the insert.
func (r *MessageRepo) AppendMessage(ctx context.Context, conversationID int64, senderID string, body string) (models.Message, error) {
	var msg models.Message
	if err := r.db.GetContext(ctx, &msg, appendMessageQuery, conversationID, senderID, body); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return models.Message{}, apperrors.ErrConversationNotFound
		}
		return models.Message{}, classify("append message", err)
	}
	return msg, nil
}

// ListRecent returns the newest limit messages in ascending order.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	query := `SELECT id, conversation_id, sender_id, body, created_at FROM (
            SELECT id, conversation_id, sender_id, body, created_at
            FROM messages
            WHERE conversation_id=$1
            ORDER BY created_at DESC, id DESC
            LIMIT $2
        ) recent
        ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, limit)
	return msgs, classify("list recent messages", err)
}

// ListBefore returns up to limit messages strictly older than beforeID, in
// ascending order. An unknown cursor yields an empty page.
func (r *MessageRepo) ListBefore(ctx context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error) {
	query := `SELECT id, conversation_id, sender_id, body, created_at FROM (
            SELECT m.id, m.conversation_id, m.sender_id, m.body, m.created_at
            FROM messages m
            JOIN messages c ON c.id=$2 AND c.conversation_id=$1
            WHERE m.conversation_id=$1 AND (m.created_at, m.id) < (c.created_at, c.id)
            ORDER BY m.created_at DESC, m.id DESC
            LIMIT $3
        ) page
        ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, beforeID, limit)
	return msgs, classify("list messages before", err)
}

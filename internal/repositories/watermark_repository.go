package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/models"
)

var ErrWatermarkNotFound = apperrors.NotFound("watermark not found")

// WatermarkRepository tracks per-participant read positions.
type WatermarkRepository interface {
	EnsureWatermarks(ctx context.Context, conversationID int64, participantIDs ...string) error
	MarkRead(ctx context.Context, conversationID int64, participantID string, at *time.Time) (models.ReadWatermark, error)
	GetWatermark(ctx context.Context, conversationID int64, participantID string) (models.ReadWatermark, error)
	UnreadCounts(ctx context.Context, participantID string) (map[int64]int, error)
}

// WatermarkRepo is a sqlx implementation of WatermarkRepository.
type WatermarkRepo struct {
	db *sqlx.DB
}

// NewWatermarkRepo constructs a WatermarkRepo.
func NewWatermarkRepo(db *sqlx.DB) *WatermarkRepo {
	return &WatermarkRepo{db: db}
}

// EnsureWatermarks creates a never-read row for each participant that has
// none. Existing rows are left untouched.
func (r *WatermarkRepo) EnsureWatermarks(ctx context.Context, conversationID int64, participantIDs ...string) error {
	for _, id := range participantIDs {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO read_watermarks (conversation_id, participant_id, last_read_at)
            VALUES ($1, $2, NULL)
            ON CONFLICT (conversation_id, participant_id) DO NOTHING`, conversationID, id); err != nil {
			return classify("ensure watermark", err)
		}
	}
	return nil
}

// MarkRead moves the watermark to at, or to the database clock when at is
// nil. The stored value never moves backwards and never passes the
// database's current time.
func (r *WatermarkRepo) MarkRead(ctx context.Context, conversationID int64, participantID string, at *time.Time) (models.ReadWatermark, error) {
	var wm models.ReadWatermark
	err := r.db.GetContext(ctx, &wm, `INSERT INTO read_watermarks (conversation_id, participant_id, last_read_at, updated_at)
        VALUES ($1, $2, LEAST(COALESCE($3::timestamptz, clock_timestamp()), clock_timestamp()), NOW())
        ON CONFLICT (conversation_id, participant_id) DO UPDATE
        SET last_read_at = GREATEST(read_watermarks.last_read_at, EXCLUDED.last_read_at), updated_at = NOW()
        RETURNING conversation_id, participant_id, last_read_at`, conversationID, participantID, at)
	return wm, classify("mark read", err)
}

// GetWatermark fetches one watermark row.
func (r *WatermarkRepo) GetWatermark(ctx context.Context, conversationID int64, participantID string) (models.ReadWatermark, error) {
	var wm models.ReadWatermark
	err := r.db.GetContext(ctx, &wm, `SELECT conversation_id, participant_id, last_read_at FROM read_watermarks
        WHERE conversation_id=$1 AND participant_id=$2`, conversationID, participantID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReadWatermark{}, ErrWatermarkNotFound
	}
	return wm, classify("get watermark", err)
}

// UnreadCounts counts, per conversation of the participant, the partner's
// messages newer than the participant's watermark.
func (r *WatermarkRepo) UnreadCounts(ctx context.Context, participantID string) (map[int64]int, error) {
	query := `SELECT c.id AS conversation_id, COUNT(m.id) AS unread
        FROM conversations c
        LEFT JOIN read_watermarks w ON w.conversation_id = c.id AND w.participant_id = $1
        LEFT JOIN messages m ON m.conversation_id = c.id
            AND m.sender_id <> $1
            AND (w.last_read_at IS NULL OR m.created_at > w.last_read_at)
        WHERE c.participant_low = $1 OR c.participant_high = $1
        GROUP BY c.id`
	var rows []struct {
		ConversationID int64 `db:"conversation_id"`
		Unread         int   `db:"unread"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, participantID); err != nil {
		return nil, classify("unread counts", err)
	}
	counts := make(map[int64]int, len(rows))
	for _, row := range rows {
		counts[row.ConversationID] = row.Unread
	}
	return counts, nil
}

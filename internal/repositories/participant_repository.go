package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/models"
)

// ParticipantRepository reads the staff directory.
type ParticipantRepository interface {
	GetParticipant(ctx context.Context, id string) (models.Participant, error)
	GetParticipants(ctx context.Context, ids []string) ([]models.Participant, error)
	ListActiveParticipants(ctx context.Context) ([]models.Participant, error)
}

// ParticipantRepo is a sqlx implementation of ParticipantRepository.
type ParticipantRepo struct {
	db *sqlx.DB
}

// NewParticipantRepo constructs a ParticipantRepo.
func NewParticipantRepo(db *sqlx.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

// GetParticipant fetches one staff member, active or not.
func (r *ParticipantRepo) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT id, display_name, active FROM staff WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, apperrors.ErrParticipantNotFound
	}
	return p, classify("get participant", err)
}

// GetParticipants fetches several staff members in one query. Unknown ids
// are skipped.
func (r *ParticipantRepo) GetParticipants(ctx context.Context, ids []string) ([]models.Participant, error) {
	if len(ids) == 0 {
		return []models.Participant{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, display_name, active FROM staff WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var out []models.Participant
	err = r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...)
	return out, classify("get participants", err)
}

// ListActiveParticipants returns the directory of staff that can be messaged.
func (r *ParticipantRepo) ListActiveParticipants(ctx context.Context) ([]models.Participant, error) {
	var out []models.Participant
	err := r.db.SelectContext(ctx, &out, `SELECT id, display_name, active FROM staff WHERE active ORDER BY display_name, id`)
	return out, classify("list participants", err)
}

package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"mentorbot/internal/models"
)

type ModerationRepository interface {
	// Create inserts the audit record for a moderated message. Returns
	// ErrDuplicate if a record already exists for the message.
	Create(ctx context.Context, rec *models.ModerationRecord) error
	Recent(ctx context.Context, limit int) ([]models.ModerationRecord, error)
	CountByAction(ctx context.Context, action string) (int64, error)
}

type moderationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewModerationRepository(db *sqlx.DB, logger *zap.Logger) ModerationRepository {
	return &moderationRepository{db: db, logger: logger}
}

func (r *moderationRepository) Create(ctx context.Context, rec *models.ModerationRecord) error {
	query := `INSERT INTO moderation_records (message_id, participant_id, action, reason, confidence, provider)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, moderated_at`
	err := r.db.QueryRowxContext(ctx, query, rec.MessageID, rec.ParticipantID, rec.Action,
		rec.Reason, rec.Confidence, rec.Provider).
		Scan(&rec.ID, &rec.ModeratedAt)
	return mapErr(err)
}

func (r *moderationRepository) Recent(ctx context.Context, limit int) ([]models.ModerationRecord, error) {
	var records []models.ModerationRecord
	query := `SELECT * FROM moderation_records ORDER BY moderated_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *moderationRepository) CountByAction(ctx context.Context, action string) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM moderation_records WHERE action = $1`
	err := r.db.GetContext(ctx, &count, query, action)
	return count, err
}

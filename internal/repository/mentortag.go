package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"mentorbot/internal/models"
)

type MentorTagRepository interface {
	// Create inserts one mentor tag. Returns ErrDuplicate if the
	// (message, mentor) pair was already tagged.
	Create(ctx context.Context, tag *models.MentorTag) error
	ForMessage(ctx context.Context, messageID int64) ([]models.MentorTag, error)
	Count(ctx context.Context) (int64, error)
}

type mentorTagRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewMentorTagRepository(db *sqlx.DB, logger *zap.Logger) MentorTagRepository {
	return &mentorTagRepository{db: db, logger: logger}
}

func (r *mentorTagRepository) Create(ctx context.Context, tag *models.MentorTag) error {
	query := `INSERT INTO mentor_tags (message_id, mentor_id, reason)
	          VALUES ($1, $2, $3) RETURNING id, tagged_at`
	err := r.db.QueryRowxContext(ctx, query, tag.MessageID, tag.MentorID, tag.Reason).
		Scan(&tag.ID, &tag.TaggedAt)
	return mapErr(err)
}

func (r *mentorTagRepository) ForMessage(ctx context.Context, messageID int64) ([]models.MentorTag, error) {
	var tags []models.MentorTag
	query := `SELECT * FROM mentor_tags WHERE message_id = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &tags, query, messageID); err != nil {
		return nil, err
	}
	return tags, nil
}

func (r *mentorTagRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM mentor_tags`)
	return count, err
}

package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"mentorbot/internal/models"
)

type KnowledgeRepository interface {
	Create(ctx context.Context, entry *models.KnowledgeEntry) error
	GetByID(ctx context.Context, id int64) (*models.KnowledgeEntry, error)
	All(ctx context.Context) ([]models.KnowledgeEntry, error)
	Delete(ctx context.Context, id int64) (bool, error)
	// IncrementMatchCount atomically bumps the match counter for an entry.
	// Counters only increase; no broader lock is taken.
	IncrementMatchCount(ctx context.Context, id int64) error
	TopMatched(ctx context.Context, limit int) ([]models.KnowledgeEntry, error)
}

type knowledgeRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewKnowledgeRepository(db *sqlx.DB, logger *zap.Logger) KnowledgeRepository {
	return &knowledgeRepository{db: db, logger: logger}
}

func (r *knowledgeRepository) Create(ctx context.Context, entry *models.KnowledgeEntry) error {
	query := `INSERT INTO knowledge_entries (question, answer, category, embedding, created_by)
	          VALUES ($1, $2, $3, $4, $5) RETURNING id, times_matched, created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, query, entry.Question, entry.Answer, entry.Category,
		entry.Embedding, entry.CreatedBy).
		Scan(&entry.ID, &entry.TimesMatched, &entry.CreatedAt, &entry.UpdatedAt)
	return mapErr(err)
}

func (r *knowledgeRepository) GetByID(ctx context.Context, id int64) (*models.KnowledgeEntry, error) {
	var entry models.KnowledgeEntry
	query := `SELECT * FROM knowledge_entries WHERE id = $1`
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, mapErr(err)
	}
	return &entry, nil
}

func (r *knowledgeRepository) All(ctx context.Context) ([]models.KnowledgeEntry, error) {
	var entries []models.KnowledgeEntry
	query := `SELECT * FROM knowledge_entries ORDER BY id`
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *knowledgeRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *knowledgeRepository) IncrementMatchCount(ctx context.Context, id int64) error {
	query := `UPDATE knowledge_entries SET times_matched = times_matched + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *knowledgeRepository) TopMatched(ctx context.Context, limit int) ([]models.KnowledgeEntry, error) {
	var entries []models.KnowledgeEntry
	query := `SELECT * FROM knowledge_entries WHERE times_matched > 0
	          ORDER BY times_matched DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, err
	}
	return entries, nil
}

package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"mentorbot/internal/models"
)

type MessageRepository interface {
	Save(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	// ClaimOutcome records the terminal outcome for a message. It succeeds at
	// most once per message; subsequent calls report false with no error.
	ClaimOutcome(ctx context.Context, id int64, kind string) (bool, error)
	MarkDeleted(ctx context.Context, id int64, reason string) error
	RecentTexts(ctx context.Context, chatID int64, limit int) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

type messageRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewMessageRepository(db *sqlx.DB, logger *zap.Logger) MessageRepository {
	return &messageRepository{db: db, logger: logger}
}

func (r *messageRepository) Save(ctx context.Context, msg *models.Message) error {
	query := `INSERT INTO messages (participant_id, chat_id, telegram_message_id, text)
	          VALUES ($1, $2, $3, $4) RETURNING id, sent_at`
	err := r.db.QueryRowxContext(ctx, query, msg.ParticipantID, msg.ChatID, msg.TelegramMessageID, msg.Text).
		Scan(&msg.ID, &msg.SentAt)
	return mapErr(err)
}

func (r *messageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE id = $1`
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		return nil, mapErr(err)
	}
	return &msg, nil
}

func (r *messageRepository) ClaimOutcome(ctx context.Context, id int64, kind string) (bool, error) {
	query := `UPDATE messages SET outcome_kind = $2, decided_at = NOW()
	          WHERE id = $1 AND outcome_kind IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, kind)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *messageRepository) MarkDeleted(ctx context.Context, id int64, reason string) error {
	query := `UPDATE messages SET is_deleted = TRUE, deletion_reason = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, reason)
	return err
}

func (r *messageRepository) RecentTexts(ctx context.Context, chatID int64, limit int) ([]string, error) {
	var texts []string
	query := `SELECT text FROM messages WHERE chat_id = $1 AND is_deleted = FALSE
	          ORDER BY sent_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &texts, query, chatID, limit); err != nil {
		return nil, err
	}
	// Oldest first, the order the conversation happened in.
	for i, j := 0, len(texts)-1; i < j; i, j = i+1, j-1 {
		texts[i], texts[j] = texts[j], texts[i]
	}
	return texts, nil
}

func (r *messageRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages`)
	return count, err
}

package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"mentorbot/internal/models"
)

type ParticipantRepository interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.Participant, error)
	Create(ctx context.Context, p *models.Participant) error
	UpdateProfile(ctx context.Context, p *models.Participant) error
	SetElevation(ctx context.Context, telegramID int64, isAdmin, isMentor bool, domains []string) error
	TouchActivity(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, telegramID int64) error
	ActiveMentors(ctx context.Context) ([]models.Participant, error)
	Count(ctx context.Context) (int64, error)
}

type participantRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewParticipantRepository(db *sqlx.DB, logger *zap.Logger) ParticipantRepository {
	return &participantRepository{db: db, logger: logger}
}

func (r *participantRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.Participant, error) {
	var p models.Participant
	query := `SELECT * FROM participants WHERE telegram_id = $1`
	if err := r.db.GetContext(ctx, &p, query, telegramID); err != nil {
		if errors.Is(mapErr(err), ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *participantRepository) Create(ctx context.Context, p *models.Participant) error {
	query := `INSERT INTO participants (telegram_id, username, first_name, last_name, is_admin, is_mentor, expertise_domains, is_active)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
	          RETURNING id, is_active, joined_at, last_active`
	domains := p.ExpertiseDomains
	if domains == nil {
		domains = pq.StringArray{}
	}
	err := r.db.QueryRowxContext(ctx, query, p.TelegramID, p.Username, p.FirstName, p.LastName,
		p.IsAdmin, p.IsMentor, domains).
		Scan(&p.ID, &p.IsActive, &p.JoinedAt, &p.LastActive)
	return mapErr(err)
}

func (r *participantRepository) UpdateProfile(ctx context.Context, p *models.Participant) error {
	query := `UPDATE participants SET username = $2, first_name = $3, last_name = $4 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.Username, p.FirstName, p.LastName)
	return err
}

func (r *participantRepository) SetElevation(ctx context.Context, telegramID int64, isAdmin, isMentor bool, domains []string) error {
	query := `UPDATE participants SET is_admin = $2, is_mentor = $3, expertise_domains = $4 WHERE telegram_id = $1`
	_, err := r.db.ExecContext(ctx, query, telegramID, isAdmin, isMentor, pq.StringArray(domains))
	return err
}

func (r *participantRepository) TouchActivity(ctx context.Context, id int64) error {
	query := `UPDATE participants SET last_active = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *participantRepository) Deactivate(ctx context.Context, telegramID int64) error {
	query := `UPDATE participants SET is_active = FALSE WHERE telegram_id = $1`
	_, err := r.db.ExecContext(ctx, query, telegramID)
	return err
}

func (r *participantRepository) ActiveMentors(ctx context.Context) ([]models.Participant, error) {
	var mentors []models.Participant
	query := `SELECT * FROM participants WHERE is_mentor = TRUE AND is_active = TRUE`
	if err := r.db.SelectContext(ctx, &mentors, query); err != nil {
		return nil, err
	}
	return mentors, nil
}

func (r *participantRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM participants`)
	return count, err
}

package models

import (
	"time"

	"github.com/lib/pq"
)

// Participant represents a community member stored in the 'participants' table.
// Created on first observed message, never deleted, only deactivated.
type Participant struct {
	ID               int64          `db:"id"`
	TelegramID       int64          `db:"telegram_id"`
	Username         *string        `db:"username"`
	FirstName        *string        `db:"first_name"`
	LastName         *string        `db:"last_name"`
	IsAdmin          bool           `db:"is_admin"`
	IsMentor         bool           `db:"is_mentor"`
	ExpertiseDomains pq.StringArray `db:"expertise_domains"`
	IsActive         bool           `db:"is_active"`
	JoinedAt         time.Time      `db:"joined_at"`
	LastActive       time.Time      `db:"last_active"`
}

// Elevated reports whether the participant bypasses moderation, FAQ matching
// and routing.
func (p *Participant) Elevated() bool {
	return p.IsAdmin || p.IsMentor
}

// Mention returns the Telegram mention string for the participant.
func (p *Participant) Mention() string {
	if p.Username != nil && *p.Username != "" {
		return "@" + *p.Username
	}
	return ""
}

package models

import "time"

// Outcome kinds recorded on a message once its decision has been applied.
const (
	OutcomeSuppress = "suppress"
	OutcomeAnswer   = "answer"
	OutcomeRoute    = "route"
	OutcomeNoAction = "no_action"
)

// Message represents a message stored in the 'messages' table. The text
// payload is immutable; the outcome fields are written exactly once when the
// decision for the message is applied.
type Message struct {
	ID                int64      `db:"id"`
	ParticipantID     int64      `db:"participant_id"`
	ChatID            int64      `db:"chat_id"`
	TelegramMessageID int64      `db:"telegram_message_id"`
	Text              string     `db:"text"`
	IsDeleted         bool       `db:"is_deleted"`
	DeletionReason    *string    `db:"deletion_reason"`
	OutcomeKind       *string    `db:"outcome_kind"`
	DecidedAt         *time.Time `db:"decided_at"`
	SentAt            time.Time  `db:"sent_at"`
}

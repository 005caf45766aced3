package models

import "time"

// Moderation actions recorded in the 'moderation_records' table.
const (
	ActionSuppress = "suppress"
)

// ModerationRecord is the audit record for a moderated message. At most one
// record exists per message, enforced by a uniqueness constraint.
type ModerationRecord struct {
	ID            int64     `db:"id"`
	MessageID     int64     `db:"message_id"`
	ParticipantID int64     `db:"participant_id"`
	Action        string    `db:"action"`
	Reason        string    `db:"reason"`
	Confidence    float64   `db:"confidence"`
	Provider      string    `db:"provider"`
	ModeratedAt   time.Time `db:"moderated_at"`
}

// MentorTag links a message to a mentor tagged to answer it. At most one tag
// exists per (message, mentor) pair, enforced by a uniqueness constraint. The
// responded fields are set later by an external observer.
type MentorTag struct {
	ID          int64      `db:"id"`
	MessageID   int64      `db:"message_id"`
	MentorID    int64      `db:"mentor_id"`
	Reason      string     `db:"reason"`
	TaggedAt    time.Time  `db:"tagged_at"`
	Responded   bool       `db:"responded"`
	RespondedAt *time.Time `db:"responded_at"`
}

package pipeline

import (
	"mentorbot/internal/models"
	"mentorbot/internal/provider"
)

// Kind enumerates the terminal decisions for one message.
type Kind int

const (
	// KindSkip: elevated sender, nothing was invoked, nothing is recorded.
	KindSkip Kind = iota
	// KindSuppress: the message is deleted and a moderation record written.
	KindSuppress
	// KindAnswer: a knowledge entry answers the message.
	KindAnswer
	// KindRoute: mentors for a domain are tagged on the message.
	KindRoute
	// KindNoAction: decided and recorded, no visible action.
	KindNoAction
	// KindDeferred: moderation was unavailable after retries; the message is
	// left untouched and needs operator attention.
	KindDeferred
)

func (k Kind) String() string {
	switch k {
	case KindSkip:
		return "skip"
	case KindSuppress:
		return "suppress"
	case KindAnswer:
		return "answer"
	case KindRoute:
		return "route"
	case KindNoAction:
		return "no_action"
	case KindDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Outcome is the single terminal decision for a message. Exactly one Kind is
// set; the populated fields depend on it.
type Outcome struct {
	Kind Kind

	// Suppress and Deferred.
	Reason     string
	Confidence float64
	Provider   string

	// Answer.
	Entry *models.KnowledgeEntry
	Score float64

	// Route.
	Domain  string
	Mentors []models.Participant

	// Flagged carries a below-threshold moderation verdict for audit. It is
	// informational and never triggers suppression.
	Flagged *provider.Moderation
}

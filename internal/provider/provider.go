// Package provider defines the capability-provider contracts the decision
// pipeline depends on, and the LLM-backed implementation of them. The
// pipeline never depends on a concrete backend, only on these interfaces;
// backend identity is carried solely as an audit field on verdicts.
package provider

import (
	"context"
	"errors"
)

// ErrUnavailable wraps classifier/index timeouts and transport errors so the
// pipeline can apply its differentiated retry/degrade policy.
var ErrUnavailable = errors.New("provider unavailable")

// Verdict is the moderation classification of a message.
type Verdict string

const (
	VerdictClean     Verdict = "clean"
	VerdictSpam      Verdict = "spam"
	VerdictViolation Verdict = "violation"
)

// Moderation is the content classifier's judgment on one message.
type Moderation struct {
	Verdict    Verdict
	Confidence float64
	Reason     string
	Provider   string
}

// Routing is the routing classifier's judgment. An empty Domain means no
// routing is needed.
type Routing struct {
	Domain     string
	Confidence float64
	Reason     string
}

// ContentClassifier judges whether a message is appropriate. History carries
// recent messages from the same chat, oldest first, to disambiguate
// reply-chains.
type ContentClassifier interface {
	Classify(ctx context.Context, text string, history []string) (*Moderation, error)
}

// RoutingClassifier picks a candidate expertise domain for a question.
// Domains is the set of domains mentors are available for.
type RoutingClassifier interface {
	Route(ctx context.Context, text string, domains []string) (*Routing, error)
}

// Embedder converts text into a fixed-length vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

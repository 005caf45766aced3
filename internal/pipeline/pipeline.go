// Package pipeline implements the ordered message decision sequence:
// elevation check, moderation, FAQ matching, mentor routing. Stages run
// strictly in order and short-circuit; moderation failures defer the
// message, FAQ/routing failures degrade to fallthrough.
package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"mentorbot/internal/index"
	"mentorbot/internal/models"
	"mentorbot/internal/provider"
)

// DeferredModerationUnavailable is the reason recorded on a Deferred outcome
// when the content classifier stayed unavailable through all retries.
const DeferredModerationUnavailable = "moderation_unavailable"

// SimilarityIndex answers ranked nearest-entry queries.
type SimilarityIndex interface {
	Search(ctx context.Context, vec []float64, k int) ([]index.Candidate, error)
}

// KnowledgeReader loads a knowledge entry by ID.
type KnowledgeReader interface {
	GetByID(ctx context.Context, id int64) (*models.KnowledgeEntry, error)
}

// MentorResolver reads one consistent snapshot of the mentor directory.
type MentorResolver interface {
	Resolve(domain string) []models.Participant
	Domains() []string
}

// Config carries the externally tuned decision parameters. It is immutable
// once the pipeline is constructed, keeping decisions reproducible.
type Config struct {
	ModerationThreshold float64
	MatchThreshold      float64
	AmbiguityMargin     float64
	RoutingThreshold    float64
	TopK                int
	MaxAttempts         int
	RetryBackoff        time.Duration
	CallTimeout         time.Duration
}

// Context supplies per-message auxiliary input to the decision.
type Context struct {
	// Elevated marks the sender as administrator or mentor.
	Elevated bool
	// History holds recent messages from the same chat, oldest first.
	History []string
}

// Pipeline sequences the three judgments for one message into one Outcome.
type Pipeline struct {
	classifier provider.ContentClassifier
	embedder   provider.Embedder
	idx        SimilarityIndex
	router     provider.RoutingClassifier
	knowledge  KnowledgeReader
	resolver   MentorResolver
	cfg        Config
	logger     *zap.Logger
}

func New(
	classifier provider.ContentClassifier,
	embedder provider.Embedder,
	idx SimilarityIndex,
	router provider.RoutingClassifier,
	knowledge KnowledgeReader,
	resolver MentorResolver,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		embedder:   embedder,
		idx:        idx,
		router:     router,
		knowledge:  knowledge,
		resolver:   resolver,
		cfg:        cfg,
		logger:     logger,
	}
}

// Decide runs the staged decision for one message. It returns an error only
// when the surrounding context is cancelled; every provider failure is
// resolved into an Outcome per the per-stage policy.
func (p *Pipeline) Decide(ctx context.Context, msg *models.Message, dctx Context) (*Outcome, error) {
	// Elevated senders bypass everything; no classifier is invoked and no
	// record is written.
	if dctx.Elevated {
		return &Outcome{Kind: KindSkip}, nil
	}

	verdict, outcome, err := p.moderate(ctx, msg, dctx)
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return outcome, nil
	}

	// A flagged-but-below-threshold verdict is treated as clean, but the
	// signal is retained on the terminal outcome for audit.
	var flagged *provider.Moderation
	if verdict != nil && verdict.Verdict != provider.VerdictClean {
		flagged = verdict
		p.logger.Info("Borderline moderation verdict retained",
			zap.Int64("message_id", msg.ID),
			zap.String("verdict", string(verdict.Verdict)),
			zap.Float64("confidence", verdict.Confidence))
	}

	if outcome := p.matchKnowledge(ctx, msg); outcome != nil {
		outcome.Flagged = flagged
		return outcome, nil
	}

	outcome = p.route(ctx, msg)
	outcome.Flagged = flagged
	return outcome, nil
}

// moderate runs the safety-critical stage with bounded backoff. It returns
// either the clean/borderline verdict to carry forward, or a terminal
// Suppress/Deferred outcome.
func (p *Pipeline) moderate(ctx context.Context, msg *models.Message, dctx Context) (*provider.Moderation, *Outcome, error) {
	var verdict *provider.Moderation

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()

		v, err := p.classifier.Classify(callCtx, msg.Text, dctx.History)
		if err != nil {
			p.logger.Warn("Content classifier call failed",
				zap.Int64("message_id", msg.ID), zap.Error(err))
			return err
		}
		verdict = v
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBackoff
	retries := uint64(0)
	if p.cfg.MaxAttempts > 1 {
		retries = uint64(p.cfg.MaxAttempts - 1)
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		// A moderation failure must never pass as "clean".
		p.logger.Error("Moderation unavailable after retries",
			zap.Int64("message_id", msg.ID),
			zap.Int("max_attempts", p.cfg.MaxAttempts),
			zap.Error(err))
		return nil, &Outcome{Kind: KindDeferred, Reason: DeferredModerationUnavailable}, nil
	}

	if verdict.Verdict != provider.VerdictClean && verdict.Confidence >= p.cfg.ModerationThreshold {
		return verdict, &Outcome{
			Kind:       KindSuppress,
			Reason:     verdict.Reason,
			Confidence: verdict.Confidence,
			Provider:   verdict.Provider,
		}, nil
	}

	return verdict, nil, nil
}

// matchKnowledge runs the FAQ stage. Any failure degrades to nil
// (fallthrough); the stage is an enhancement, not safety-critical.
func (p *Pipeline) matchKnowledge(ctx context.Context, msg *models.Message) *Outcome {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	vec, err := p.embedder.Embed(callCtx, msg.Text)
	if err != nil {
		p.logger.Warn("Embedding failed, skipping FAQ stage",
			zap.Int64("message_id", msg.ID), zap.Error(err))
		return nil
	}

	candidates, err := p.idx.Search(ctx, vec, p.cfg.TopK)
	if err != nil || len(candidates) == 0 {
		if err != nil {
			p.logger.Warn("Similarity search failed, skipping FAQ stage",
				zap.Int64("message_id", msg.ID), zap.Error(err))
		}
		return nil
	}

	best := candidates[0]
	if best.Score < p.cfg.MatchThreshold {
		return nil
	}
	// Reject near-ties: a wrong-but-close entry is worse than no answer.
	if len(candidates) > 1 && best.Score-candidates[1].Score < p.cfg.AmbiguityMargin {
		p.logger.Info("Ambiguous FAQ match rejected",
			zap.Int64("message_id", msg.ID),
			zap.Float64("best", best.Score),
			zap.Float64("second", candidates[1].Score))
		return nil
	}

	entry, err := p.knowledge.GetByID(ctx, best.EntryID)
	if err != nil {
		p.logger.Warn("Failed to load matched knowledge entry",
			zap.Int64("entry_id", best.EntryID), zap.Error(err))
		return nil
	}

	return &Outcome{Kind: KindAnswer, Entry: entry, Score: best.Score}
}

// route runs the final stage. Failures and rejections all land on NoAction.
func (p *Pipeline) route(ctx context.Context, msg *models.Message) *Outcome {
	domains := p.resolver.Domains()
	if len(domains) == 0 {
		return &Outcome{Kind: KindNoAction}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	decision, err := p.router.Route(callCtx, msg.Text, domains)
	if err != nil {
		p.logger.Warn("Routing classifier failed, no routing",
			zap.Int64("message_id", msg.ID), zap.Error(err))
		return &Outcome{Kind: KindNoAction}
	}

	if decision.Domain == "" || decision.Confidence < p.cfg.RoutingThreshold {
		return &Outcome{Kind: KindNoAction}
	}

	mentors := p.resolver.Resolve(decision.Domain)
	if len(mentors) == 0 {
		p.logger.Info("Routing rejected, no eligible mentors",
			zap.Int64("message_id", msg.ID),
			zap.String("domain", decision.Domain))
		return &Outcome{Kind: KindNoAction}
	}

	return &Outcome{
		Kind:       KindRoute,
		Domain:     decision.Domain,
		Mentors:    mentors,
		Reason:     decision.Reason,
		Confidence: decision.Confidence,
	}
}

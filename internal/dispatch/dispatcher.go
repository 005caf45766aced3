// Package dispatch translates a pipeline Outcome into side effects against
// the transport and storage collaborators. Idempotence is the central
// guarantee: applying the same (message, outcome) pair twice never produces
// duplicate deletions, records, replies or tags, and a partially failed
// apply can be retried to completion without losing any of them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mentorbot/internal/models"
	"mentorbot/internal/pipeline"
	"mentorbot/internal/repository"
)

// ErrAlreadyGone marks a delete against a message another actor already
// removed. It is tolerated and logged, never retried.
var ErrAlreadyGone = errors.New("message already gone")

// Transport is the chat-transport surface the dispatcher drives.
type Transport interface {
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SendReply(ctx context.Context, chatID int64, replyToMessageID int64, text string) error
	// SendMarkdownReply posts Markdown-formatted text, used for mentor
	// mentions whose tg://user links only render under a parse mode.
	SendMarkdownReply(ctx context.Context, chatID int64, replyToMessageID int64, text string) error
}

// MessageStore is the slice of message persistence the dispatcher needs.
type MessageStore interface {
	ClaimOutcome(ctx context.Context, id int64, kind string) (bool, error)
	MarkDeleted(ctx context.Context, id int64, reason string) error
}

// ModerationStore persists moderation audit records.
type ModerationStore interface {
	Create(ctx context.Context, rec *models.ModerationRecord) error
}

// TagStore persists mentor tags.
type TagStore interface {
	Create(ctx context.Context, tag *models.MentorTag) error
}

// CounterStore bumps knowledge-entry match counters.
type CounterStore interface {
	IncrementMatchCount(ctx context.Context, id int64) error
}

// Result reports what applying an outcome did.
type Result struct {
	// Applied is true when this call performed the side effects.
	Applied bool
	// AlreadyApplied is true when a previous call had committed the outcome;
	// only idempotent transport retries were performed.
	AlreadyApplied bool
	// TagsCreated counts mentor tags persisted by this call.
	TagsCreated int
}

// Dispatcher applies outcomes exactly once per message.
type Dispatcher struct {
	transport  Transport
	messages   MessageStore
	moderation ModerationStore
	tags       TagStore
	counters   CounterStore
	logger     *zap.Logger
}

func New(
	transport Transport,
	messages MessageStore,
	moderation ModerationStore,
	tags TagStore,
	counters CounterStore,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		transport:  transport,
		messages:   messages,
		moderation: moderation,
		tags:       tags,
		counters:   counters,
		logger:     logger,
	}
}

// Apply executes the side effects for one (message, outcome) pair. The audit
// write (moderation record, mentor tags, match counter) is the commit point:
// it lands first, under its uniqueness constraint where one exists, so a
// failure before it leaves the message fully retryable and a duplicate apply
// is detected instead of repeated. The outcome claim on the message row
// finalizes the decision afterwards and gates the user-visible reply.
func (d *Dispatcher) Apply(ctx context.Context, msg *models.Message, out *pipeline.Outcome) (*Result, error) {
	switch out.Kind {
	case pipeline.KindSkip:
		// Elevated sender: nothing invoked, nothing recorded.
		return &Result{}, nil
	case pipeline.KindDeferred:
		// Leave the message untouched, unanswered and unclaimed so it stays
		// reprocessable; operators decide.
		d.logger.Error("Message deferred, operator attention required",
			zap.Int64("message_id", msg.ID),
			zap.String("reason", out.Reason))
		return &Result{}, nil
	case pipeline.KindSuppress:
		return d.applySuppress(ctx, msg, out)
	case pipeline.KindAnswer:
		return d.applyAnswer(ctx, msg, out)
	case pipeline.KindRoute:
		return d.applyRoute(ctx, msg, out)
	case pipeline.KindNoAction:
		claimed, err := d.messages.ClaimOutcome(ctx, msg.ID, models.OutcomeNoAction)
		if err != nil {
			return nil, fmt.Errorf("failed to record no-action outcome: %w", err)
		}
		return &Result{Applied: claimed, AlreadyApplied: !claimed}, nil
	default:
		return nil, fmt.Errorf("unknown outcome kind %v", out.Kind)
	}
}

func (d *Dispatcher) applySuppress(ctx context.Context, msg *models.Message, out *pipeline.Outcome) (*Result, error) {
	// Once the dispatcher starts applying a terminal outcome it runs to
	// completion regardless of the caller's cancellation.
	ctx = context.WithoutCancel(ctx)

	// The delete is idempotent against the transport, so it is retried on
	// every apply.
	if err := d.transport.DeleteMessage(ctx, msg.ChatID, msg.TelegramMessageID); err != nil {
		if errors.Is(err, ErrAlreadyGone) {
			d.logger.Info("Message was already deleted by another actor",
				zap.Int64("message_id", msg.ID))
		} else {
			// Best effort: the audit record still lands, a later apply
			// retries the delete.
			d.logger.Error("Failed to delete message",
				zap.Int64("message_id", msg.ID), zap.Error(err))
		}
	}

	// The record insert under its per-message uniqueness constraint is the
	// commit point. A failure here leaves the message unclaimed and the
	// whole apply retryable.
	rec := &models.ModerationRecord{
		MessageID:     msg.ID,
		ParticipantID: msg.ParticipantID,
		Action:        models.ActionSuppress,
		Reason:        out.Reason,
		Confidence:    out.Confidence,
		Provider:      out.Provider,
	}
	alreadyApplied := false
	if err := d.moderation.Create(ctx, rec); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to persist moderation record: %w", err)
		}
		alreadyApplied = true
	}

	if _, err := d.messages.ClaimOutcome(ctx, msg.ID, models.OutcomeSuppress); err != nil {
		d.logger.Error("Failed to finalize suppress outcome",
			zap.Int64("message_id", msg.ID), zap.Error(err))
	}
	if err := d.messages.MarkDeleted(ctx, msg.ID, out.Reason); err != nil {
		d.logger.Error("Failed to flag message row as deleted",
			zap.Int64("message_id", msg.ID), zap.Error(err))
	}

	if alreadyApplied {
		return &Result{AlreadyApplied: true}, nil
	}

	d.logger.Info("Message suppressed",
		zap.Int64("message_id", msg.ID),
		zap.String("reason", out.Reason),
		zap.Float64("confidence", out.Confidence),
		zap.String("provider", out.Provider))
	return &Result{Applied: true}, nil
}

func (d *Dispatcher) applyAnswer(ctx context.Context, msg *models.Message, out *pipeline.Outcome) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	// The counter bump is the audit action and the commit point. It lands
	// before the claim so a failed apply can be retried without losing the
	// count: the extra bump a retried or duplicate apply performs is
	// tolerable noise, a missed count is not.
	if err := d.counters.IncrementMatchCount(ctx, out.Entry.ID); err != nil {
		return nil, fmt.Errorf("failed to increment match counter: %w", err)
	}

	claimed, err := d.messages.ClaimOutcome(ctx, msg.ID, models.OutcomeAnswer)
	if err != nil {
		return nil, fmt.Errorf("failed to claim answer outcome: %w", err)
	}
	if !claimed {
		// An earlier apply owns the reply; re-sending would duplicate it.
		return &Result{AlreadyApplied: true}, nil
	}

	reply := fmt.Sprintf("💡 FAQ Match\n\nQ: %s\n\nA: %s", out.Entry.Question, out.Entry.Answer)
	if err := d.transport.SendReply(ctx, msg.ChatID, msg.TelegramMessageID, reply); err != nil {
		d.logger.Error("Failed to send FAQ reply after counter increment",
			zap.Int64("message_id", msg.ID),
			zap.Int64("entry_id", out.Entry.ID),
			zap.Error(err))
		return &Result{Applied: true}, nil
	}

	d.logger.Info("FAQ reply sent",
		zap.Int64("message_id", msg.ID),
		zap.Int64("entry_id", out.Entry.ID),
		zap.Float64("score", out.Score))
	return &Result{Applied: true}, nil
}

func (d *Dispatcher) applyRoute(ctx context.Context, msg *models.Message, out *pipeline.Outcome) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	if len(out.Mentors) == 0 {
		// Directory snapshot went stale between decide and apply; the route
		// silently becomes a no-op and is recorded as such.
		if _, err := d.messages.ClaimOutcome(ctx, msg.ID, models.OutcomeRoute); err != nil {
			return nil, fmt.Errorf("failed to record no-op route outcome: %w", err)
		}
		d.logger.Warn("Route outcome with no mentors at apply time",
			zap.Int64("message_id", msg.ID),
			zap.String("domain", out.Domain))
		return &Result{Applied: true}, nil
	}

	// Tag inserts under the (message, mentor) uniqueness constraint are the
	// commit point. At-least-one-tag is the goal; partial persistence on
	// failure is acceptable, and a retry completes the remainder instead of
	// duplicating what already landed.
	created, existing := 0, 0
	mentions := make([]string, 0, len(out.Mentors))
	for _, mentor := range out.Mentors {
		tag := &models.MentorTag{
			MessageID: msg.ID,
			MentorID:  mentor.ID,
			Reason:    out.Domain,
		}
		if err := d.tags.Create(ctx, tag); err != nil {
			if !errors.Is(err, repository.ErrDuplicate) {
				d.logger.Error("Failed to persist mentor tag",
					zap.Int64("message_id", msg.ID),
					zap.Int64("mentor_id", mentor.ID),
					zap.Error(err))
				continue
			}
			existing++
		} else {
			created++
		}
		if m := mentor.Mention(); m != "" {
			mentions = append(mentions, m)
		} else {
			mentions = append(mentions, fmt.Sprintf("[mentor](tg://user?id=%d)", mentor.TelegramID))
		}
	}

	if created == 0 && existing == 0 {
		return nil, fmt.Errorf("failed to persist any mentor tag for message %d", msg.ID)
	}

	claimed, err := d.messages.ClaimOutcome(ctx, msg.ID, models.OutcomeRoute)
	if err != nil {
		return nil, fmt.Errorf("failed to claim route outcome: %w", err)
	}
	if !claimed {
		return &Result{AlreadyApplied: true, TagsCreated: created}, nil
	}

	reply := fmt.Sprintf("🔔 This looks like a %s question. Tagging mentors: %s",
		out.Domain, strings.Join(mentions, " "))
	if err := d.transport.SendMarkdownReply(ctx, msg.ChatID, msg.TelegramMessageID, reply); err != nil {
		d.logger.Error("Failed to send mentor tagging reply",
			zap.Int64("message_id", msg.ID), zap.Error(err))
	}

	d.logger.Info("Mentors tagged",
		zap.Int64("message_id", msg.ID),
		zap.String("domain", out.Domain),
		zap.Int("tags", created))
	return &Result{Applied: true, TagsCreated: created}, nil
}

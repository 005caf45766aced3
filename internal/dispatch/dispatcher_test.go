package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mentorbot/internal/models"
	"mentorbot/internal/pipeline"
	"mentorbot/internal/repository"
)

type fakeTransport struct {
	deletes         int
	replies         []string
	markdownReplies []string
	deleteErr       error
	replyErr        error
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	f.deletes++
	return f.deleteErr
}

func (f *fakeTransport) SendReply(ctx context.Context, chatID int64, replyToMessageID int64, text string) error {
	if f.replyErr != nil {
		return f.replyErr
	}
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeTransport) SendMarkdownReply(ctx context.Context, chatID int64, replyToMessageID int64, text string) error {
	if f.replyErr != nil {
		return f.replyErr
	}
	f.markdownReplies = append(f.markdownReplies, text)
	return nil
}

type fakeMessages struct {
	claims   map[int64]string
	claimErr error
	deleted  map[int64]string
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{claims: map[int64]string{}, deleted: map[int64]string{}}
}

func (f *fakeMessages) ClaimOutcome(ctx context.Context, id int64, kind string) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if _, exists := f.claims[id]; exists {
		return false, nil
	}
	f.claims[id] = kind
	return true, nil
}

func (f *fakeMessages) MarkDeleted(ctx context.Context, id int64, reason string) error {
	f.deleted[id] = reason
	return nil
}

type fakeModeration struct {
	records []*models.ModerationRecord
	err     error
}

func (f *fakeModeration) Create(ctx context.Context, rec *models.ModerationRecord) error {
	if f.err != nil {
		return f.err
	}
	for _, existing := range f.records {
		if existing.MessageID == rec.MessageID {
			return repository.ErrDuplicate
		}
	}
	f.records = append(f.records, rec)
	return nil
}

type fakeTags struct {
	created []*models.MentorTag
	failFor map[int64]error
}

func (f *fakeTags) Create(ctx context.Context, tag *models.MentorTag) error {
	if err, ok := f.failFor[tag.MentorID]; ok {
		return err
	}
	for _, existing := range f.created {
		if existing.MessageID == tag.MessageID && existing.MentorID == tag.MentorID {
			return repository.ErrDuplicate
		}
	}
	f.created = append(f.created, tag)
	return nil
}

type fakeCounters struct {
	increments map[int64]int
	err        error
}

func (f *fakeCounters) IncrementMatchCount(ctx context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	if f.increments == nil {
		f.increments = map[int64]int{}
	}
	f.increments[id]++
	return nil
}

type harness struct {
	transport  *fakeTransport
	messages   *fakeMessages
	moderation *fakeModeration
	tags       *fakeTags
	counters   *fakeCounters
	dispatcher *Dispatcher
}

func newHarness() *harness {
	h := &harness{
		transport:  &fakeTransport{},
		messages:   newFakeMessages(),
		moderation: &fakeModeration{},
		tags:       &fakeTags{failFor: map[int64]error{}},
		counters:   &fakeCounters{},
	}
	h.dispatcher = New(h.transport, h.messages, h.moderation, h.tags, h.counters, zap.NewNop())
	return h
}

func msg() *models.Message {
	return &models.Message{ID: 1, ParticipantID: 2, ChatID: 3, TelegramMessageID: 4, Text: "buy cheap crypto"}
}

func TestApplySkipDoesNothing(t *testing.T) {
	h := newHarness()

	res, err := h.dispatcher.Apply(context.Background(), msg(), &pipeline.Outcome{Kind: pipeline.KindSkip})
	require.NoError(t, err)

	assert.False(t, res.Applied)
	assert.Empty(t, h.messages.claims)
	assert.Zero(t, h.transport.deletes)
}

func TestApplyDeferredLeavesMessageReprocessable(t *testing.T) {
	h := newHarness()

	res, err := h.dispatcher.Apply(context.Background(), msg(), &pipeline.Outcome{
		Kind:   pipeline.KindDeferred,
		Reason: pipeline.DeferredModerationUnavailable,
	})
	require.NoError(t, err)

	assert.False(t, res.Applied)
	assert.Empty(t, h.messages.claims, "deferred must not commit an outcome")
	assert.Empty(t, h.moderation.records)
}

func TestApplySuppressDeletesAndRecords(t *testing.T) {
	h := newHarness()
	out := &pipeline.Outcome{Kind: pipeline.KindSuppress, Reason: "spam", Confidence: 0.95, Provider: "openai"}

	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, 1, h.transport.deletes)
	require.Len(t, h.moderation.records, 1)
	assert.Equal(t, models.ActionSuppress, h.moderation.records[0].Action)
	assert.Equal(t, "spam", h.moderation.records[0].Reason)
	assert.Equal(t, "spam", h.messages.deleted[1])
	assert.Equal(t, models.OutcomeSuppress, h.messages.claims[1])
}

func TestApplySuppressTwiceRecordsOnce(t *testing.T) {
	h := newHarness()
	out := &pipeline.Outcome{Kind: pipeline.KindSuppress, Reason: "spam", Confidence: 0.95, Provider: "openai"}

	_, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)
	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.AlreadyApplied)
	assert.Len(t, h.moderation.records, 1, "second apply must not duplicate the audit record")
	// The delete itself is idempotent and retried each time.
	assert.Equal(t, 2, h.transport.deletes)
}

func TestApplySuppressToleratesAlreadyGone(t *testing.T) {
	h := newHarness()
	h.transport.deleteErr = ErrAlreadyGone
	out := &pipeline.Outcome{Kind: pipeline.KindSuppress, Reason: "spam", Confidence: 0.9, Provider: "openai"}

	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Len(t, h.moderation.records, 1, "audit record still lands when the message is already gone")
}

func TestApplySuppressRecordFailureIsRetryable(t *testing.T) {
	h := newHarness()
	h.moderation.err = errors.New("db down")
	out := &pipeline.Outcome{Kind: pipeline.KindSuppress, Reason: "spam", Confidence: 0.9, Provider: "openai"}

	_, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.Error(t, err)
	assert.Empty(t, h.messages.claims, "a failed audit write must leave the message claimable")

	h.moderation.err = nil
	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	require.Len(t, h.moderation.records, 1)
	assert.Equal(t, models.OutcomeSuppress, h.messages.claims[1])
}

func TestApplyAnswerIncrementsThenReplies(t *testing.T) {
	h := newHarness()
	entry := &models.KnowledgeEntry{ID: 7, Question: "Q?", Answer: "A."}
	out := &pipeline.Outcome{Kind: pipeline.KindAnswer, Entry: entry, Score: 0.94}

	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, 1, h.counters.increments[7])
	require.Len(t, h.transport.replies, 1)
	assert.Equal(t, "💡 FAQ Match\n\nQ: Q?\n\nA: A.", h.transport.replies[0])
}

func TestApplyAnswerTwiceSendsOneReply(t *testing.T) {
	h := newHarness()
	out := &pipeline.Outcome{Kind: pipeline.KindAnswer, Entry: &models.KnowledgeEntry{ID: 7}, Score: 0.9}

	_, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)
	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.AlreadyApplied)
	assert.Len(t, h.transport.replies, 1)
	// The counter lands before the claim, so a duplicate apply over-counts
	// by one. That is tolerable noise; a missed count is not.
	assert.Equal(t, 2, h.counters.increments[7])
}

func TestApplyAnswerCounterFailureIsRetryable(t *testing.T) {
	h := newHarness()
	h.counters.err = errors.New("db down")
	out := &pipeline.Outcome{Kind: pipeline.KindAnswer, Entry: &models.KnowledgeEntry{ID: 7, Question: "Q?", Answer: "A."}}

	_, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.Error(t, err)
	assert.Empty(t, h.transport.replies, "reply must not go out when the counter write fails")
	assert.Empty(t, h.messages.claims, "a failed counter write must leave the message claimable")

	h.counters.err = nil
	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, 1, h.counters.increments[7], "the retry must land the count")
	assert.Len(t, h.transport.replies, 1)
}

func TestApplyAnswerSendFailureKeepsCounter(t *testing.T) {
	h := newHarness()
	h.transport.replyErr = errors.New("network")
	out := &pipeline.Outcome{Kind: pipeline.KindAnswer, Entry: &models.KnowledgeEntry{ID: 7}}

	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, 1, h.counters.increments[7], "over-count on send failure is tolerated")
}

func TestApplyRouteTagsAndReplies(t *testing.T) {
	h := newHarness()
	username := "alice"
	out := &pipeline.Outcome{
		Kind:   pipeline.KindRoute,
		Domain: "computer_vision",
		Mentors: []models.Participant{
			{ID: 10, TelegramID: 100, Username: &username},
			{ID: 11, TelegramID: 101},
		},
	}

	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, 2, res.TagsCreated)
	assert.Empty(t, h.transport.replies)
	require.Len(t, h.transport.markdownReplies, 1, "mentions need a parse mode to render")
	assert.Contains(t, h.transport.markdownReplies[0], "computer_vision")
	assert.Contains(t, h.transport.markdownReplies[0], "@alice")
	assert.Contains(t, h.transport.markdownReplies[0], "[mentor](tg://user?id=101)")
}

func TestApplyRoutePartialTagFailureStillReplies(t *testing.T) {
	h := newHarness()
	h.tags.failFor[11] = errors.New("db hiccup")
	out := &pipeline.Outcome{
		Kind:    pipeline.KindRoute,
		Domain:  "data_science",
		Mentors: []models.Participant{{ID: 10, TelegramID: 100}, {ID: 11, TelegramID: 101}},
	}

	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TagsCreated, "at least one tag is enough to proceed")
	assert.Len(t, h.transport.markdownReplies, 1)
}

func TestApplyRouteAllTagsFailIsRetryable(t *testing.T) {
	h := newHarness()
	h.tags.failFor[10] = errors.New("db down")
	h.tags.failFor[11] = errors.New("db down")
	out := &pipeline.Outcome{
		Kind:    pipeline.KindRoute,
		Domain:  "research",
		Mentors: []models.Participant{{ID: 10, TelegramID: 100}, {ID: 11, TelegramID: 101}},
	}

	_, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.Error(t, err)
	assert.Empty(t, h.transport.markdownReplies)
	assert.Empty(t, h.messages.claims, "a failed tag write must leave the message claimable")

	delete(h.tags.failFor, 10)
	delete(h.tags.failFor, 11)
	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, 2, res.TagsCreated)
	assert.Len(t, h.transport.markdownReplies, 1)
}

func TestApplyRouteRetryCompletesPartialTags(t *testing.T) {
	h := newHarness()
	h.tags.failFor[11] = errors.New("db hiccup")
	h.transport.replyErr = errors.New("network")
	out := &pipeline.Outcome{
		Kind:    pipeline.KindRoute,
		Domain:  "research",
		Mentors: []models.Participant{{ID: 10, TelegramID: 100}, {ID: 11, TelegramID: 101}},
	}

	_, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)
	require.Len(t, h.tags.created, 1)

	delete(h.tags.failFor, 11)
	h.transport.replyErr = nil
	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.AlreadyApplied)
	assert.Equal(t, 1, res.TagsCreated, "the retry fills in the missing tag")
	assert.Len(t, h.tags.created, 2)
	assert.Empty(t, h.transport.markdownReplies, "the earlier apply owns the reply")
}

func TestApplyRouteStaleDirectoryIsRecordedNoOp(t *testing.T) {
	h := newHarness()
	out := &pipeline.Outcome{Kind: pipeline.KindRoute, Domain: "research"}

	res, err := h.dispatcher.Apply(context.Background(), msg(), out)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Zero(t, res.TagsCreated)
	assert.Empty(t, h.transport.markdownReplies)
	assert.Equal(t, models.OutcomeRoute, h.messages.claims[1])
}

func TestApplyNoActionClaimsOnly(t *testing.T) {
	h := newHarness()

	res, err := h.dispatcher.Apply(context.Background(), msg(), &pipeline.Outcome{Kind: pipeline.KindNoAction})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, models.OutcomeNoAction, h.messages.claims[1])
	assert.Zero(t, h.transport.deletes)
	assert.Empty(t, h.transport.replies)
}

func TestApplyClaimErrorSurfaces(t *testing.T) {
	h := newHarness()
	h.messages.claimErr = fmt.Errorf("connection refused")

	_, err := h.dispatcher.Apply(context.Background(), msg(), &pipeline.Outcome{Kind: pipeline.KindNoAction})
	require.Error(t, err)
}

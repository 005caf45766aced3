package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mentorbot/internal/index"
	"mentorbot/internal/models"
	"mentorbot/internal/provider"
)

type fakeClassifier struct {
	calls    int
	failUpTo int
	verdict  provider.Moderation
}

func (f *fakeClassifier) Classify(ctx context.Context, text string, history []string) (*provider.Moderation, error) {
	f.calls++
	if f.calls <= f.failUpTo {
		return nil, provider.ErrUnavailable
	}
	v := f.verdict
	return &v, nil
}

type fakeEmbedder struct {
	calls int
	vec   []float64
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeIndex struct {
	calls      int
	candidates []index.Candidate
	err        error
}

func (f *fakeIndex) Search(ctx context.Context, vec []float64, k int) ([]index.Candidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type fakeRouter struct {
	calls   int
	routing provider.Routing
	err     error
}

func (f *fakeRouter) Route(ctx context.Context, text string, domains []string) (*provider.Routing, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := f.routing
	return &r, nil
}

type fakeKnowledge struct {
	entries map[int64]*models.KnowledgeEntry
}

func (f *fakeKnowledge) GetByID(ctx context.Context, id int64) (*models.KnowledgeEntry, error) {
	entry, ok := f.entries[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return entry, nil
}

type fakeResolver struct {
	byDomain map[string][]models.Participant
}

func (f *fakeResolver) Resolve(domain string) []models.Participant {
	return f.byDomain[domain]
}

func (f *fakeResolver) Domains() []string {
	domains := make([]string, 0, len(f.byDomain))
	for d := range f.byDomain {
		domains = append(domains, d)
	}
	return domains
}

type fixture struct {
	classifier *fakeClassifier
	embedder   *fakeEmbedder
	idx        *fakeIndex
	router     *fakeRouter
	knowledge  *fakeKnowledge
	resolver   *fakeResolver
	pipe       *Pipeline
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		classifier: &fakeClassifier{verdict: provider.Moderation{Verdict: provider.VerdictClean, Confidence: 0.9, Provider: "fake"}},
		embedder:   &fakeEmbedder{vec: []float64{1, 0, 0}},
		idx:        &fakeIndex{},
		router:     &fakeRouter{},
		knowledge:  &fakeKnowledge{entries: map[int64]*models.KnowledgeEntry{}},
		resolver:   &fakeResolver{byDomain: map[string][]models.Participant{}},
	}
	f.pipe = New(f.classifier, f.embedder, f.idx, f.router, f.knowledge, f.resolver, cfg, zap.NewNop())
	return f
}

func testConfig() Config {
	return Config{
		ModerationThreshold: 0.85,
		MatchThreshold:      0.8,
		AmbiguityMargin:     0.05,
		RoutingThreshold:    0.6,
		TopK:                3,
		MaxAttempts:         3,
		RetryBackoff:        time.Millisecond,
		CallTimeout:         100 * time.Millisecond,
	}
}

func testMessage() *models.Message {
	return &models.Message{ID: 42, ParticipantID: 7, ChatID: 100, TelegramMessageID: 555, Text: "how do I reset my password"}
}

func TestDecideElevatedSkipsEverything(t *testing.T) {
	f := newFixture(testConfig())

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{Elevated: true})
	require.NoError(t, err)

	assert.Equal(t, KindSkip, out.Kind)
	assert.Zero(t, f.classifier.calls)
	assert.Zero(t, f.embedder.calls)
	assert.Zero(t, f.idx.calls)
	assert.Zero(t, f.router.calls)
}

func TestDecideSuppressShortCircuits(t *testing.T) {
	f := newFixture(testConfig())
	f.classifier.verdict = provider.Moderation{
		Verdict:    provider.VerdictSpam,
		Confidence: 0.97,
		Reason:     "unsolicited promotion",
		Provider:   "fake",
	}

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindSuppress, out.Kind)
	assert.Equal(t, "unsolicited promotion", out.Reason)
	assert.Equal(t, 0.97, out.Confidence)
	assert.Equal(t, "fake", out.Provider)
	assert.Equal(t, 1, f.classifier.calls)
	assert.Zero(t, f.embedder.calls, "FAQ stage must not run after suppression")
	assert.Zero(t, f.idx.calls)
	assert.Zero(t, f.router.calls, "routing stage must not run after suppression")
}

func TestDecideBorderlineVerdictRetainedNotSuppressed(t *testing.T) {
	f := newFixture(testConfig())
	f.classifier.verdict = provider.Moderation{
		Verdict:    provider.VerdictSpam,
		Confidence: 0.5,
		Reason:     "maybe spam",
		Provider:   "fake",
	}

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindNoAction, out.Kind)
	require.NotNil(t, out.Flagged)
	assert.Equal(t, provider.VerdictSpam, out.Flagged.Verdict)
	assert.Equal(t, 0.5, out.Flagged.Confidence)
}

func TestDecideAnswerOnStrongUnambiguousMatch(t *testing.T) {
	f := newFixture(testConfig())
	entry := &models.KnowledgeEntry{ID: 9, Question: "How do I reset my password?", Answer: "Use the reset link."}
	f.knowledge.entries[9] = entry
	f.idx.candidates = []index.Candidate{
		{EntryID: 9, Score: 0.94},
		{EntryID: 3, Score: 0.5},
	}

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindAnswer, out.Kind)
	assert.Equal(t, entry, out.Entry)
	assert.Equal(t, 0.94, out.Score)
	assert.Zero(t, f.router.calls, "routing must not run after an accepted match")
}

func TestDecideAmbiguousMatchFallsThroughToRouting(t *testing.T) {
	f := newFixture(testConfig())
	f.knowledge.entries[9] = &models.KnowledgeEntry{ID: 9}
	f.idx.candidates = []index.Candidate{
		{EntryID: 9, Score: 0.9},
		{EntryID: 3, Score: 0.88},
	}

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindNoAction, out.Kind)
	assert.Equal(t, 0, f.router.calls, "no mentor domains configured, router skipped")
}

func TestDecideBelowMatchThresholdFallsThrough(t *testing.T) {
	f := newFixture(testConfig())
	f.idx.candidates = []index.Candidate{{EntryID: 9, Score: 0.7}}
	f.resolver.byDomain["research"] = []models.Participant{{ID: 1, TelegramID: 10, IsMentor: true}}
	f.router.routing = provider.Routing{Domain: "", Confidence: 0}

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindNoAction, out.Kind)
	assert.Equal(t, 1, f.router.calls)
}

func TestDecideRouteAcceptedWithEligibleMentors(t *testing.T) {
	f := newFixture(testConfig())
	mentor := models.Participant{ID: 5, TelegramID: 50, IsMentor: true}
	f.resolver.byDomain["computer_vision"] = []models.Participant{mentor}
	f.router.routing = provider.Routing{Domain: "computer_vision", Confidence: 0.8, Reason: "needs CV expertise"}

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindRoute, out.Kind)
	assert.Equal(t, "computer_vision", out.Domain)
	assert.Equal(t, []models.Participant{mentor}, out.Mentors)
}

func TestDecideRouteRejectedWithoutEligibleMentors(t *testing.T) {
	f := newFixture(testConfig())
	// A domain exists so the router is consulted, but the predicted domain
	// resolves to nobody.
	f.resolver.byDomain["research"] = []models.Participant{{ID: 1}}
	f.router.routing = provider.Routing{Domain: "computer_vision", Confidence: 0.95}

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindNoAction, out.Kind)
}

func TestDecideRouteRejectedBelowThreshold(t *testing.T) {
	f := newFixture(testConfig())
	f.resolver.byDomain["research"] = []models.Participant{{ID: 1}}
	f.router.routing = provider.Routing{Domain: "research", Confidence: 0.4}

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindNoAction, out.Kind)
}

func TestDecideDeferredAfterModerationRetriesExhausted(t *testing.T) {
	f := newFixture(testConfig())
	f.classifier.failUpTo = 1000

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindDeferred, out.Kind)
	assert.Equal(t, DeferredModerationUnavailable, out.Reason)
	assert.Equal(t, 3, f.classifier.calls, "max_attempts bounds the retries")
	assert.Zero(t, f.embedder.calls)
	assert.Zero(t, f.router.calls)
}

func TestDecideModerationRecoversWithinRetryBudget(t *testing.T) {
	f := newFixture(testConfig())
	f.classifier.failUpTo = 2

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindNoAction, out.Kind)
	assert.Equal(t, 3, f.classifier.calls)
}

func TestDecideEmbeddingFailureDegradesToRouting(t *testing.T) {
	f := newFixture(testConfig())
	f.embedder.err = provider.ErrUnavailable
	f.resolver.byDomain["research"] = []models.Participant{{ID: 1}}
	f.router.routing = provider.Routing{Domain: "", Confidence: 0}

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindNoAction, out.Kind)
	assert.Zero(t, f.idx.calls)
	assert.Equal(t, 1, f.router.calls, "routing still runs when FAQ degrades")
}

func TestDecideRouterFailureDegradesToNoAction(t *testing.T) {
	f := newFixture(testConfig())
	f.resolver.byDomain["research"] = []models.Participant{{ID: 1}}
	f.router.err = provider.ErrUnavailable

	out, err := f.pipe.Decide(context.Background(), testMessage(), Context{})
	require.NoError(t, err)

	assert.Equal(t, KindNoAction, out.Kind)
}

func TestDecideCancelledContextSurfaces(t *testing.T) {
	f := newFixture(testConfig())
	f.classifier.failUpTo = 1000

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipe.Decide(ctx, testMessage(), Context{})
	assert.ErrorIs(t, err, context.Canceled)
}

package logic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/logic/textutil"
	"github.com/patrickwarner/modserve/internal/logic/tiers"
	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/observability"
)

type memQueue struct {
	mu    sync.Mutex
	items []models.QueueItem
	err   error
}

func (q *memQueue) Enqueue(_ context.Context, item models.QueueItem) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.items = append(q.items, item)
	return "item-1", nil
}

type memAlerts struct{ alerts []models.Alert }

func (m *memAlerts) PublishAlert(_ context.Context, a models.Alert) error {
	m.alerts = append(m.alerts, a)
	return nil
}

type memRecorder struct{ decisions []models.Decision }

func (m *memRecorder) RecordDecision(_ context.Context, _ models.Submission, d models.Decision) error {
	m.decisions = append(m.decisions, d)
	return nil
}

type stubClassifier struct {
	scores map[string]int
	err    error
}

func (s stubClassifier) Classify(context.Context, string) (map[string]int, error) {
	return s.scores, s.err
}

type stubReputation struct {
	verdicts map[string]tiers.Verdict
	hang     bool
}

func (s stubReputation) Lookup(ctx context.Context, rawURL string) (tiers.Verdict, error) {
	if s.hang {
		<-ctx.Done()
		return tiers.Verdict{}, ctx.Err()
	}
	return s.verdicts[textutil.Host(rawURL)], nil
}

type fixture struct {
	agg      *Aggregator
	queue    *memQueue
	alerts   *memAlerts
	recorder *memRecorder
	metrics  *observability.RecordingRegistry
}

func newFixture(scores map[string]int, rep tiers.Reputation) fixture {
	f := fixture{
		queue:    &memQueue{},
		alerts:   &memAlerts{},
		recorder: &memRecorder{},
		metrics:  observability.NewRecordingRegistry(),
	}
	f.agg = &Aggregator{
		Links:      &tiers.LinkChecker{Reputation: rep, Timeout: 50 * time.Millisecond},
		Classifier: &tiers.Classifier{Client: stubClassifier{scores: scores}},
		Queue:      f.queue,
		Recorders:  []DecisionRecorder{f.recorder},
		Alerts:     f.alerts,
		Metrics:    f.metrics,
		Logger:     zap.NewNop(),
	}
	return f
}

func submission(text string) models.Submission {
	return models.Submission{Text: text, ContentType: "message", Workflow: models.WorkflowCommunityChat, UserID: "u1"}
}

func stepFor(t *testing.T, d models.Decision, tier models.Tier) models.TierResult {
	t.Helper()
	for _, s := range d.TierFlow {
		if s.Tier == tier {
			return s
		}
	}
	t.Fatalf("tier %s missing from flow", tier)
	return models.TierResult{}
}

func TestModerate_CleanContentAllowed(t *testing.T) {
	f := newFixture(map[string]int{}, stubReputation{})

	d, err := f.agg.Moderate(context.Background(), submission("see you all at the meetup"), models.DefaultConfig())
	require.NoError(t, err)

	assert.True(t, d.Allowed)
	assert.Equal(t, models.ActionAllow, d.Action)
	assert.Equal(t, models.ReasonPassed, d.Reason)
	require.Len(t, d.TierFlow, len(models.Tiers))
	for _, s := range d.TierFlow {
		assert.True(t, s.Evaluated, s.Tier)
	}
	assert.Empty(t, f.queue.items)
	assert.Len(t, f.recorder.decisions, 1)
	assert.Equal(t, 1, f.metrics.Count(f.metrics.Decisions, "allow/passed_all_tiers"))
}

func TestModerate_KeywordBlockShortCircuits(t *testing.T) {
	f := newFixture(map[string]int{models.CategoryHate: 6}, stubReputation{})
	cfg := models.DefaultConfig()
	cfg.Tier1.Blocklist = []string{"kys"}

	d, err := f.agg.Moderate(context.Background(), submission("you kys now"), cfg)
	require.NoError(t, err)

	assert.False(t, d.Allowed)
	assert.Equal(t, models.ActionBlock, d.Action)
	assert.Equal(t, models.ReasonKeywordMatch, d.Reason)

	t1 := stepFor(t, d, models.Tier1)
	require.NotNil(t, t1.Passed)
	assert.False(t, *t1.Passed)
	assert.Equal(t, "kys", t1.Checks.Matches[0].Value)

	for _, tier := range []models.Tier{models.TierSecurity, models.Tier2, models.Tier3} {
		s := stepFor(t, d, tier)
		assert.False(t, s.Evaluated, tier)
		assert.Equal(t, models.ActionSkip, s.Action)
	}
	assert.Empty(t, f.queue.items, "blocked content is not queued")
	assert.Empty(t, f.alerts.alerts)
}

func TestModerate_BlockedDomain(t *testing.T) {
	f := newFixture(nil, stubReputation{})
	cfg := models.DefaultConfig()
	cfg.Tier1.BlockedDomains = []string{"bit.ly"}

	d, err := f.agg.Moderate(context.Background(), submission("visit https://bit.ly/x"), cfg)
	require.NoError(t, err)

	assert.Equal(t, models.ActionBlock, d.Action)
	assert.Equal(t, models.ReasonDomainMatch, d.Reason)
}

func TestModerate_Tier3ReviewWithoutAutoBlock(t *testing.T) {
	f := newFixture(map[string]int{models.CategoryHate: 6}, stubReputation{})
	cfg := models.DefaultConfig()
	cfg.Tier3.Thresholds = map[string]int{models.CategoryHate: 4}
	cfg.Tier3.AutoBlock = false

	d, err := f.agg.Moderate(context.Background(), submission("some hateful text"), cfg)
	require.NoError(t, err)

	assert.Equal(t, models.ActionReview, d.Action)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.ReasonAIViolation, d.Reason)
	assert.Equal(t, models.PriorityHigh, d.Priority)
	assert.Equal(t, "item-1", d.QueueItemID)

	require.Len(t, f.queue.items, 1)
	item := f.queue.items[0]
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, models.PriorityHigh, item.Priority)
	require.NotNil(t, item.Tier3Result)
	assert.False(t, *item.Tier3Result.Passed)
	assert.Len(t, item.TierFlow, len(models.Tiers))
	assert.NotEmpty(t, item.ContentHash)

	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, "item-1", f.alerts.alerts[0].QueueItemID)
	assert.Equal(t, 1, f.metrics.Count(f.metrics.Enqueued, "high"))
}

func TestModerate_NoAlertWhenNotifyDisabled(t *testing.T) {
	f := newFixture(map[string]int{models.CategoryHate: 6}, stubReputation{})
	cfg := models.DefaultConfig()
	cfg.Tier3.NotifyAdmins = false

	_, err := f.agg.Moderate(context.Background(), submission("text"), cfg)
	require.NoError(t, err)
	assert.Empty(t, f.alerts.alerts)
}

func TestModerate_ReputationTimeoutDegrades(t *testing.T) {
	f := newFixture(map[string]int{}, stubReputation{hang: true})

	d, err := f.agg.Moderate(context.Background(), submission("docs at https://example.org/guide"), models.DefaultConfig())
	require.NoError(t, err)

	t2 := stepFor(t, d, models.Tier2)
	assert.True(t, t2.Degraded)
	require.NotNil(t, t2.Passed)
	assert.True(t, *t2.Passed)
	assert.Equal(t, models.ActionAllow, d.Action)
}

func TestModerate_ClassifierUnavailableNeverBlocks(t *testing.T) {
	f := newFixture(nil, stubReputation{})
	f.agg.Classifier = &tiers.Classifier{Client: stubClassifier{err: errors.New("503")}}

	d, err := f.agg.Moderate(context.Background(), submission("hello"), models.DefaultConfig())
	require.NoError(t, err)

	t3 := stepFor(t, d, models.Tier3)
	assert.Equal(t, models.ActionSkip, t3.Action)
	assert.Nil(t, t3.Passed)
	assert.True(t, t3.Evaluated)
	assert.Equal(t, models.ActionAllow, d.Action)
}

func TestModerate_Disabled(t *testing.T) {
	f := newFixture(nil, stubReputation{})
	cfg := models.DefaultConfig()
	cfg.Enabled = false
	cfg.Tier1.Blocklist = []string{"kys"}

	d, err := f.agg.Moderate(context.Background(), submission("you kys now"), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.ActionAllow, d.Action)
	assert.Equal(t, models.ReasonDisabled, d.Reason)

	cfg.Enabled = true
	wf := cfg.Workflows[models.WorkflowCommunityChat]
	wf.Enabled = false
	cfg.Workflows[models.WorkflowCommunityChat] = wf
	d, err = f.agg.Moderate(context.Background(), submission("you kys now"), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonWorkflowDisabled, d.Reason)
}

func TestModerate_WorkflowSelectsTiers(t *testing.T) {
	f := newFixture(map[string]int{models.CategoryHate: 6}, stubReputation{})
	sub := submission("hello")
	sub.Workflow = models.WorkflowNotifications

	d, err := f.agg.Moderate(context.Background(), sub, models.DefaultConfig())
	require.NoError(t, err)

	assert.True(t, stepFor(t, d, models.Tier1).Evaluated)
	assert.True(t, stepFor(t, d, models.TierSecurity).Evaluated)
	assert.False(t, stepFor(t, d, models.Tier2).Evaluated)
	assert.False(t, stepFor(t, d, models.Tier3).Evaluated)
	assert.Equal(t, models.ActionAllow, d.Action)
}

func TestModerate_UnknownWorkflowRunsAllTiers(t *testing.T) {
	f := newFixture(map[string]int{}, stubReputation{})
	sub := submission("hello")
	sub.Workflow = "marketplace"

	d := f.agg.Evaluate(context.Background(), sub, models.DefaultConfig())
	for _, s := range d.TierFlow {
		assert.True(t, s.Evaluated, s.Tier)
	}
}

func TestModerate_SecurityFloorWithTier1Disabled(t *testing.T) {
	f := newFixture(nil, stubReputation{})
	cfg := models.DefaultConfig()
	cfg.Tier1.Enabled = false

	d, err := f.agg.Moderate(context.Background(), submission("<script>alert(1)</script>"), cfg)
	require.NoError(t, err)

	assert.False(t, stepFor(t, d, models.Tier1).Evaluated)
	assert.Equal(t, models.ActionBlock, d.Action)
	assert.Equal(t, models.ReasonSecurityMatch, d.Reason)
}

func TestModerate_FlagIsAllowedAndQueued(t *testing.T) {
	f := newFixture(map[string]int{}, stubReputation{})
	cfg := models.DefaultConfig()
	cfg.Tier1.Blocklist = []string{"spoiler"}
	cfg.Tier1.Action = models.ActionFlag

	d, err := f.agg.Moderate(context.Background(), submission("spoiler: the butler did it"), cfg)
	require.NoError(t, err)

	assert.True(t, d.Allowed)
	assert.Equal(t, models.ActionFlag, d.Action)
	assert.Equal(t, models.PriorityMedium, d.Priority)
	require.Len(t, f.queue.items, 1)
	assert.Equal(t, "s******: the butler did it", f.queue.items[0].SafeContent)
}

func TestModerate_MaliciousLinkInReviewIsCritical(t *testing.T) {
	rep := stubReputation{verdicts: map[string]tiers.Verdict{
		"evil.example.net": {Malicious: 4, Known: true},
	}}
	f := newFixture(map[string]int{}, rep)
	cfg := models.DefaultConfig()
	cfg.Tier2.BlockMalicious = false

	d, err := f.agg.Moderate(context.Background(), submission("go https://evil.example.net/x"), cfg)
	require.NoError(t, err)

	assert.Equal(t, models.ActionReview, d.Action)
	assert.Equal(t, models.ReasonMaliciousLink, d.Reason)
	assert.Equal(t, models.PriorityCritical, d.Priority)
	require.Len(t, f.queue.items, 1)
	assert.Equal(t, "go hxxps://evil[.]example[.]net/x", f.queue.items[0].SafeContent)
}

func TestModerate_EnqueueFailureStillDecides(t *testing.T) {
	f := newFixture(map[string]int{models.CategoryHate: 6}, stubReputation{})
	f.queue.err = errors.New("db down")
	cfg := models.DefaultConfig()
	cfg.Tier3.AutoBlock = false

	d, err := f.agg.Moderate(context.Background(), submission("text"), cfg)
	require.Error(t, err)
	assert.Equal(t, models.ActionReview, d.Action)
	assert.Empty(t, d.QueueItemID)
}

func TestModerate_CancelledCallerSkipsSideEffects(t *testing.T) {
	f := newFixture(map[string]int{models.CategoryHate: 6}, stubReputation{})
	cfg := models.DefaultConfig()
	cfg.Tier3.AutoBlock = false
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.agg.Moderate(ctx, submission("text"), cfg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.queue.items)
	assert.Empty(t, f.recorder.decisions)
}

func TestEvaluate_DryRunHasNoSideEffects(t *testing.T) {
	f := newFixture(map[string]int{models.CategoryHate: 6}, stubReputation{})
	cfg := models.DefaultConfig()
	cfg.Tier3.AutoBlock = false

	first := f.agg.Evaluate(context.Background(), submission("text"), cfg)
	second := f.agg.Evaluate(context.Background(), submission("text"), cfg)

	assert.Equal(t, models.ActionReview, first.Action)
	assert.Equal(t, first.Action, second.Action)
	assert.Empty(t, f.queue.items)
	assert.Empty(t, f.alerts.alerts)
	assert.Empty(t, f.recorder.decisions)
}

package configstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/db"
	"github.com/patrickwarner/modserve/internal/logic"
	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/observability"
)

type recordingNotifier struct {
	mu       sync.Mutex
	versions []int64
	err      error
}

func (n *recordingNotifier) PublishConfigUpdate(_ context.Context, version int64, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.versions = append(n.versions, version)
	return n.err
}

func newTestStore(t *testing.T, p Persister) (*Store, *recordingNotifier, *observability.RecordingRegistry) {
	t.Helper()
	n := &recordingNotifier{}
	metrics := observability.NewRecordingRegistry()
	return New(p, n, &logic.Aggregator{}, metrics, zap.NewNop()), n, metrics
}

func TestInitPersistsDefaultsOnFirstRun(t *testing.T) {
	mem := db.NewMemoryStore()
	s, _, metrics := newTestStore(t, mem)

	require.NoError(t, s.Init(context.Background(), ""))
	cfg := s.Get()
	assert.Equal(t, int64(1), cfg.Version)
	assert.Equal(t, SystemActor, cfg.UpdatedBy)
	assert.Equal(t, int64(1), metrics.Version)

	stored, err := mem.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	// a second instance picks up the persisted document instead of reseeding
	other, _, _ := newTestStore(t, mem)
	require.NoError(t, other.Init(context.Background(), ""))
	assert.Equal(t, int64(1), other.Get().Version)
	history, err := mem.ConfigHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestInitFromYAMLSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moderation.yaml")
	seed := `
tier1:
  enabled: true
  blocklist: ["Spam", "scam"]
  blockedDomains: ["Evil.Example.com"]
  matchWholeWord: true
  action: review
tier3:
  thresholds:
    hate: 2
`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	s, _, _ := newTestStore(t, db.NewMemoryStore())
	require.NoError(t, s.Init(context.Background(), path))

	cfg := s.Get()
	assert.Equal(t, []string{"spam", "scam"}, cfg.Tier1.Blocklist)
	assert.Equal(t, []string{"evil.example.com"}, cfg.Tier1.BlockedDomains)
	assert.Equal(t, models.ActionReview, cfg.Tier1.Action)
	assert.Equal(t, 2, cfg.Tier3.Thresholds[models.CategoryHate])
	// untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Tier3.Thresholds[models.CategoryViolence])
	assert.True(t, cfg.Tier2.Enabled)
}

func TestInitRejectsInvalidSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tier1:\n  action: delete\n"), 0o600))

	s, _, _ := newTestStore(t, db.NewMemoryStore())
	err := s.Init(context.Background(), path)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, int64(0), s.Get().Version)
}

func TestInitRejectsUnreadableSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tier1: [not, a, map"), 0o600))

	s, _, _ := newTestStore(t, db.NewMemoryStore())
	assert.ErrorIs(t, s.Init(context.Background(), path), models.ErrConfiguration)
	assert.ErrorIs(t, s.Init(context.Background(), filepath.Join(t.TempDir(), "missing.yaml")), models.ErrConfiguration)
}

func TestPutBumpsVersionAndNotifies(t *testing.T) {
	mem := db.NewMemoryStore()
	s, n, _ := newTestStore(t, mem)
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, ""))

	cfg := s.Get()
	cfg.Tier1.Blocklist = []string{"  Crypto Scam "}
	out, err := s.Put(ctx, cfg, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Version)
	assert.Equal(t, "admin@example.com", out.UpdatedBy)
	assert.Equal(t, []string{"crypto scam"}, out.Tier1.Blocklist)
	assert.Equal(t, []int64{2}, n.versions)

	history, err := s.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].Version)
}

func TestPutValidationLeavesConfigUntouched(t *testing.T) {
	s, n, _ := newTestStore(t, db.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, ""))
	before := s.Get()

	cfg := s.Get()
	cfg.Tier1.Action = "delete"
	cfg.Tier1.Blocklist = []string{"spam", "SPAM"}
	cfg.Tier3.Thresholds[models.CategoryHate] = 3
	_, err := s.Put(ctx, cfg, "admin")

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 3)
	assert.Equal(t, before, s.Get())
	assert.Empty(t, n.versions)
}

func TestPutSurvivesNotifierFailure(t *testing.T) {
	s, n, _ := newTestStore(t, db.NewMemoryStore())
	n.err = errors.New("redis down")
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, ""))

	out, err := s.Put(ctx, s.Get(), "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Get().Version)
	assert.Equal(t, out.Version, s.Get().Version)
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	cfg := s.Get()
	cfg.Tier1.Blocklist = append(cfg.Tier1.Blocklist, "mutated")
	cfg.Workflows["new"] = models.WorkflowConfig{Enabled: true}

	fresh := s.Get()
	assert.NotContains(t, fresh.Tier1.Blocklist, "mutated")
	assert.NotContains(t, fresh.Workflows, "new")
}

func TestConcurrentPutsProduceDistinctVersions(t *testing.T) {
	s, _, _ := newTestStore(t, db.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, ""))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Put(ctx, s.Get(), "admin")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(11), s.Get().Version)
}

func TestTestEvaluateUsesCurrentConfig(t *testing.T) {
	s, _, _ := newTestStore(t, db.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, ""))

	d := s.TestEvaluate(ctx, "buy spam now", models.WorkflowEvents)
	assert.True(t, d.Allowed)

	cfg := s.Get()
	cfg.Tier1.Blocklist = []string{"spam"}
	_, err := s.Put(ctx, cfg, "admin")
	require.NoError(t, err)

	d = s.TestEvaluate(ctx, "buy spam now", models.WorkflowEvents)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.ActionBlock, d.Action)
	assert.Equal(t, models.ReasonKeywordMatch, d.Reason)
	assert.Empty(t, d.QueueItemID)
}

func TestReloadAndOnUpdate(t *testing.T) {
	mem := db.NewMemoryStore()
	ctx := context.Background()
	writer, _, _ := newTestStore(t, mem)
	reader, _, _ := newTestStore(t, mem)
	require.NoError(t, writer.Init(ctx, ""))
	require.NoError(t, reader.Init(ctx, ""))

	cfg := writer.Get()
	cfg.Enabled = false
	_, err := writer.Put(ctx, cfg, "admin")
	require.NoError(t, err)
	assert.True(t, reader.Get().Enabled)

	// stale announcements are ignored
	reader.OnUpdate(ctx, 1)
	assert.Equal(t, int64(1), reader.Get().Version)

	reader.OnUpdate(ctx, 2)
	assert.Equal(t, int64(2), reader.Get().Version)
	assert.False(t, reader.Get().Enabled)
}

func TestReloadWithoutPersistence(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	assert.ErrorIs(t, s.Reload(context.Background()), models.ErrConfiguration)
	history, err := s.History(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, history)
}

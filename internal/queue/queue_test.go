package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/db"
	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/observability"
)

func newTestService(t *testing.T) (*Service, *observability.RecordingRegistry) {
	t.Helper()
	metrics := observability.NewRecordingRegistry()
	return NewService(db.NewMemoryStore(), metrics, zap.NewNop()), metrics
}

func enqueue(t *testing.T, s *Service, content string) string {
	t.Helper()
	id, err := s.Enqueue(context.Background(), models.QueueItem{
		Workflow: models.WorkflowGroups,
		Content:  content,
		Priority: models.PriorityMedium,
	})
	require.NoError(t, err)
	return id
}

func TestEnqueueAssignsIdentity(t *testing.T) {
	s, _ := newTestService(t)
	id := enqueue(t, s, "hello")

	it, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, it.ID, 36)
	assert.Equal(t, models.StatusPending, it.Status)
	assert.False(t, it.CreatedAt.IsZero())
	assert.Nil(t, it.ReviewedAt)
}

func TestReviewTransitionsOnce(t *testing.T) {
	s, metrics := newTestService(t)
	ctx := context.Background()
	id := enqueue(t, s, "hello")

	it, err := s.Review(ctx, id, models.StatusApproved, "admin@example.com", "looks fine")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, it.Status)
	assert.Equal(t, "admin@example.com", it.ReviewedBy)
	assert.Equal(t, "looks fine", it.Notes)
	require.NotNil(t, it.ReviewedAt)

	_, err = s.Review(ctx, id, models.StatusRejected, "other@example.com", "")
	assert.ErrorIs(t, err, models.ErrAlreadyReviewed)

	_, err = s.Review(ctx, "does-not-exist", models.StatusRejected, "x", "")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, 1, metrics.Count(metrics.Reviews, "approved/ok"))
	assert.Equal(t, 1, metrics.Count(metrics.Reviews, "rejected/conflict"))
}

// uuidColumnStore mimics a store whose id column is typed UUID: malformed
// ids are a driver error, not a missing row.
type uuidColumnStore struct {
	Store
	t *testing.T
}

func (s uuidColumnStore) check(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		s.t.Errorf("store queried with malformed id %q", id)
		return errors.New(`pq: invalid input syntax for type uuid: "` + id + `"`)
	}
	return nil
}

func (s uuidColumnStore) GetQueueItem(ctx context.Context, id string) (models.QueueItem, error) {
	if err := s.check(id); err != nil {
		return models.QueueItem{}, err
	}
	return s.Store.GetQueueItem(ctx, id)
}

func (s uuidColumnStore) ReviewQueueItem(ctx context.Context, id string, status models.QueueStatus, reviewer, notes string, at time.Time) (models.QueueItem, error) {
	if err := s.check(id); err != nil {
		return models.QueueItem{}, err
	}
	return s.Store.ReviewQueueItem(ctx, id, status, reviewer, notes, at)
}

func TestMalformedIDIsNotFound(t *testing.T) {
	metrics := observability.NewRecordingRegistry()
	s := NewService(uuidColumnStore{Store: db.NewMemoryStore(), t: t}, metrics, zap.NewNop())
	ctx := context.Background()
	id := enqueue(t, s, "hello")

	_, err := s.Get(ctx, "abc")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.Review(ctx, "abc", models.StatusApproved, "r", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, metrics.Count(metrics.Reviews, "approved/not_found"))

	results := s.BulkReview(ctx, []string{id, "typo-id"}, models.StatusRejected, "r", "")
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, models.ErrNotFound)
}

func TestReviewRejectsInvalidAction(t *testing.T) {
	s, _ := newTestService(t)
	id := enqueue(t, s, "hello")

	_, err := s.Review(context.Background(), id, models.StatusPending, "x", "")
	assert.ErrorIs(t, err, models.ErrInvalidReviewAction)
}

func TestConcurrentReviewsExactlyOneWins(t *testing.T) {
	s, _ := newTestService(t)
	id := enqueue(t, s, "hello")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, status := range []models.QueueStatus{models.StatusApproved, models.StatusRejected} {
		wg.Add(1)
		go func(st models.QueueStatus) {
			defer wg.Done()
			_, err := s.Review(context.Background(), id, st, "r", "")
			errs <- err
		}(status)
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		if err == nil {
			wins++
		} else if errors.Is(err, models.ErrAlreadyReviewed) {
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestBulkReviewPartialSuccess(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	a := enqueue(t, s, "a")
	b := enqueue(t, s, "b")
	_, err := s.Review(ctx, b, models.StatusApproved, "r", "")
	require.NoError(t, err)

	results := s.BulkReview(ctx, []string{a, b, "missing"}, models.StatusRejected, "bulk", "spam wave")
	require.Len(t, results, 3)

	assert.Equal(t, a, results[0].ID)
	require.NotNil(t, results[0].Item)
	assert.Equal(t, models.StatusRejected, results[0].Item.Status)
	assert.Empty(t, results[0].Error)

	assert.ErrorIs(t, results[1].Err, models.ErrAlreadyReviewed)
	assert.NotEmpty(t, results[1].Error)
	assert.ErrorIs(t, results[2].Err, models.ErrNotFound)
}

func TestListNewestFirstWithFilter(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	clock := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { clock = clock.Add(time.Second); return clock }

	first := enqueue(t, s, "first")
	second := enqueue(t, s, "second")
	_, err := s.Review(ctx, first, models.StatusApproved, "r", "")
	require.NoError(t, err)

	all, err := s.List(ctx, models.StatusAll)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second, all[0].ID)

	pending, err := s.List(ctx, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)

	rejected, err := s.List(ctx, models.StatusRejected)
	require.NoError(t, err)
	assert.NotNil(t, rejected)
	assert.Empty(t, rejected)
}

func TestStats(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 2, 15, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	a := enqueue(t, s, "a")
	enqueue(t, s, "b")
	c := enqueue(t, s, "c")
	_, err := s.Review(ctx, a, models.StatusApproved, "r", "")
	require.NoError(t, err)
	_, err = s.Review(ctx, c, models.StatusRejected, "r", "")
	require.NoError(t, err)

	// an item from yesterday does not count toward today
	s.Now = func() time.Time { return now.Add(-24 * time.Hour) }
	enqueue(t, s, "old")
	s.Now = func() time.Time { return now }

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 3, stats.TodayTotal)
}

// Package queue implements the human review queue on top of a persistent
// Store.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/observability"
)

// Store persists queue items. ReviewItem must transition the item only when
// it is still pending, returning models.ErrAlreadyReviewed otherwise and
// models.ErrNotFound for unknown ids.
type Store interface {
	InsertQueueItem(ctx context.Context, item models.QueueItem) error
	ListQueueItems(ctx context.Context, status models.QueueStatus) ([]models.QueueItem, error)
	GetQueueItem(ctx context.Context, id string) (models.QueueItem, error)
	ReviewQueueItem(ctx context.Context, id string, status models.QueueStatus, reviewer, notes string, at time.Time) (models.QueueItem, error)
	QueueCounts(ctx context.Context) (map[models.QueueStatus]int, error)
	CountQueueItemsSince(ctx context.Context, since time.Time) (int, error)
}

// DefaultBulkConcurrency caps the parallel reviews of one bulk request.
const DefaultBulkConcurrency = 8

// Service is the moderation queue.
type Service struct {
	Store           Store
	Metrics         observability.MetricsRegistry
	Logger          *zap.Logger
	BulkConcurrency int
	// Now is overridable for tests.
	Now func() time.Time
}

// NewService returns a Service over store.
func NewService(store Store, metrics observability.MetricsRegistry, logger *zap.Logger) *Service {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:           store,
		Metrics:         metrics,
		Logger:          logger,
		BulkConcurrency: DefaultBulkConcurrency,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores item as a new pending entry and returns its generated id.
func (s *Service) Enqueue(ctx context.Context, item models.QueueItem) (string, error) {
	item.ID = uuid.NewString()
	item.Status = models.StatusPending
	item.CreatedAt = s.Now()
	item.ReviewedAt = nil
	item.ReviewedBy = ""
	if item.Priority == "" {
		item.Priority = models.PriorityLow
	}
	if err := s.Store.InsertQueueItem(ctx, item); err != nil {
		return "", fmt.Errorf("insert queue item: %w", err)
	}
	s.Logger.Debug("queued submission for review",
		zap.String("id", item.ID),
		zap.String("priority", string(item.Priority)),
		zap.String("reason", item.Reason))
	return item.ID, nil
}

// List returns items with the given status, newest first. StatusAll
// disables the filter.
func (s *Service) List(ctx context.Context, status models.QueueStatus) ([]models.QueueItem, error) {
	items, err := s.Store.ListQueueItems(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	if items == nil {
		items = []models.QueueItem{}
	}
	return items, nil
}

// Get returns a single item.
func (s *Service) Get(ctx context.Context, id string) (models.QueueItem, error) {
	if !validID(id) {
		return models.QueueItem{}, models.ErrNotFound
	}
	return s.Store.GetQueueItem(ctx, id)
}

// validID reports whether id is a UUID. Ids are generated by Enqueue, so
// anything else names no item.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Review moves a pending item to approved or rejected. Only one of several
// concurrent reviews of the same item succeeds; the others get
// models.ErrAlreadyReviewed.
func (s *Service) Review(ctx context.Context, id string, status models.QueueStatus, reviewer, notes string) (models.QueueItem, error) {
	if !models.IsReviewAction(status) {
		return models.QueueItem{}, models.ErrInvalidReviewAction
	}
	var (
		item models.QueueItem
		err  error
	)
	if validID(id) {
		item, err = s.Store.ReviewQueueItem(ctx, id, status, reviewer, notes, s.Now())
	} else {
		err = models.ErrNotFound
	}
	s.Metrics.IncrementReviews(string(status), reviewOutcome(err))
	if err != nil {
		return models.QueueItem{}, err
	}
	s.Logger.Info("queue item reviewed",
		zap.String("id", id),
		zap.String("status", string(status)),
		zap.String("reviewed_by", reviewer))
	return item, nil
}

func reviewOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrAlreadyReviewed):
		return "conflict"
	default:
		return "error"
	}
}

// ReviewResult is the outcome of reviewing one id in a bulk request.
type ReviewResult struct {
	ID    string            `json:"id"`
	Item  *models.QueueItem `json:"item,omitempty"`
	Error string            `json:"error,omitempty"`
	Err   error             `json:"-"`
}

// BulkReview reviews every id independently. Results are returned in the
// order of ids; a failure for one id does not affect the others.
func (s *Service) BulkReview(ctx context.Context, ids []string, status models.QueueStatus, reviewer, notes string) []ReviewResult {
	results := make([]ReviewResult, len(ids))
	limit := s.BulkConcurrency
	if limit <= 0 {
		limit = DefaultBulkConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			res := ReviewResult{ID: id}
			item, err := s.Review(ctx, id, status, reviewer, notes)
			if err != nil {
				res.Err = err
				res.Error = err.Error()
			} else {
				res.Item = &item
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Stats summarises the queue. TodayTotal counts items created since
// midnight UTC.
func (s *Service) Stats(ctx context.Context) (models.QueueStats, error) {
	counts, err := s.Store.QueueCounts(ctx)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("queue counts: %w", err)
	}
	now := s.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := s.Store.CountQueueItemsSince(ctx, midnight)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("count today: %w", err)
	}
	return models.QueueStats{
		Pending:    counts[models.StatusPending],
		Approved:   counts[models.StatusApproved],
		Rejected:   counts[models.StatusRejected],
		TodayTotal: today,
	}, nil
}

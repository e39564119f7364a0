package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/patrickwarner/modserve/internal/models"
)

// MemoryStore keeps the moderation config and review queue in process
// memory. It backs local development and tests when Postgres is not
// configured and honours the same review compare-and-swap as Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	config  *models.ModerationConfig
	history []models.ModerationConfig
	items   map[string]models.QueueItem
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]models.QueueItem)}
}

// LoadConfig returns the stored config or models.ErrNotFound.
func (m *MemoryStore) LoadConfig(_ context.Context) (models.ModerationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return models.ModerationConfig{}, models.ErrNotFound
	}
	return m.config.Clone(), nil
}

// SaveConfig replaces the stored config and appends it to the history.
func (m *MemoryStore) SaveConfig(_ context.Context, cfg models.ModerationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cfg.Clone()
	m.config = &c
	m.history = append(m.history, cfg.Clone())
	return nil
}

// ConfigHistory returns up to limit previous versions, newest first.
func (m *MemoryStore) ConfigHistory(_ context.Context, limit int) ([]models.ModerationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ModerationConfig, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.history[i].Clone())
	}
	return out, nil
}

// InsertQueueItem stores a new item.
func (m *MemoryStore) InsertQueueItem(_ context.Context, item models.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

// ListQueueItems returns items filtered by status, newest first.
func (m *MemoryStore) ListQueueItems(_ context.Context, status models.QueueStatus) ([]models.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.QueueItem, 0, len(m.items))
	for _, it := range m.items {
		if status != models.StatusAll && it.Status != status {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetQueueItem returns the item with id or models.ErrNotFound.
func (m *MemoryStore) GetQueueItem(_ context.Context, id string) (models.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return models.QueueItem{}, models.ErrNotFound
	}
	return it, nil
}

// ReviewQueueItem transitions a pending item under the write lock.
func (m *MemoryStore) ReviewQueueItem(_ context.Context, id string, status models.QueueStatus, reviewer, notes string, at time.Time) (models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return models.QueueItem{}, models.ErrNotFound
	}
	if it.Status != models.StatusPending {
		return models.QueueItem{}, models.ErrAlreadyReviewed
	}
	it.Status = status
	it.ReviewedBy = reviewer
	it.Notes = notes
	reviewedAt := at
	it.ReviewedAt = &reviewedAt
	m.items[id] = it
	return it, nil
}

// QueueCounts returns the number of items per status.
func (m *MemoryStore) QueueCounts(_ context.Context) (map[models.QueueStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[models.QueueStatus]int, 3)
	for _, it := range m.items {
		counts[it.Status]++
	}
	return counts, nil
}

// CountQueueItemsSince counts items created at or after since.
func (m *MemoryStore) CountQueueItemsSince(_ context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, it := range m.items {
		if !it.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

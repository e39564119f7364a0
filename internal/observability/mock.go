package observability

import (
	"sync"
	"time"
)

// RecordingRegistry is a MetricsRegistry for tests that keeps counts of the
// pipeline and queue events it receives.
type RecordingRegistry struct {
	NoOpRegistry

	mu        sync.Mutex
	Decisions map[string]int
	Tiers     map[string]int
	Enqueued  map[string]int
	Reviews   map[string]int
	Deps      map[string]int
	CacheHits int
	RateLimit int
	Version   int64
}

// NewRecordingRegistry creates an empty RecordingRegistry.
func NewRecordingRegistry() *RecordingRegistry {
	return &RecordingRegistry{
		Decisions: map[string]int{},
		Tiers:     map[string]int{},
		Enqueued:  map[string]int{},
		Reviews:   map[string]int{},
		Deps:      map[string]int{},
	}
}

func (m *RecordingRegistry) IncrementDecisions(action, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Decisions[action+"/"+reason]++
}

func (m *RecordingRegistry) RecordTier(tier, action string, degraded bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tiers[tier+"/"+action]++
}

func (m *RecordingRegistry) IncrementDependencyRequests(service, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deps[service+"/"+outcome]++
}

func (m *RecordingRegistry) IncrementReputationCacheHits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheHits++
}

func (m *RecordingRegistry) IncrementEnqueued(priority string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Enqueued[priority]++
}

func (m *RecordingRegistry) IncrementReviews(status, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reviews[status+"/"+outcome]++
}

func (m *RecordingRegistry) IncrementRateLimitHits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RateLimit++
}

func (m *RecordingRegistry) SetConfigVersion(version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Version = version
}

// Count returns the value recorded under key in the named map.
func (m *RecordingRegistry) Count(counts map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return counts[key]
}

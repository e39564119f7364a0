package analytics

import (
	"context"
	"sync"

	"github.com/patrickwarner/modserve/internal/models"
)

var _ AnalyticsService = (*MockAnalytics)(nil)

// MockAnalytics keeps recorded decisions in memory for tests.
type MockAnalytics struct {
	mu        sync.Mutex
	Decisions []models.Decision
	Err       error
}

// NewMockAnalytics creates a new mock analytics instance
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// RecordDecision stores d and returns the configured error.
func (m *MockAnalytics) RecordDecision(_ context.Context, _ models.Submission, d models.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Decisions = append(m.Decisions, d)
	return m.Err
}

// Recorded returns a copy of the recorded decisions.
func (m *MockAnalytics) Recorded() []models.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Decision(nil), m.Decisions...)
}

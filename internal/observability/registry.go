package observability

import (
	"strconv"
	"time"
)

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Pipeline metrics
	IncrementDecisions(action, reason string)
	RecordTier(tier, action string, degraded bool, duration time.Duration)

	// Dependency metrics
	IncrementDependencyRequests(service, outcome string)
	RecordDependencyLatency(service string, duration time.Duration)
	IncrementReputationCacheHits()

	// Queue metrics
	IncrementEnqueued(priority string)
	IncrementReviews(status, outcome string)

	// Rate limiting metrics
	IncrementRateLimitHits()

	// Config metrics
	SetConfigVersion(version int64)
}

// PrometheusRegistry implements MetricsRegistry using the existing global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Pipeline metrics
func (r *PrometheusRegistry) IncrementDecisions(action, reason string) {
	DecisionCount.WithLabelValues(action, reason).Inc()
}

func (r *PrometheusRegistry) RecordTier(tier, action string, degraded bool, duration time.Duration) {
	TierOutcomes.WithLabelValues(tier, action, strconv.FormatBool(degraded)).Inc()
	TierLatency.WithLabelValues(tier).Observe(duration.Seconds())
}

// Dependency metrics
func (r *PrometheusRegistry) IncrementDependencyRequests(service, outcome string) {
	DependencyRequests.WithLabelValues(service, outcome).Inc()
}

func (r *PrometheusRegistry) RecordDependencyLatency(service string, duration time.Duration) {
	DependencyLatency.WithLabelValues(service).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementReputationCacheHits() {
	ReputationCacheHits.Inc()
}

// Queue metrics
func (r *PrometheusRegistry) IncrementEnqueued(priority string) {
	QueueEnqueued.WithLabelValues(priority).Inc()
}

func (r *PrometheusRegistry) IncrementReviews(status, outcome string) {
	QueueReviews.WithLabelValues(status, outcome).Inc()
}

// Rate limiting metrics
func (r *PrometheusRegistry) IncrementRateLimitHits() {
	RateLimitHits.Inc()
}

func (r *PrometheusRegistry) SetConfigVersion(version int64) {
	ConfigVersion.Set(float64(version))
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

// HTTP Request metrics
func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

// Pipeline metrics
func (r *NoOpRegistry) IncrementDecisions(action, reason string)                              {}
func (r *NoOpRegistry) RecordTier(tier, action string, degraded bool, duration time.Duration) {}

// Dependency metrics
func (r *NoOpRegistry) IncrementDependencyRequests(service, outcome string)            {}
func (r *NoOpRegistry) RecordDependencyLatency(service string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementReputationCacheHits()                                  {}

// Queue metrics
func (r *NoOpRegistry) IncrementEnqueued(priority string)       {}
func (r *NoOpRegistry) IncrementReviews(status, outcome string) {}

// Rate limiting metrics
func (r *NoOpRegistry) IncrementRateLimitHits() {}

func (r *NoOpRegistry) SetConfigVersion(version int64) {}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modserve_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modserve_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// moderation decisions by final action and reason code
	DecisionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modserve_decisions_total",
			Help: "Total moderation decisions",
		},
		[]string{"action", "reason"},
	)

	// per-tier outcomes, degraded tiers get their own label value
	TierOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modserve_tier_outcomes_total",
			Help: "Tier results by tier and action",
		},
		[]string{"tier", "action", "degraded"},
	)

	TierLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modserve_tier_duration_seconds",
			Help:    "Duration of each tier evaluation",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"tier"},
	)

	// outbound calls to the reputation and classifier services
	DependencyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modserve_dependency_requests_total",
			Help: "Outbound dependency requests by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	DependencyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modserve_dependency_duration_seconds",
			Help:    "Duration of outbound dependency requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// reputation verdicts served from the local cache
	ReputationCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modserve_reputation_cache_hits_total",
			Help: "Reputation lookups answered from cache",
		},
	)

	QueueEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modserve_queue_enqueued_total",
			Help: "Items added to the review queue by priority",
		},
		[]string{"priority"},
	)

	QueueReviews = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modserve_queue_reviews_total",
			Help: "Review attempts by requested status and outcome",
		},
		[]string{"status", "outcome"},
	)

	// rate limit hits on the analyze endpoint
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modserve_ratelimit_hits_total",
			Help: "Total analyze requests rejected by the rate limiter",
		},
	)

	ConfigVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modserve_config_version",
			Help: "Version of the active moderation config",
		},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		DecisionCount,
		TierOutcomes,
		TierLatency,
		DependencyRequests,
		DependencyLatency,
		ReputationCacheHits,
		QueueEnqueued,
		QueueReviews,
		RateLimitHits,
		ConfigVersion,
	)
}

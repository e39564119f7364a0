package ratelimit

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/patrickwarner/modserve/internal/observability"
)

// DefaultMaxKeys bounds the number of submitters tracked at once.
const DefaultMaxKeys = 100000

// Config holds the configuration for rate limiting.
type Config struct {
	Capacity   int  // burst allowance per submitter
	RefillRate int  // tokens regained per second
	Enabled    bool
	// IdleTTL evicts the bucket of a submitter that has been quiet this
	// long. A fresh bucket is full, so eviction never tightens a limit.
	IdleTTL time.Duration
	MaxKeys int
}

// SubmitterLimiter keeps one token bucket per submitter key.
type SubmitterLimiter struct {
	buckets *expirable.LRU[string, *TokenBucket]
	config  Config
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewSubmitterLimiter creates a limiter with the given configuration.
func NewSubmitterLimiter(config Config, metrics observability.MetricsRegistry) *SubmitterLimiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if config.MaxKeys <= 0 {
		config.MaxKeys = DefaultMaxKeys
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &SubmitterLimiter{
		buckets: expirable.NewLRU[string, *TokenBucket](config.MaxKeys, nil, config.IdleTTL),
		config:  config,
		metrics: metrics,
		now:     time.Now,
	}
}

// Allow reports whether key may submit now. It always allows when the
// limiter is disabled.
func (l *SubmitterLimiter) Allow(key string) bool {
	if l == nil || !l.config.Enabled {
		return true
	}

	bucket, ok := l.buckets.Get(key)
	if !ok {
		// concurrent first requests may each create a bucket; the last Add wins
		bucket = newTokenBucket(l.config.Capacity, l.config.RefillRate, l.now)
	}
	// re-adding refreshes the idle timer
	l.buckets.Add(key, bucket)

	if !bucket.Allow() {
		l.metrics.IncrementRateLimitHits()
		return false
	}
	return true
}

// RateLimitStats describes one submitter's bucket.
type RateLimitStats struct {
	Key     string  `json:"key"`
	Hits    int64   `json:"hits"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hitRate"`
}

// String returns a human-readable representation of the statistics.
func (s RateLimitStats) String() string {
	return fmt.Sprintf("submitter %s: %d/%d hits (%.2f%%)", s.Key, s.Hits, s.Total, s.HitRate*100)
}

// Stats returns statistics for every tracked submitter.
func (l *SubmitterLimiter) Stats() map[string]RateLimitStats {
	out := make(map[string]RateLimitStats)
	for _, key := range l.buckets.Keys() {
		bucket, ok := l.buckets.Peek(key)
		if !ok {
			continue
		}
		hits, total := bucket.Stats()
		rate := 0.0
		if total > 0 {
			rate = float64(hits) / float64(total)
		}
		out[key] = RateLimitStats{Key: key, Hits: hits, Total: total, HitRate: rate}
	}
	return out
}

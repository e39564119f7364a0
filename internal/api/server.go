package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/configstore"
	"github.com/patrickwarner/modserve/internal/geoip"
	"github.com/patrickwarner/modserve/internal/logic"
	"github.com/patrickwarner/modserve/internal/logic/ratelimit"
	"github.com/patrickwarner/modserve/internal/observability"
	"github.com/patrickwarner/modserve/internal/queue"
)

// DecisionCounter reports how many decisions of each action were taken on
// a given day.
type DecisionCounter interface {
	DecisionCounts(ctx context.Context, day time.Time) (map[string]int64, error)
}

// BreakerState exposes the circuit breaker of an outbound client.
type BreakerState interface {
	State() string
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger     *zap.Logger
	Metrics    observability.MetricsRegistry
	Config     *configstore.Store
	Aggregator *logic.Aggregator
	Queue      *queue.Service
	Counters   DecisionCounter
	Limiter    *ratelimit.SubmitterLimiter
	GeoIP      *geoip.GeoIP
	Classifier BreakerState
}

// NewServer constructs a Server. Counters, Limiter, GeoIP and Classifier
// are optional and may be set on the returned value.
func NewServer(logger *zap.Logger, metrics observability.MetricsRegistry, cfg *configstore.Store, agg *logic.Aggregator, q *queue.Service) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:     logger,
		Metrics:    metrics,
		Config:     cfg,
		Aggregator: agg,
		Queue:      q,
	}
}

// observe records the request counter and latency for one handler call.
func (s *Server) observe(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

// helper function to write JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// Package contentsafety calls an Azure-Content-Safety-style text analysis
// endpoint and reports per-category severities.
package contentsafety

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/observability"
)

const (
	serviceName = "classifier"
	apiVersion  = "2023-10-01"
	// MaxTextRunes is the longest text the service accepts in one call.
	MaxTextRunes = 10000
)

// remote category names mapped to ours
var categoryNames = map[string]string{
	"Hate":     models.CategoryHate,
	"Sexual":   models.CategorySexual,
	"Violence": models.CategoryViolence,
	"SelfHarm": models.CategorySelfHarm,
}

type analyzeRequest struct {
	Text       string   `json:"text"`
	Categories []string `json:"categories"`
	OutputType string   `json:"outputType"`
}

type analyzeResponse struct {
	CategoriesAnalysis []struct {
		Category string `json:"category"`
		Severity int    `json:"severity"`
	} `json:"categoriesAnalysis"`
}

// Options configures a Client.
type Options struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// Client classifies text. It satisfies tiers.ContentClassifier.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
}

// NewClient creates a classifier client.
func NewClient(opts Options, logger *zap.Logger, metrics observability.MetricsRegistry) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	threshold := opts.FailureThreshold
	settings := gobreaker.Settings{
		Name:        "ContentSafety",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// a caller hanging up says nothing about the service
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		endpoint: strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:   opts.APIKey,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		metrics: metrics,
	}
}

// Truncate shortens text to at most MaxTextRunes runes.
func Truncate(text string) string {
	if len(text) <= MaxTextRunes {
		return text
	}
	runes := []rune(text)
	if len(runes) <= MaxTextRunes {
		return text
	}
	return string(runes[:MaxTextRunes])
}

// Classify returns the severity of each category. Categories the service
// does not report are absent from the map. Calls fail fast with
// models.ErrDependencyUnavailable while the breaker is open.
func (c *Client) Classify(ctx context.Context, text string) (map[string]int, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.analyze(ctx, Truncate(text))
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			c.metrics.IncrementDependencyRequests(serviceName, "circuit_open")
			return nil, fmt.Errorf("%w: %w", models.ErrDependencyUnavailable, err)
		}
		return nil, err
	}
	return out.(map[string]int), nil
}

// State reports the breaker state, for health output.
func (c *Client) State() string {
	return c.breaker.State().String()
}

func (c *Client) analyze(ctx context.Context, text string) (map[string]int, error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		c.metrics.RecordDependencyLatency(serviceName, time.Since(start))
		c.metrics.IncrementDependencyRequests(serviceName, outcome)
	}()

	body, err := json.Marshal(analyzeRequest{
		Text:       text,
		Categories: []string{"Hate", "Sexual", "Violence", "SelfHarm"},
		OutputType: "FourSeverityLevels",
	})
	if err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + "/contentsafety/text:analyze?api-version=" + apiVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "failure"
		if errors.Is(err, context.Canceled) {
			outcome = "cancelled"
		}
		return nil, fmt.Errorf("%w: %w", models.ErrDependencyUnavailable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		outcome = "failure"
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: http %d: %s", models.ErrDependencyUnavailable, resp.StatusCode, string(msg))
	}

	var parsed analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		outcome = "failure"
		return nil, fmt.Errorf("decode response: %w", err)
	}

	scores := make(map[string]int, len(parsed.CategoriesAnalysis))
	for _, ca := range parsed.CategoriesAnalysis {
		if name, ok := categoryNames[ca.Category]; ok {
			scores[name] = ca.Severity
		}
	}
	return scores, nil
}

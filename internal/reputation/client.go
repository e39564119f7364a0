// Package reputation is a client for a VirusTotal-style URL reputation
// service. Verdicts are cached and calls are throttled to the API quota.
package reputation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/patrickwarner/modserve/internal/logic/tiers"
	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/observability"
)

const serviceName = "reputation"

// DefaultCacheSize bounds the number of cached verdicts.
const DefaultCacheSize = 10000

// Options configures a Client.
type Options struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
	// RatePerMinute caps outbound lookups; zero disables the limiter.
	RatePerMinute int
	RetryMax      int
}

// Client looks up URL verdicts.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *expirable.LRU[string, tiers.Verdict]
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
}

// urlReport is the subset of the URL report document the client reads.
type urlReport struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Harmless   int `json:"harmless"`
				Undetected int `json:"undetected"`
			} `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// NewClient creates a reputation client.
func NewClient(opts Options, logger *zap.Logger, metrics observability.MetricsRegistry) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = tiers.DefaultLinkTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledZap{logger.Sugar()})
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(retryClient.HTTPClient.Transport)
	httpClient := retryClient.StandardClient()
	httpClient.Timeout = opts.Timeout

	var limiter *rate.Limiter
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), opts.RatePerMinute)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		cache:      expirable.NewLRU[string, tiers.Verdict](DefaultCacheSize, nil, opts.CacheTTL),
		limiter:    limiter,
		logger:     logger,
		metrics:    metrics,
	}
}

// URLID is the identifier the service uses for a URL: unpadded URL-safe
// base64 of the URL itself.
func URLID(rawURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(rawURL))
}

// Lookup returns the verdict for rawURL. URLs the service has never seen
// come back with Known false and no error.
func (c *Client) Lookup(ctx context.Context, rawURL string) (tiers.Verdict, error) {
	if v, ok := c.cache.Get(rawURL); ok {
		c.metrics.IncrementReputationCacheHits()
		return v, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.IncrementDependencyRequests(serviceName, "throttled")
			return tiers.Verdict{}, fmt.Errorf("%w: rate limit: %w", models.ErrDependencyUnavailable, err)
		}
	}

	v, err := c.fetch(ctx, rawURL)
	if err != nil {
		return tiers.Verdict{}, err
	}
	c.cache.Add(rawURL, v)
	return v, nil
}

func (c *Client) fetch(ctx context.Context, rawURL string) (tiers.Verdict, error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		c.metrics.RecordDependencyLatency(serviceName, time.Since(start))
		c.metrics.IncrementDependencyRequests(serviceName, outcome)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/urls/"+URLID(rawURL), nil)
	if err != nil {
		outcome = "failure"
		return tiers.Verdict{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "failure"
		return tiers.Verdict{}, fmt.Errorf("%w: %w", models.ErrDependencyUnavailable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		outcome = "unknown"
		return tiers.Verdict{Known: false}, nil
	case resp.StatusCode != http.StatusOK:
		outcome = "failure"
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tiers.Verdict{}, fmt.Errorf("%w: http %d: %s", models.ErrDependencyUnavailable, resp.StatusCode, string(body))
	}

	var report urlReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		outcome = "failure"
		return tiers.Verdict{}, fmt.Errorf("decode response: %w", err)
	}
	stats := report.Data.Attributes.LastAnalysisStats
	return tiers.Verdict{
		Malicious:  stats.Malicious,
		Suspicious: stats.Suspicious,
		Harmless:   stats.Harmless,
		Known:      true,
	}, nil
}

// Purge drops every cached verdict.
func (c *Client) Purge() {
	c.cache.Purge()
}

// CacheLen reports the number of cached verdicts.
func (c *Client) CacheLen() int {
	return c.cache.Len()
}

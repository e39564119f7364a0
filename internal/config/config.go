package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RedisAddr         string
	ClickHouseDSN     string
	PostgresDSN       string
	MemoryStore       bool
	GeoIPDB           string
	ReloadInterval    time.Duration
	ServiceName       string
	DefaultConfigPath string
	// Reviewer and submitter identity
	AuthSecret string
	AuthTTL    time.Duration
	// Per-submitter throttling of /moderation/analyze
	RateLimitEnabled    bool
	RateLimitCapacity   int
	RateLimitRefillRate int
	// URL reputation service (Tier 2)
	ReputationURL           string
	ReputationAPIKey        string
	ReputationTimeout       time.Duration
	ReputationCacheTTL      time.Duration
	ReputationRatePerMinute int
	ReputationRetryMax      int
	// Content-safety classifier (Tier 3)
	ClassifierURL         string
	ClassifierAPIKey      string
	ClassifierTimeout     time.Duration
	ClassifierFailures    int
	ClassifierOpenTimeout time.Duration
	BulkReviewConcurrency int
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// ClickHouse connection pooling configuration
	CHMaxOpenConns    int
	CHMaxIdleConns    int
	CHConnMaxLifetime time.Duration
	CHConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	// Tier 2 and Tier 3 run inside the request, so allow for both timeouts
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 20*time.Second)
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	// keep config and queue in process memory instead of Postgres
	cfg.MemoryStore = envBool("MEMORY_STORE", false)
	cfg.GeoIPDB = getenv("GEOIP_DB", "internal/geoip/testdata/GeoLite2-Country.mmdb")
	// default to 30 seconds between automatic reloads
	cfg.ReloadInterval = envDuration("RELOAD_INTERVAL", 30*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "modserve")
	cfg.DefaultConfigPath = getenv("DEFAULT_CONFIG_PATH", "")

	cfg.AuthSecret = getenv("AUTH_SECRET", "")
	cfg.AuthTTL = envDuration("AUTH_TTL", 12*time.Hour)

	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", true)
	cfg.RateLimitCapacity = envInt("RATE_LIMIT_CAPACITY", 30)
	cfg.RateLimitRefillRate = envInt("RATE_LIMIT_REFILL_RATE", 1)

	cfg.ReputationURL = getenv("REPUTATION_URL", "https://www.virustotal.com")
	cfg.ReputationAPIKey = getenv("REPUTATION_API_KEY", "")
	cfg.ReputationTimeout = envDuration("REPUTATION_TIMEOUT", 5*time.Second)
	cfg.ReputationCacheTTL = envDuration("REPUTATION_CACHE_TTL", time.Hour)
	// the public API tier allows 4 lookups per minute
	cfg.ReputationRatePerMinute = envInt("REPUTATION_RATE_PER_MINUTE", 4)
	cfg.ReputationRetryMax = envInt("REPUTATION_RETRY_MAX", 2)

	cfg.ClassifierURL = getenv("CLASSIFIER_URL", "")
	cfg.ClassifierAPIKey = getenv("CLASSIFIER_API_KEY", "")
	cfg.ClassifierTimeout = envDuration("CLASSIFIER_TIMEOUT", 10*time.Second)
	cfg.ClassifierFailures = envInt("CLASSIFIER_BREAKER_FAILURES", 5)
	cfg.ClassifierOpenTimeout = envDuration("CLASSIFIER_BREAKER_TIMEOUT", 30*time.Second)

	cfg.BulkReviewConcurrency = envInt("BULK_REVIEW_CONCURRENCY", 8)

	// Database connection pooling configuration
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// ClickHouse connection pooling configuration
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 25)
	cfg.CHMaxIdleConns = envInt("CH_MAX_IDLE_CONNS", 5)
	cfg.CHConnMaxLifetime = envDuration("CH_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.CHConnMaxIdleTime = envDuration("CH_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0) // Default to 100% sampling for dev

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

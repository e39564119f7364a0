package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrickwarner/modserve/internal/analytics"
	"github.com/patrickwarner/modserve/internal/api"
	"github.com/patrickwarner/modserve/internal/config"
	"github.com/patrickwarner/modserve/internal/configstore"
	"github.com/patrickwarner/modserve/internal/contentsafety"
	"github.com/patrickwarner/modserve/internal/db"
	"github.com/patrickwarner/modserve/internal/geoip"
	"github.com/patrickwarner/modserve/internal/logic"
	"github.com/patrickwarner/modserve/internal/logic/ratelimit"
	"github.com/patrickwarner/modserve/internal/logic/tiers"
	"github.com/patrickwarner/modserve/internal/middleware"
	"github.com/patrickwarner/modserve/internal/observability"
	"github.com/patrickwarner/modserve/internal/queue"
	"github.com/patrickwarner/modserve/internal/reputation"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// backend persists the moderation config and the review queue.
type backend interface {
	queue.Store
	configstore.Persister
}

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, os.Getenv("ENV"), cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	var store backend
	if cfg.MemoryStore {
		logger.Warn("using in-memory store, config and queue are lost on restart")
		store = db.NewMemoryStore()
	} else {
		pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()
		store = pg
	}

	redisStore, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer redisStore.Close()

	metricsRegistry := observability.NewPrometheusRegistry()

	analyticsSvc, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns, cfg.CHMaxIdleConns, cfg.CHConnMaxLifetime, cfg.CHConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect clickhouse: %w", err)
	}
	defer analyticsSvc.Close()

	geoSvc, err := geoip.Init(cfg.GeoIPDB)
	if err != nil {
		return fmt.Errorf("failed to load geoip db: %w", err)
	}
	defer func() { _ = geoSvc.Close() }()

	links := &tiers.LinkChecker{Timeout: cfg.ReputationTimeout, Logger: logger}
	if cfg.ReputationAPIKey != "" {
		links.Reputation = reputation.NewClient(reputation.Options{
			BaseURL:       cfg.ReputationURL,
			APIKey:        cfg.ReputationAPIKey,
			Timeout:       cfg.ReputationTimeout,
			CacheTTL:      cfg.ReputationCacheTTL,
			RatePerMinute: cfg.ReputationRatePerMinute,
			RetryMax:      cfg.ReputationRetryMax,
		}, logger, metricsRegistry)
	} else {
		logger.Warn("reputation service not configured, tier 2 relies on pattern analysis")
	}

	classifier := &tiers.Classifier{Timeout: cfg.ClassifierTimeout, Logger: logger}
	var safety *contentsafety.Client
	if cfg.ClassifierURL != "" {
		safety = contentsafety.NewClient(contentsafety.Options{
			Endpoint:         cfg.ClassifierURL,
			APIKey:           cfg.ClassifierAPIKey,
			Timeout:          cfg.ClassifierTimeout,
			FailureThreshold: uint32(cfg.ClassifierFailures),
			OpenTimeout:      cfg.ClassifierOpenTimeout,
		}, logger, metricsRegistry)
		classifier.Client = safety
	} else {
		logger.Warn("classifier not configured, tier 3 will be skipped")
	}

	q := queue.NewService(store, metricsRegistry, logger)
	q.BulkConcurrency = cfg.BulkReviewConcurrency

	agg := &logic.Aggregator{
		Links:      links,
		Classifier: classifier,
		Queue:      q,
		Recorders:  []logic.DecisionRecorder{analyticsSvc, redisStore},
		Alerts:     redisStore,
		Metrics:    metricsRegistry,
		Logger:     logger,
	}

	cfgStore := configstore.New(store, redisStore, agg, metricsRegistry, logger)
	if err := cfgStore.Init(ctx, cfg.DefaultConfigPath); err != nil {
		return fmt.Errorf("load moderation config: %w", err)
	}

	// peers announce writes over redis; the ticker covers missed messages
	go redisStore.SubscribeConfigUpdates(ctx, func(u db.ConfigUpdate) {
		cfgStore.OnUpdate(ctx, u.Version)
	})
	if cfg.ReloadInterval > 0 {
		go cfgStore.Watch(ctx, cfg.ReloadInterval)
	}

	srvDeps := api.NewServer(logger, metricsRegistry, cfgStore, agg, q)
	srvDeps.Counters = redisStore
	srvDeps.GeoIP = geoSvc
	srvDeps.Limiter = ratelimit.NewSubmitterLimiter(ratelimit.Config{
		Capacity:   cfg.RateLimitCapacity,
		RefillRate: cfg.RateLimitRefillRate,
		Enabled:    cfg.RateLimitEnabled,
	}, metricsRegistry)
	if safety != nil {
		srvDeps.Classifier = safety
	}

	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(logger))
	srvDeps.RegisterRoutes(r, []byte(cfg.AuthSecret))

	// metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Port

	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, cfg.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Moderation server running",
		zap.String("addr", addr),
		zap.Int64("config_version", cfgStore.Snapshot().Version))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/config"
	"github.com/patrickwarner/modserve/internal/configstore"
	"github.com/patrickwarner/modserve/internal/contentsafety"
	"github.com/patrickwarner/modserve/internal/db"
	"github.com/patrickwarner/modserve/internal/logic"
	"github.com/patrickwarner/modserve/internal/logic/tiers"
	"github.com/patrickwarner/modserve/internal/observability"
	"github.com/patrickwarner/modserve/internal/queue"
	"github.com/patrickwarner/modserve/internal/reputation"
)

type backend interface {
	queue.Store
	configstore.Persister
}

func main() {
	// stdout carries the MCP protocol
	logger, err := observability.InitStderrLogger("modserve-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store backend
	if cfg.MemoryStore {
		store = db.NewMemoryStore()
	} else {
		pg, err := db.InitPostgres(cfg.PostgresDSN, 10, 5, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	}

	// the dry run needs the same tiers as the server but no side effects
	metrics := observability.NewNoOpRegistry()
	links := &tiers.LinkChecker{Timeout: cfg.ReputationTimeout, Logger: logger}
	if cfg.ReputationAPIKey != "" {
		links.Reputation = reputation.NewClient(reputation.Options{
			BaseURL:       cfg.ReputationURL,
			APIKey:        cfg.ReputationAPIKey,
			Timeout:       cfg.ReputationTimeout,
			CacheTTL:      cfg.ReputationCacheTTL,
			RatePerMinute: cfg.ReputationRatePerMinute,
			RetryMax:      cfg.ReputationRetryMax,
		}, logger, metrics)
	}
	classifier := &tiers.Classifier{Timeout: cfg.ClassifierTimeout, Logger: logger}
	if cfg.ClassifierURL != "" {
		classifier.Client = contentsafety.NewClient(contentsafety.Options{
			Endpoint:         cfg.ClassifierURL,
			APIKey:           cfg.ClassifierAPIKey,
			Timeout:          cfg.ClassifierTimeout,
			FailureThreshold: uint32(cfg.ClassifierFailures),
			OpenTimeout:      cfg.ClassifierOpenTimeout,
		}, logger, metrics)
	}
	agg := &logic.Aggregator{Links: links, Classifier: classifier, Metrics: metrics, Logger: logger}

	cfgStore := configstore.New(store, nil, agg, metrics, logger)
	if err := cfgStore.Init(ctx, cfg.DefaultConfigPath); err != nil {
		logger.Fatal("Failed to load moderation config", zap.Error(err))
	}
	if cfg.ReloadInterval > 0 {
		go cfgStore.Watch(ctx, cfg.ReloadInterval)
	}

	q := queue.NewService(store, metrics, logger)
	q.BulkConcurrency = cfg.BulkReviewConcurrency

	reviewer := os.Getenv("MCP_REVIEWER")
	if reviewer == "" {
		reviewer = "mcp-agent"
	}
	server := newMCPServer(&ModerationTools{config: cfgStore, queue: q, reviewer: reviewer, logger: logger})

	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio",
		zap.Int64("config_version", cfgStore.Snapshot().Version),
		zap.String("reviewer", reviewer))

	if err := server.Run(ctx, loggingTransport); err != nil && ctx.Err() == nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}

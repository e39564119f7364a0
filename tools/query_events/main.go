package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/patrickwarner/modserve/internal/analytics"
	"github.com/patrickwarner/modserve/internal/config"
	"github.com/patrickwarner/modserve/internal/observability"
)

func main() {
	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var (
		dsn    string
		f      analytics.EventFilter
		since  time.Duration
		counts bool
	)
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN")
	flag.StringVar(&f.Workflow, "workflow", "", "only events for this workflow")
	flag.StringVar(&f.Action, "action", "", "only events with this action")
	flag.StringVar(&f.UserID, "user", "", "only events for this submitter")
	flag.IntVar(&f.Limit, "limit", 100, "maximum events to print")
	flag.DurationVar(&since, "since", 24*time.Hour, "how far back to look")
	flag.BoolVar(&counts, "counts", false, "print decision counts per action instead of events")
	flag.Parse()

	if dsn == "" {
		cfg := config.Load()
		dsn = cfg.ClickHouseDSN
	}

	a, err := analytics.InitClickHouse(dsn, 10, 2, 5*time.Minute, 1*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	from := time.Now().Add(-since)

	var out any
	if counts {
		out, err = a.ActionCounts(ctx, from)
	} else {
		f.Since = from
		out, err = a.QueryEvents(ctx, f)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "query events: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode events: %v\n", err)
		os.Exit(1)
	}
}

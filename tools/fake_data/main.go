package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/config"
	"github.com/patrickwarner/modserve/internal/configstore"
	"github.com/patrickwarner/modserve/internal/db"
	"github.com/patrickwarner/modserve/internal/logic"
	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/observability"
	"github.com/patrickwarner/modserve/internal/queue"
	"github.com/patrickwarner/modserve/internal/token"
)

var (
	submissions = flag.Int("submissions", 200, "sample submissions to run through the pipeline")
	seed        = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	skipReload  = flag.Bool("skip-reload", false, "skip automatic reload after data insertion")
)

var demoBlocklist = []string{"spam", "scam", "free money", "crypto giveaway"}

var fragments = []string{
	"Anyone up for a hike this weekend?",
	"Great turnout at the meetup, thanks all",
	"Check out http://bit.ly/deal-now for a surprise",
	"Total scam, do not trust this seller",
	"Join the crypto giveaway at http://10.0.0.5/win.exe",
	"Free money for the first 100 replies",
	"The agenda is at https://example.org/agenda",
	"This is spam spam spam",
	"<script>document.location='http://evil.test'</script>",
}

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx := context.Background()
	r := rand.New(rand.NewSource(*seed))
	metrics := observability.NewNoOpRegistry()

	q := queue.NewService(pg, metrics, logger)
	// no reputation or classifier: tiers 2 and 3 fall back to pattern analysis and skip
	agg := &logic.Aggregator{Queue: q, Metrics: metrics, Logger: logger}

	store := configstore.New(pg, nil, agg, metrics, logger)
	if err := store.Init(ctx, cfg.DefaultConfigPath); err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	demo := store.Get()
	demo.Tier1.Blocklist = demoBlocklist
	demo.Tier1.BlockedDomains = []string{"evil.test"}
	// send matches to the queue so reviewers have something to look at
	demo.Tier1.Action = models.ActionReview
	demo.Tier2.Action = models.ActionReview
	saved, err := store.Put(ctx, demo, "fake-data")
	if err != nil {
		logger.Fatal("save demo config", zap.Error(err))
	}

	workflows := make([]string, 0, len(saved.Workflows))
	for name := range saved.Workflows {
		workflows = append(workflows, name)
	}

	counts := map[models.Action]int{}
	for i := 0; i < *submissions; i++ {
		sub := models.Submission{
			Text:        fragments[r.Intn(len(fragments))],
			ContentType: "message",
			Workflow:    workflows[r.Intn(len(workflows))],
			UserID:      fmt.Sprintf("user%d", r.Intn(50)),
			ChannelID:   fmt.Sprintf("channel%d", r.Intn(5)),
		}
		d, err := agg.Moderate(ctx, sub, saved)
		if err != nil {
			logger.Fatal("moderate sample", zap.Error(err))
		}
		counts[d.Action]++
	}

	fmt.Printf("config version %d saved; decisions: allow=%d flag=%d review=%d block=%d\n",
		saved.Version, counts[models.ActionAllow], counts[models.ActionFlag], counts[models.ActionReview], counts[models.ActionBlock])

	if !*skipReload {
		if err := triggerReload(cfg); err != nil {
			logger.Error("reload endpoint failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "Warning: failed to reload server config: %v\n", err)
		} else {
			fmt.Println("server config reloaded")
		}
	}
}

// triggerReload asks a locally running server to pick up the new config.
func triggerReload(cfg config.Config) error {
	reloadURL := fmt.Sprintf("http://localhost:%s/reload", cfg.Port)
	req, err := http.NewRequest("POST", reloadURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if cfg.AuthSecret != "" {
		tok, err := token.Generate(token.Identity{UserID: "fake-data", Role: token.RoleAdmin}, []byte(cfg.AuthSecret), time.Minute)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reload request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickwarner/modserve/internal/config"
	"github.com/patrickwarner/modserve/internal/db"
	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/observability"
	"github.com/patrickwarner/modserve/internal/token"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

var (
	server      string
	users       int
	workflowCSV string
	totalReq    int
	conc        int
	duration    time.Duration
	reqRate     float64
	stats       bool
	flush       bool
	redisAddr   string
	debug       bool
	label       string
	secret      string
	badRatio    float64
)

var logger *zap.Logger

var httpClient *http.Client

var (
	workflows  = []string{models.WorkflowCommunityChat, models.WorkflowGroups, models.WorkflowEvents}
	userAgents = []string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
	}
	userIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}

	cleanSamples = []string{
		"Looking forward to the meetup on Saturday!",
		"Has anyone tried the new trail by the river?",
		"Thanks everyone for the warm welcome.",
		"Slides from today's talk: https://example.com/slides",
		"Reminder: potluck starts at 6pm, bring a dish.",
	}
	// content meant to trip at least one tier
	badSamples = []string{
		"Click here for free crypto http://192.168.4.20/claim.exe",
		"'; DROP TABLE users; --",
		"<script>alert(document.cookie)</script>",
		"Verify your account now at http://bit.ly/xyz-login",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"Win big at http://free-prizes.tk/win?ref=@@@",
	}
)

const statsInterval = 5 * time.Second

var (
	countSent   uint64
	countErrors uint64
	countLimit  uint64
	actionMu    sync.Mutex
	actionCount = map[string]uint64{}
)

type analyzeReq struct {
	Text     string `json:"text"`
	Type     string `json:"type"`
	Workflow string `json:"workflow"`
	UserID   string `json:"userId"`
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "moderation server base URL")
	flag.IntVar(&users, "users", 100, "number of unique submitters")
	flag.StringVar(&workflowCSV, "workflows", strings.Join(workflows, ","), "comma-separated workflow names")
	flag.IntVar(&totalReq, "requests", 1000, "total submissions to send")
	flag.IntVar(&conc, "concurrency", 20, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&reqRate, "rate", 0, "requests per second (0 for unlimited)")
	flag.Float64Var(&badRatio, "bad-ratio", 0.2, "fraction of submissions drawn from the abusive samples")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "clear today's decision counters in redis before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.StringVar(&secret, "secret", os.Getenv("AUTH_SECRET"), "token secret used to sign submitter tokens")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			Dial: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).Dial,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 25 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       50,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	if flush {
		flushCounters()
	}

	workflows = strings.Split(workflowCSV, ",")
	for i := range workflows {
		workflows[i] = strings.TrimSpace(workflows[i])
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if reqRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(reqRate), 1)
	} else if duration > 0 && totalReq > 0 {
		limiter = rate.NewLimiter(rate.Every(duration/time.Duration(totalReq)), 1)
	}

	ctx := context.Background()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					printStats()
					return
				}
			}
		}()
	}

	tokens := make(map[string]string)
	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		userID := fmt.Sprintf("user%d", r.Intn(users))
		text := cleanSamples[r.Intn(len(cleanSamples))]
		if r.Float64() < badRatio {
			text = badSamples[r.Intn(len(badSamples))]
		}
		wf := workflows[r.Intn(len(workflows))]
		ua := userAgents[r.Intn(len(userAgents))]
		ip := userIPs[r.Intn(len(userIPs))]

		auth, ok := tokens[userID]
		if !ok && secret != "" {
			tok, err := token.Generate(token.Identity{UserID: userID, Email: userID + "@example.com", Role: token.RoleUser}, []byte(secret), time.Hour)
			if err != nil {
				logger.Fatal("sign token", zap.Error(err))
			}
			auth = "Bearer " + tok
			tokens[userID] = auth
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			submit(analyzeReq{Text: text, Type: "message", Workflow: wf, UserID: userID}, auth, ua, ip)
		}()
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
}

func submit(body analyzeReq, auth, ua, ip string) {
	atomic.AddUint64(&countSent, 1)
	blob, err := json.Marshal(body)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("marshal error", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", strings.TrimRight(server, "/")+"/moderation/analyze", bytes.NewReader(blob))
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("request build error", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ua)
	req.Header.Set("X-Forwarded-For", ip)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("analyze request error", zap.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("read body error", zap.Error(err))
		return
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		atomic.AddUint64(&countLimit, 1)
		return
	}
	if resp.StatusCode != http.StatusOK {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("unexpected status", zap.Int("status", resp.StatusCode), zap.String("body", strings.TrimSpace(string(bodyBytes))))
		return
	}

	var d models.Decision
	if err := json.Unmarshal(bodyBytes, &d); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("decode error", zap.Error(err))
		return
	}
	actionMu.Lock()
	actionCount[string(d.Action)]++
	actionMu.Unlock()
	logger.Debug("decision",
		zap.String("workflow", body.Workflow),
		zap.String("user", body.UserID),
		zap.String("action", string(d.Action)),
		zap.String("reason", d.Reason))
}

func flushCounters() {
	cfg := config.Load()
	addr := redisAddr
	if addr == "" {
		addr = cfg.RedisAddr
	}
	store, err := db.InitRedis(addr)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer store.Close()

	pattern := "moderation:decisions:" + time.Now().UTC().Format("2006-01-02") + ":*"
	keys, err := store.Client.Keys(store.Ctx, pattern).Result()
	if err != nil {
		logger.Error("failed to get keys for pattern", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	if len(keys) > 0 {
		if err := store.Client.Del(store.Ctx, keys...).Err(); err != nil {
			logger.Error("failed to delete keys", zap.String("pattern", pattern), zap.Error(err))
			return
		}
	}
	logger.Info("decision counters flushed", zap.String("addr", addr), zap.Int("keys_deleted", len(keys)))
}

func printStats() {
	actionMu.Lock()
	counts := make(map[string]uint64, len(actionCount))
	for k, v := range actionCount {
		counts[k] = v
	}
	actionMu.Unlock()
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sent", atomic.LoadUint64(&countSent)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)),
		zap.Uint64("rate_limited", atomic.LoadUint64(&countLimit)),
		zap.Any("actions", counts))
}

package tiers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/models"
)

// ContentClassifier scores text per content-safety category on the even
// 0..6 severity scale.
type ContentClassifier interface {
	Classify(ctx context.Context, text string) (map[string]int, error)
}

// DefaultClassifierTimeout bounds one classification call.
const DefaultClassifierTimeout = 10 * time.Second

// Classifier implements Tier 3. A nil Client behaves like an unavailable
// service.
type Classifier struct {
	Client  ContentClassifier
	Timeout time.Duration
	Logger  *zap.Logger
}

// clampSeverity snaps an arbitrary score onto 0, 2, 4 or 6, rounding down.
func clampSeverity(v int) int {
	if v < 0 {
		return 0
	}
	if v > models.MaxSeverity {
		return models.MaxSeverity
	}
	return v - v%2
}

// Evaluate classifies content and compares each category to its threshold.
// A category without a threshold is reported but never breaches; a
// threshold of 0 breaches on every score. When the
// classifier cannot be reached the tier is skipped and marked degraded.
func (c *Classifier) Evaluate(ctx context.Context, content string, cfg models.Tier3Config) models.TierResult {
	res := models.TierResult{
		Tier:      models.Tier3,
		Name:      models.TierNames[models.Tier3],
		Evaluated: true,
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if c.Client == nil {
		return unavailable(res, "classifier not configured")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultClassifierTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scores, err := c.Client.Classify(cctx, content)
	if err != nil {
		logger.Warn("content classifier unavailable", zap.Error(err))
		return unavailable(res, err.Error())
	}

	var breached []string
	for _, cat := range models.Categories {
		sev := clampSeverity(scores[cat])
		threshold, ok := cfg.Thresholds[cat]
		exceeded := ok && sev >= threshold
		res.Checks.Categories = append(res.Checks.Categories, models.CategoryScore{
			Category:  cat,
			Severity:  sev,
			Threshold: threshold,
			Exceeded:  exceeded,
		})
		if exceeded {
			breached = append(breached, fmt.Sprintf("%s=%d (threshold %d)", cat, sev, threshold))
		}
	}

	if len(breached) == 0 {
		res.Passed = models.Bool(true)
		res.Action = models.ActionAllow
		res.Message = "All categories below threshold"
		return res
	}

	res.Passed = models.Bool(false)
	res.Action = cfg.Action
	if res.Action == "" {
		res.Action = models.ActionBlock
	}
	if res.Action == models.ActionBlock && !cfg.AutoBlock {
		res.Action = models.ActionReview
	}
	res.Message = "Threshold exceeded: " + strings.Join(breached, ", ")
	return res
}

func unavailable(res models.TierResult, detail string) models.TierResult {
	res.Action = models.ActionSkip
	res.Passed = nil
	res.Degraded = true
	res.Message = fmt.Sprintf("Classifier unavailable, tier skipped: %s", detail)
	return res
}

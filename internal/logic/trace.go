package logic

import (
	"time"

	"github.com/patrickwarner/modserve/internal/models"
)

// TierTrace accumulates the per-tier results of one moderation call in
// evaluation order.
type TierTrace struct {
	Steps []models.TierResult `json:"steps"`
	// Timings holds the wall time of every evaluated tier.
	Timings map[models.Tier]time.Duration `json:"-"`
}

// Add appends an evaluated tier result.
func (t *TierTrace) Add(res models.TierResult, took time.Duration) {
	if t == nil {
		return
	}
	if t.Timings == nil {
		t.Timings = make(map[models.Tier]time.Duration)
	}
	t.Timings[res.Tier] = took
	t.Steps = append(t.Steps, res)
}

// Skip appends a marker for a tier that did not run.
func (t *TierTrace) Skip(tier models.Tier, message string) {
	if t == nil {
		return
	}
	t.Steps = append(t.Steps, models.TierResult{
		Tier:      tier,
		Name:      models.TierNames[tier],
		Action:    models.ActionSkip,
		Evaluated: false,
		Message:   message,
	})
}

// Result returns the entry for tier, if present.
func (t *TierTrace) Result(tier models.Tier) (models.TierResult, bool) {
	if t == nil {
		return models.TierResult{}, false
	}
	for _, s := range t.Steps {
		if s.Tier == tier {
			return s, true
		}
	}
	return models.TierResult{}, false
}

// Evaluated returns only the tiers that actually ran.
func (t *TierTrace) Evaluated() []models.TierResult {
	if t == nil {
		return nil
	}
	var out []models.TierResult
	for _, s := range t.Steps {
		if s.Evaluated {
			out = append(out, s)
		}
	}
	return out
}

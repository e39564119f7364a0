package models

import (
	"sort"
	"strings"
	"time"

	"github.com/patrickwarner/modserve/internal/logic/textutil"
)

// Action is the outcome a tier or the overall pipeline asks for.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionBlock  Action = "block"
	ActionReview Action = "review"
	ActionFlag   Action = "flag"
	ActionSkip   Action = "skip"
)

// Content-safety categories scored by the Tier 3 classifier.
const (
	CategoryHate     = "hate"
	CategorySexual   = "sexual"
	CategoryViolence = "violence"
	CategorySelfHarm = "self_harm"
)

// Categories lists the classifier categories in display order.
var Categories = []string{CategoryHate, CategorySexual, CategoryViolence, CategorySelfHarm}

// Workflow names used by the community platform.
const (
	WorkflowCommunityChat = "community_chat"
	WorkflowGroups        = "groups"
	WorkflowEvents        = "events"
	WorkflowNotifications = "notifications"
)

// MaxSeverity is the top of the classifier's even severity scale.
const MaxSeverity = 6

// Tier1Config configures the keyword and domain blocklist.
type Tier1Config struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Blocklist      []string `json:"blocklist" yaml:"blocklist"`
	BlockedDomains []string `json:"blockedDomains" yaml:"blockedDomains"`
	CaseSensitive  bool     `json:"caseSensitive" yaml:"caseSensitive"`
	MatchWholeWord bool     `json:"matchWholeWord" yaml:"matchWholeWord"`
	Action         Action   `json:"action" yaml:"action"`
}

// Tier2Config configures link safety checks.
type Tier2Config struct {
	Enabled              bool     `json:"enabled" yaml:"enabled"`
	UseReputationService bool     `json:"useReputationService" yaml:"useReputationService"`
	UsePatternAnalysis   bool     `json:"usePatternAnalysis" yaml:"usePatternAnalysis"`
	BlockMalicious       bool     `json:"blockMalicious" yaml:"blockMalicious"`
	FlagSuspicious       bool     `json:"flagSuspicious" yaml:"flagSuspicious"`
	SafeDomains          []string `json:"safeDomains" yaml:"safeDomains"`
	Action               Action   `json:"action" yaml:"action"`
}

// Tier3Config configures the AI content-safety classifier thresholds.
type Tier3Config struct {
	Enabled      bool           `json:"enabled" yaml:"enabled"`
	Thresholds   map[string]int `json:"thresholds" yaml:"thresholds"`
	AutoBlock    bool           `json:"autoBlock" yaml:"autoBlock"`
	NotifyAdmins bool           `json:"notifyAdmins" yaml:"notifyAdmins"`
	Action       Action         `json:"action" yaml:"action"`
}

// WorkflowConfig selects which tiers apply to one submission surface.
type WorkflowConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Tier1   bool `json:"tier1" yaml:"tier1"`
	Tier2   bool `json:"tier2" yaml:"tier2"`
	Tier3   bool `json:"tier3" yaml:"tier3"`
}

// ModerationConfig is the whole configuration document. It is replaced
// atomically and never deleted.
type ModerationConfig struct {
	Enabled   bool                      `json:"enabled" yaml:"enabled"`
	Tier1     Tier1Config               `json:"tier1" yaml:"tier1"`
	Tier2     Tier2Config               `json:"tier2" yaml:"tier2"`
	Tier3     Tier3Config               `json:"tier3" yaml:"tier3"`
	Workflows map[string]WorkflowConfig `json:"workflows" yaml:"workflows"`

	Version   int64     `json:"version" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
	UpdatedBy string    `json:"updatedBy,omitempty" yaml:"-"`
}

// DefaultConfig returns the configuration installed on first deployment.
func DefaultConfig() ModerationConfig {
	return ModerationConfig{
		Enabled: true,
		Tier1: Tier1Config{
			Enabled:        true,
			Blocklist:      []string{},
			BlockedDomains: []string{},
			MatchWholeWord: true,
			Action:         ActionBlock,
		},
		Tier2: Tier2Config{
			Enabled:              true,
			UseReputationService: true,
			UsePatternAnalysis:   true,
			BlockMalicious:       true,
			FlagSuspicious:       true,
			SafeDomains:          []string{},
			Action:               ActionBlock,
		},
		Tier3: Tier3Config{
			Enabled: true,
			Thresholds: map[string]int{
				CategoryHate:     4,
				CategorySexual:   4,
				CategoryViolence: 4,
				CategorySelfHarm: 2,
			},
			AutoBlock:    true,
			NotifyAdmins: true,
			Action:       ActionBlock,
		},
		Workflows: map[string]WorkflowConfig{
			WorkflowCommunityChat: {Enabled: true, Tier1: true, Tier2: true, Tier3: true},
			WorkflowGroups:        {Enabled: true, Tier1: true, Tier2: true, Tier3: true},
			WorkflowEvents:        {Enabled: true, Tier1: true, Tier2: true, Tier3: false},
			WorkflowNotifications: {Enabled: true, Tier1: true, Tier2: false, Tier3: false},
		},
	}
}

// Clone returns a deep copy so that callers cannot mutate a shared snapshot.
func (c ModerationConfig) Clone() ModerationConfig {
	out := c
	out.Tier1.Blocklist = cloneStrings(c.Tier1.Blocklist)
	out.Tier1.BlockedDomains = cloneStrings(c.Tier1.BlockedDomains)
	out.Tier2.SafeDomains = cloneStrings(c.Tier2.SafeDomains)
	if c.Tier3.Thresholds != nil {
		out.Tier3.Thresholds = make(map[string]int, len(c.Tier3.Thresholds))
		for k, v := range c.Tier3.Thresholds {
			out.Tier3.Thresholds[k] = v
		}
	}
	if c.Workflows != nil {
		out.Workflows = make(map[string]WorkflowConfig, len(c.Workflows))
		for k, v := range c.Workflows {
			out.Workflows[k] = v
		}
	}
	return out
}

// Normalize trims list entries, folds blocklist terms the way Tier 1 matches
// them unless the tier is case sensitive, and always lowercases domains. Duplicates are kept so that
// Validate can report them.
func (c *ModerationConfig) Normalize() {
	c.Tier1.Blocklist = normalizeList(c.Tier1.Blocklist, !c.Tier1.CaseSensitive)
	c.Tier1.BlockedDomains = normalizeDomains(c.Tier1.BlockedDomains)
	c.Tier2.SafeDomains = normalizeDomains(c.Tier2.SafeDomains)
}

// Validate checks enum fields, threshold ranges and list uniqueness. It
// reports every violation rather than stopping at the first.
func (c ModerationConfig) Validate() error {
	verr := &ValidationError{}

	switch c.Tier1.Action {
	case ActionBlock, ActionReview, ActionFlag:
	default:
		verr.add("tier1.action: %q is not one of block, review, flag", c.Tier1.Action)
	}
	switch c.Tier2.Action {
	case ActionBlock, ActionReview:
	default:
		verr.add("tier2.action: %q is not one of block, review", c.Tier2.Action)
	}
	switch c.Tier3.Action {
	case ActionBlock, ActionReview:
	default:
		verr.add("tier3.action: %q is not one of block, review", c.Tier3.Action)
	}

	termKey := textutil.Fold
	if c.Tier1.CaseSensitive {
		termKey = func(s string) string { return s }
	}
	checkList(verr, "tier1.blocklist", c.Tier1.Blocklist, termKey)
	checkList(verr, "tier1.blockedDomains", c.Tier1.BlockedDomains, strings.ToLower)
	checkList(verr, "tier2.safeDomains", c.Tier2.SafeDomains, strings.ToLower)

	cats := make([]string, 0, len(c.Tier3.Thresholds))
	for cat := range c.Tier3.Thresholds {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		v := c.Tier3.Thresholds[cat]
		if !isCategory(cat) {
			verr.add("tier3.thresholds: unknown category %q", cat)
		}
		if v < 0 || v > MaxSeverity || v%2 != 0 {
			verr.add("tier3.thresholds.%s: %d is not one of 0, 2, 4, 6", cat, v)
		}
	}

	names := make([]string, 0, len(c.Workflows))
	for name := range c.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			verr.add("workflows: empty workflow name")
		}
	}

	return verr.errOrNil()
}

// checkList reports empty entries and entries whose key collides with an
// earlier one.
func checkList(verr *ValidationError, field string, list []string, keyOf func(string) string) {
	seen := make(map[string]int, len(list))
	for i, v := range list {
		key := strings.TrimSpace(v)
		if key == "" {
			verr.add("%s[%d]: empty entry", field, i)
			continue
		}
		key = keyOf(key)
		if first, ok := seen[key]; ok {
			verr.add("%s[%d]: duplicate of entry %d (%q)", field, i, first, key)
			continue
		}
		seen[key] = i
	}
}

func isCategory(cat string) bool {
	for _, c := range Categories {
		if c == cat {
			return true
		}
	}
	return false
}

func normalizeList(in []string, fold bool) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if fold {
			v = textutil.Fold(v)
		}
		out = append(out, v)
	}
	return out
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		v = strings.TrimPrefix(v, "https://")
		v = strings.TrimPrefix(v, "http://")
		v = strings.TrimSuffix(v, "/")
		v = strings.TrimPrefix(v, "www.")
		out = append(out, v)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

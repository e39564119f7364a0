package models

// Tier identifies a stage of the moderation pipeline.
type Tier string

const (
	Tier1        Tier = "tier1"
	TierSecurity Tier = "tier1_5"
	Tier2        Tier = "tier2"
	Tier3        Tier = "tier3"
)

// Tiers lists the pipeline stages in evaluation order.
var Tiers = []Tier{Tier1, TierSecurity, Tier2, Tier3}

// TierNames holds the display name for each tier.
var TierNames = map[Tier]string{
	Tier1:        "Blocklist",
	TierSecurity: "Security Patterns",
	Tier2:        "Link Safety",
	Tier3:        "AI Content Safety",
}

// Match types reported by Tier 1 and Tier 1.5.
const (
	MatchKeyword  = "keyword"
	MatchDomain   = "domain"
	MatchSecurity = "security"
)

// Signature severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// URL risk levels.
const (
	RiskSafe       = "safe"
	RiskSuspicious = "suspicious"
	RiskMalicious  = "malicious"
)

// Decision reason codes returned to originating features.
const (
	ReasonKeywordMatch     = "tier1_keyword_match"
	ReasonDomainMatch      = "tier1_domain_match"
	ReasonSecurityMatch    = "security_pattern_match"
	ReasonMaliciousLink    = "tier2_malicious_link"
	ReasonSuspiciousLink   = "tier2_suspicious_link"
	ReasonAIViolation      = "tier3_ai_violation"
	ReasonPassed           = "passed_all_tiers"
	ReasonDisabled         = "moderation_disabled"
	ReasonWorkflowDisabled = "workflow_disabled"
)

// Match is one piece of Tier 1 or Tier 1.5 evidence.
type Match struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// URLCheck is the Tier 2 verdict for one URL.
type URLCheck struct {
	URL        string   `json:"url"`
	Domain     string   `json:"domain"`
	Safe       bool     `json:"safe"`
	RiskLevel  string   `json:"riskLevel"`
	Reasons    []string `json:"reasons,omitempty"`
	Checked    bool     `json:"checked"`
	Malicious  int      `json:"malicious,omitempty"`
	Suspicious int      `json:"suspicious,omitempty"`
	Harmless   int      `json:"harmless,omitempty"`
}

// CategoryScore is the Tier 3 severity for one category.
type CategoryScore struct {
	Category  string `json:"category"`
	Severity  int    `json:"severity"`
	Threshold int    `json:"threshold"`
	Exceeded  bool   `json:"exceeded"`
}

// TierChecks carries the tier-specific evidence.
type TierChecks struct {
	Matches    []Match         `json:"matches,omitempty"`
	URLs       []URLCheck      `json:"urls,omitempty"`
	Categories []CategoryScore `json:"categories,omitempty"`
}

// TierResult is the outcome of one tier. Passed is nil when the tier did not
// produce a verdict (skipped or dependency unavailable).
type TierResult struct {
	Tier      Tier       `json:"tier"`
	Name      string     `json:"name"`
	Action    Action     `json:"action"`
	Passed    *bool      `json:"passed"`
	Evaluated bool       `json:"evaluated"`
	Degraded  bool       `json:"degraded,omitempty"`
	Message   string     `json:"message"`
	Checks    TierChecks `json:"checks"`
}

// HasMatchType reports whether any match of the given type was recorded.
func (r TierResult) HasMatchType(t string) bool {
	for _, m := range r.Checks.Matches {
		if m.Type == t {
			return true
		}
	}
	return false
}

// HasSeverity reports whether any match carries the given severity.
func (r TierResult) HasSeverity(sev string) bool {
	for _, m := range r.Checks.Matches {
		if m.Severity == sev {
			return true
		}
	}
	return false
}

// HasRisk reports whether any URL was classified at the given risk level.
func (r TierResult) HasRisk(level string) bool {
	for _, u := range r.Checks.URLs {
		if u.RiskLevel == level {
			return true
		}
	}
	return false
}

// Bool returns a pointer to v for the nullable Passed field.
func Bool(v bool) *bool {
	return &v
}

// Submission is a piece of user content entering the pipeline.
type Submission struct {
	Text        string `json:"text"`
	ContentType string `json:"type"`
	Workflow    string `json:"workflow"`
	UserID      string `json:"userId,omitempty"`
	UserEmail   string `json:"userEmail,omitempty"`
	ChannelID   string `json:"channelId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	Country     string `json:"-"`
	DeviceType  string `json:"-"`
}

// Decision is the synchronous result of moderating a submission.
type Decision struct {
	Allowed     bool         `json:"allowed"`
	Action      Action       `json:"action"`
	Reason      string       `json:"reason"`
	TierFlow    []TierResult `json:"tierFlow"`
	Priority    Priority     `json:"priority,omitempty"`
	QueueItemID string       `json:"queueItemId,omitempty"`
}

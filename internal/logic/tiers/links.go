package tiers

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/logic/textutil"
	"github.com/patrickwarner/modserve/internal/models"
)

// Verdict is the engine tally returned by a URL reputation service.
type Verdict struct {
	Malicious  int
	Suspicious int
	Harmless   int
	// Known is false when the service has never analysed the URL.
	Known bool
}

// Risk maps a verdict onto the three-level risk scale.
func (v Verdict) Risk() string {
	switch {
	case v.Malicious > 0:
		return models.RiskMalicious
	case v.Suspicious > 0:
		return models.RiskSuspicious
	default:
		return models.RiskSafe
	}
}

// Reputation looks up the reputation of a single URL.
type Reputation interface {
	Lookup(ctx context.Context, rawURL string) (Verdict, error)
}

// DefaultLinkTimeout bounds the reputation lookups of one submission.
const DefaultLinkTimeout = 5 * time.Second

// LinkChecker implements Tier 2. Reputation may be nil, in which case only
// pattern analysis is available.
type LinkChecker struct {
	Reputation Reputation
	Timeout    time.Duration
	Logger     *zap.Logger
}

var shorteners = []string{
	"bit.ly", "tinyurl.com", "t.co", "goo.gl", "ow.ly", "is.gd", "buff.ly",
	"cutt.ly", "rebrand.ly", "shorturl.at", "tiny.cc", "rb.gy", "s.id", "v.gd",
}

var suspiciousTLDs = map[string]struct{}{
	"tk": {}, "ml": {}, "ga": {}, "cf": {}, "gq": {}, "xyz": {}, "top": {},
	"click": {}, "zip": {}, "mov": {}, "work": {}, "loan": {}, "buzz": {},
	"rest": {}, "country": {}, "kim": {}, "icu": {}, "cam": {},
}

var lureKeywords = []string{
	"free", "crypto", "claim", "prize", "giveaway", "airdrop", "bonus",
	"login", "verify", "wallet", "gift", "winner", "nitro", "reward",
}

var executableExts = map[string]struct{}{
	".exe": {}, ".scr": {}, ".bat": {}, ".cmd": {}, ".msi": {}, ".apk": {},
	".jar": {}, ".vbs": {}, ".ps1": {}, ".dmg": {}, ".pif": {}, ".hta": {},
	".lnk": {},
}

// AnalyzePattern applies the offline heuristics to one URL and returns its
// risk level with the reasons that produced it.
func AnalyzePattern(rawURL string) (string, []string) {
	host := textutil.Host(rawURL)
	risk := models.RiskSafe
	var reasons []string
	raise := func(level, reason string) {
		reasons = append(reasons, reason)
		if level == models.RiskMalicious || risk == models.RiskSafe {
			risk = level
		}
	}

	if _, ok := textutil.MatchesAny(host, shorteners); ok {
		raise(models.RiskSuspicious, "url_shortener")
	}

	tld := host
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		tld = host[i+1:]
	}
	if _, ok := suspiciousTLDs[tld]; ok {
		lowered := strings.ToLower(rawURL)
		lure := ""
		for _, kw := range lureKeywords {
			if strings.Contains(lowered, kw) {
				lure = kw
				break
			}
		}
		if lure != "" {
			raise(models.RiskMalicious, fmt.Sprintf("suspicious_tld_keyword:.%s+%s", tld, lure))
		} else {
			raise(models.RiskSuspicious, "suspicious_tld:."+tld)
		}
	}

	ext := path.Ext(textutil.Path(rawURL))
	if _, ok := executableExts[ext]; ok {
		raise(models.RiskMalicious, "executable_extension:"+ext)
	}

	if textutil.IsIP(host) {
		raise(models.RiskSuspicious, "ip_address_host")
	}
	if strings.HasPrefix(host, "xn--") || strings.Contains(host, ".xn--") {
		raise(models.RiskSuspicious, "punycode_host")
	}

	return risk, reasons
}

func maxRisk(a, b string) string {
	rank := map[string]int{models.RiskSafe: 0, models.RiskSuspicious: 1, models.RiskMalicious: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Evaluate runs Tier 2 over every URL in content. Reputation failures never
// escalate severity: the URL is marked unchecked, the pattern verdict stands
// and the result is flagged degraded.
func (c *LinkChecker) Evaluate(ctx context.Context, content string, cfg models.Tier2Config) models.TierResult {
	res := models.TierResult{
		Tier:      models.Tier2,
		Name:      models.TierNames[models.Tier2],
		Evaluated: true,
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	urls := textutil.ExtractURLs(content)
	if len(urls) == 0 {
		res.Passed = models.Bool(true)
		res.Action = models.ActionAllow
		res.Message = "No links found"
		return res
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultLinkTimeout
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var failures int
	checks := make([]models.URLCheck, 0, len(urls))
	for _, u := range urls {
		host := textutil.Host(u)
		check := models.URLCheck{
			URL:       u,
			Domain:    textutil.RegistrableDomain(host),
			RiskLevel: models.RiskSafe,
		}

		if d, ok := textutil.MatchesAny(host, cfg.SafeDomains); ok {
			check.Safe = true
			check.Checked = true
			check.Reasons = []string{"safe_domain:" + d}
			checks = append(checks, check)
			continue
		}

		if cfg.UsePatternAnalysis {
			risk, reasons := AnalyzePattern(u)
			check.RiskLevel = risk
			check.Reasons = append(check.Reasons, reasons...)
		}

		if cfg.UseReputationService && c.Reputation != nil {
			v, err := c.Reputation.Lookup(lookupCtx, textutil.NormalizeURL(u))
			switch {
			case err != nil:
				failures++
				reason := "reputation_unavailable"
				if errors.Is(err, context.DeadlineExceeded) {
					reason = "reputation_timeout"
				}
				check.Reasons = append(check.Reasons, reason)
				logger.Warn("reputation lookup failed", zap.String("domain", check.Domain), zap.Error(err))
			case !v.Known:
				check.Checked = true
				check.Reasons = append(check.Reasons, "reputation_unknown")
			default:
				check.Checked = true
				check.Malicious = v.Malicious
				check.Suspicious = v.Suspicious
				check.Harmless = v.Harmless
				if r := v.Risk(); r != models.RiskSafe {
					check.Reasons = append(check.Reasons, fmt.Sprintf("reputation:%d_malicious,%d_suspicious", v.Malicious, v.Suspicious))
					check.RiskLevel = maxRisk(check.RiskLevel, r)
				}
			}
		} else if cfg.UsePatternAnalysis {
			check.Checked = true
		}

		check.Safe = check.RiskLevel == models.RiskSafe
		checks = append(checks, check)
	}
	res.Checks.URLs = checks
	res.Degraded = failures > 0

	malicious := res.HasRisk(models.RiskMalicious)
	suspicious := res.HasRisk(models.RiskSuspicious)
	passed := !malicious && (!cfg.FlagSuspicious || !suspicious)
	res.Passed = models.Bool(passed)

	switch {
	case malicious && cfg.BlockMalicious:
		res.Action = models.ActionBlock
	case malicious:
		res.Action = models.ActionReview
	case suspicious && cfg.FlagSuspicious:
		res.Action = models.ActionReview
	default:
		res.Action = models.ActionAllow
	}
	// tier2.action=review caps the tier at human review
	if res.Action == models.ActionBlock && cfg.Action == models.ActionReview {
		res.Action = models.ActionReview
	}

	res.Message = linkMessage(checks, failures)
	return res
}

func linkMessage(checks []models.URLCheck, failures int) string {
	var mal, sus int
	for _, c := range checks {
		switch c.RiskLevel {
		case models.RiskMalicious:
			mal++
		case models.RiskSuspicious:
			sus++
		}
	}
	var msg string
	if mal == 0 && sus == 0 {
		msg = fmt.Sprintf("All %d link(s) look safe", len(checks))
	} else {
		msg = fmt.Sprintf("Checked %d link(s): %d malicious, %d suspicious", len(checks), mal, sus)
	}
	if failures > 0 {
		msg += fmt.Sprintf(" (degraded: reputation lookup failed for %d link(s), pattern analysis only)", failures)
	}
	return msg
}

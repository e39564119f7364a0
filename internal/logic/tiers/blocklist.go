// Package tiers implements the individual stages of the moderation pipeline.
// Each stage turns content plus its tier configuration into a TierResult.
package tiers

import (
	"fmt"
	"strings"

	"github.com/patrickwarner/modserve/internal/logic/textutil"
	"github.com/patrickwarner/modserve/internal/models"
)

// EvaluateBlocklist runs the Tier 1 keyword and domain blocklist. It is a pure
// function of its inputs. Missing lists are treated as empty; every match is
// reported, not only the first.
func EvaluateBlocklist(content string, cfg models.Tier1Config) models.TierResult {
	res := models.TierResult{
		Tier:      models.Tier1,
		Name:      models.TierNames[models.Tier1],
		Evaluated: true,
	}

	haystack := content
	if !cfg.CaseSensitive {
		haystack = textutil.Fold(content)
	}

	var matches []models.Match
	seen := make(map[string]struct{})
	for _, term := range cfg.Blocklist {
		needle := strings.TrimSpace(term)
		if needle == "" {
			continue
		}
		if !cfg.CaseSensitive {
			needle = textutil.Fold(needle)
		}
		if _, dup := seen[needle]; dup {
			continue
		}
		var hit bool
		if cfg.MatchWholeWord {
			hit = textutil.ContainsWord(haystack, needle)
		} else {
			hit = strings.Contains(haystack, needle)
		}
		if hit {
			seen[needle] = struct{}{}
			matches = append(matches, models.Match{Type: models.MatchKeyword, Value: term})
		}
	}

	if len(cfg.BlockedDomains) > 0 {
		hitDomains := make(map[string]struct{})
		for _, u := range textutil.ExtractURLs(content) {
			host := textutil.Host(u)
			d, ok := textutil.MatchesAny(host, cfg.BlockedDomains)
			if !ok {
				// a blocked entry may also name the registrable domain of a deeper host
				d, ok = textutil.MatchesAny(textutil.RegistrableDomain(host), cfg.BlockedDomains)
			}
			if !ok {
				continue
			}
			if _, dup := hitDomains[d]; dup {
				continue
			}
			hitDomains[d] = struct{}{}
			matches = append(matches, models.Match{Type: models.MatchDomain, Value: d})
		}
	}

	res.Checks.Matches = matches
	if len(matches) == 0 {
		res.Passed = models.Bool(true)
		res.Action = models.ActionAllow
		res.Message = "No blocked keywords or domains found"
		return res
	}

	res.Passed = models.Bool(false)
	res.Action = cfg.Action
	if res.Action == "" {
		res.Action = models.ActionBlock
	}
	res.Message = blocklistMessage(matches)
	return res
}

func blocklistMessage(matches []models.Match) string {
	var kws, domains []string
	for _, m := range matches {
		if m.Type == models.MatchDomain {
			domains = append(domains, m.Value)
		} else {
			kws = append(kws, m.Value)
		}
	}
	var parts []string
	if len(kws) > 0 {
		parts = append(parts, fmt.Sprintf("blocked keywords: %s", strings.Join(kws, ", ")))
	}
	if len(domains) > 0 {
		parts = append(parts, fmt.Sprintf("blocked domains: %s", strings.Join(domains, ", ")))
	}
	return "Matched " + strings.Join(parts, "; ")
}

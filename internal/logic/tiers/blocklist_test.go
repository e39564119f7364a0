package tiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/modserve/internal/models"
)

func tier1(blocklist, domains []string) models.Tier1Config {
	return models.Tier1Config{
		Enabled:        true,
		Blocklist:      blocklist,
		BlockedDomains: domains,
		MatchWholeWord: true,
		Action:         models.ActionBlock,
	}
}

func TestEvaluateBlocklist_KeywordMatch(t *testing.T) {
	res := EvaluateBlocklist("you kys now", tier1([]string{"kys"}, nil))

	require.NotNil(t, res.Passed)
	assert.False(t, *res.Passed)
	assert.Equal(t, models.ActionBlock, res.Action)
	require.Len(t, res.Checks.Matches, 1)
	assert.Equal(t, models.MatchKeyword, res.Checks.Matches[0].Type)
	assert.Equal(t, "kys", res.Checks.Matches[0].Value)
	assert.Contains(t, res.Message, "kys")
}

func TestEvaluateBlocklist_WholeWord(t *testing.T) {
	cfg := tier1([]string{"ass"}, nil)

	res := EvaluateBlocklist("please assist me", cfg)
	require.NotNil(t, res.Passed)
	assert.True(t, *res.Passed)
	assert.Equal(t, models.ActionAllow, res.Action)

	cfg.MatchWholeWord = false
	res = EvaluateBlocklist("please assist me", cfg)
	assert.False(t, *res.Passed)
}

func TestEvaluateBlocklist_CaseHandling(t *testing.T) {
	res := EvaluateBlocklist("CAFE time", tier1([]string{"café"}, nil))
	assert.False(t, *res.Passed, "folded match expected")

	cfg := tier1([]string{"Bad"}, nil)
	cfg.CaseSensitive = true
	assert.True(t, *EvaluateBlocklist("bad day", cfg).Passed)
	assert.False(t, *EvaluateBlocklist("Bad day", cfg).Passed)
}

func TestEvaluateBlocklist_DomainMatch(t *testing.T) {
	res := EvaluateBlocklist("visit https://bit.ly/x", tier1(nil, []string{"bit.ly"}))

	assert.False(t, *res.Passed)
	assert.Equal(t, models.ActionBlock, res.Action)
	require.Len(t, res.Checks.Matches, 1)
	assert.Equal(t, models.MatchDomain, res.Checks.Matches[0].Type)
	assert.Equal(t, "bit.ly", res.Checks.Matches[0].Value)
}

func TestEvaluateBlocklist_SubdomainMatch(t *testing.T) {
	res := EvaluateBlocklist("go to https://a.b.evil.com/x and a.evil.com", tier1(nil, []string{"evil.com"}))

	assert.False(t, *res.Passed)
	assert.Len(t, res.Checks.Matches, 1, "one match per blocked domain")
}

func TestEvaluateBlocklist_AllMatchesReported(t *testing.T) {
	res := EvaluateBlocklist("foo and bar at spam.net", tier1([]string{"foo", "bar", "baz"}, []string{"spam.net"}))

	assert.Len(t, res.Checks.Matches, 3)
	assert.True(t, res.HasMatchType(models.MatchKeyword))
	assert.True(t, res.HasMatchType(models.MatchDomain))
}

func TestEvaluateBlocklist_ConfiguredAction(t *testing.T) {
	cfg := tier1([]string{"spoiler"}, nil)
	cfg.Action = models.ActionFlag
	assert.Equal(t, models.ActionFlag, EvaluateBlocklist("big spoiler ahead", cfg).Action)

	cfg.Action = ""
	assert.Equal(t, models.ActionBlock, EvaluateBlocklist("big spoiler ahead", cfg).Action)
}

func TestEvaluateBlocklist_EmptyConfig(t *testing.T) {
	res := EvaluateBlocklist("anything at all https://example.com", models.Tier1Config{})

	assert.True(t, *res.Passed)
	assert.Empty(t, res.Checks.Matches)
}

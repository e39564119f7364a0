package tiers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/patrickwarner/modserve/internal/models"
)

// Signature categories scanned by the security tier.
const (
	CatSQLInjection      = "sql_injection"
	CatXSS               = "xss"
	CatCommandInjection  = "command_injection"
	CatPathTraversal     = "path_traversal"
	CatXXE               = "xxe"
	CatNoSQLInjection    = "nosql_injection"
	CatTemplateInjection = "template_injection"
	CatLDAPInjection     = "ldap_injection"
	CatProtocolAbuse     = "protocol_abuse"
	CatHeaderInjection   = "header_injection"
	CatPromptInjection   = "prompt_injection"
	CatOutputInjection   = "output_injection"
	CatTrainingData      = "training_data_extraction"
	CatResourceExhaust   = "resource_exhaustion"
	CatSupplyChain       = "supply_chain"
	CatDataDisclosure    = "data_disclosure"
	CatExcessiveAgency   = "excessive_agency"
	CatSocialEngineering = "social_engineering"
	CatModelExtraction   = "model_extraction"
)

// Signature is one named attack pattern.
type Signature struct {
	Name     string
	Category string
	Severity string
	match    func(string) bool
}

func re(pattern string) func(string) bool {
	r := regexp.MustCompile(pattern)
	return r.MatchString
}

var (
	sqlQuoteBreak = regexp.MustCompile(`(?i)['"]\s*;\s*(select|insert|update|delete|drop|exec|truncate|alter)\b`)
	sqlCommentOut = regexp.MustCompile(`\w['"]\s*(--|/\*)\s*$`)
	shellMeta     = regexp.MustCompile("(;|&&|\\|\\||\\||`|\\$\\()")
	shellCmds     = regexp.MustCompile(`(?i)\b(rm\s+-rf|cat\s+/etc/(passwd|shadow)|wget\s+\S+|curl\s+\S+|nc\s+-[a-z]*e|bash\s+-i|sh\s+-c|chmod\s+\+x|whoami|uname\s+-a)\b`)
	wordRun       = regexp.MustCompile(`\S+`)
)

// sqlStructural flags a closed quote followed by a stacked statement, or a
// quote that comments out the rest of the query.
func sqlStructural(s string) bool {
	return sqlQuoteBreak.MatchString(s) || sqlCommentOut.MatchString(s)
}

// shellStructural flags shell metacharacters chained to a known command.
func shellStructural(s string) bool {
	return shellMeta.MatchString(s) && shellCmds.MatchString(s)
}

// repetitionFlood flags inputs made of one token repeated many times or of
// abnormal length.
func repetitionFlood(s string) bool {
	if len(s) > 20000 {
		return true
	}
	words := wordRun.FindAllString(s, -1)
	if len(words) < 200 {
		return false
	}
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[strings.ToLower(w)]++
	}
	for _, n := range counts {
		if n*10 >= len(words)*9 {
			return true
		}
	}
	return false
}

// signatures is the fixed catalog. Order is the reporting order.
var signatures = []Signature{
	// classic web injection
	{"sql_tautology", CatSQLInjection, models.SeverityCritical, re(`(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`)},
	{"sql_union_select", CatSQLInjection, models.SeverityCritical, re(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"sql_stacked_drop", CatSQLInjection, models.SeverityCritical, re(`(?i);\s*(drop|truncate|alter)\s+table\b`)},
	{"sql_quote_break", CatSQLInjection, models.SeverityHigh, sqlStructural},
	{"xss_script_tag", CatXSS, models.SeverityHigh, re(`(?i)<\s*/?\s*script\b`)},
	{"xss_event_handler", CatXSS, models.SeverityHigh, re(`(?i)<[^>]+\bon(error|load|click|mouseover|focus|toggle)\s*=`)},
	{"xss_javascript_uri", CatXSS, models.SeverityHigh, re(`(?i)((href|src|action|formaction|xlink:href)\s*=\s*["']?\s*javascript:|\bjavascript:\S*(\(|alert|eval|document\.|window\.|void\b))`)},
	{"xss_iframe_embed", CatXSS, models.SeverityMedium, re(`(?i)<\s*(iframe|object|embed)\b`)},
	{"cmd_chained_shell", CatCommandInjection, models.SeverityCritical, shellStructural},
	{"cmd_pipe_to_shell", CatCommandInjection, models.SeverityCritical, re(`(?i)\|\s*(sudo\s+)?(ba|z)?sh\b`)},
	{"path_dotdot", CatPathTraversal, models.SeverityHigh, re(`(?i)((\.\./|\.\.\\){3,}(etc|proc|windows|winnt|boot|root|var|usr|home)\b|(\.\./|\.\.\\){6,})`)},
	{"path_encoded_dotdot", CatPathTraversal, models.SeverityHigh, re(`(?i)(%2e%2e(%2f|%5c|/)|\.\.%2f|%252e%252e)`)},
	{"path_sensitive_file", CatPathTraversal, models.SeverityMedium, re(`(?i)(/etc/(passwd|shadow)|c:\\windows\\system32|/proc/self/environ)`)},
	{"xxe_entity", CatXXE, models.SeverityCritical, re(`(?i)<!ENTITY\s+(%\s+)?\S+\s+(SYSTEM|PUBLIC)\b`)},
	{"xxe_doctype_subset", CatXXE, models.SeverityHigh, re(`(?i)<!DOCTYPE[^>]*\[`)},
	{"nosql_operator", CatNoSQLInjection, models.SeverityHigh, re(`(?i)\{\s*"?\$(where|ne|gt|gte|lt|regex|or|nin|exists)"?\s*:`)},
	{"nosql_bracket_param", CatNoSQLInjection, models.SeverityMedium, re(`(?i)\w+\[\$(ne|gt|regex|where)\]=`)},
	{"template_jndi_lookup", CatTemplateInjection, models.SeverityCritical, re(`(?i)\$\{\s*jndi\s*:`)},
	{"template_expression", CatTemplateInjection, models.SeverityHigh, re(`(?i)(\{\{[^}]*(__class__|__globals__|config|self|constructor|range\s*\()[^}]*\}\}|\$\{[^}]*(runtime|getclass|exec)[^}]*\}|<%=?[^%]*%>)`)},
	{"ldap_filter_break", CatLDAPInjection, models.SeverityMedium, re(`(?i)\*\)\s*\(\s*[|&!]|\)\s*\(\s*\|?\s*\(?\s*(uid|cn|objectclass|mail)\s*=\s*\*`)},
	{"protocol_dangerous_scheme", CatProtocolAbuse, models.SeverityMedium, re(`(?i)\b(data:text/html|vbscript:|file:///|gopher://|dict://|php://|jar:(file|https?|ftp):)`)},
	{"header_crlf", CatHeaderInjection, models.SeverityMedium, re(`(?i)(%0d%0a|\r\n|\\r\\n)\s*(set-cookie|location|content-type|content-length|x-[a-z-]+)\s*:`)},

	// LLM-specific classes
	{"prompt_ignore_instructions", CatPromptInjection, models.SeverityHigh, re(`(?i)\b(ignore|disregard|forget|override)\s+(all\s+|any\s+)?(of\s+)?(your\s+|the\s+)?(previous|prior|above|earlier|system)\s+(instructions|prompts?|rules|directions)`)},
	{"prompt_jailbreak_persona", CatPromptInjection, models.SeverityHigh, re(`(?i)\b(you\s+are\s+now|act\s+as|pretend\s+to\s+be)\s+(DAN|an?\s+unrestricted|an?\s+unfiltered|in\s+developer\s+mode|jailbroken)`)},
	{"prompt_fake_system_turn", CatPromptInjection, models.SeverityHigh, re(`(?i)(<\|im_start\|>|<\|system\|>|###\s*system\s*:|^\s*\[?system\]?\s*:\s*(you\s+(are|must|will)\s+now|ignore|new\s+instructions|override))`)},
	{"output_markdown_exfil", CatOutputInjection, models.SeverityMedium, re(`(?i)!\[[^\]]*\]\(https?://[^)\s]*\?[^)\s]*(data|q|secret|token|key)=`)},
	{"output_render_payload", CatOutputInjection, models.SeverityMedium, re(`(?i)\b(respond|reply|answer|output)\s+(only\s+)?(with|using)\s+(raw\s+)?(html|javascript|markdown)\b.{0,80}<`)},
	{"training_data_regurgitation", CatTrainingData, models.SeverityMedium, re(`(?i)\b(repeat|recite|reproduce|reveal)\s+(your\s+|the\s+)?(training\s+data|text\s+above|verbatim|word\s+for\s+word)`)},
	{"training_data_word_loop", CatTrainingData, models.SeverityMedium, re(`(?i)\brepeat\s+the\s+word\s+"?\w+"?\s+(forever|infinitely)`)},
	{"resource_unbounded_generation", CatResourceExhaust, models.SeverityLow, re(`(?i)\b(repeat|generate|print|output)\b.{0,40}\b(forever|infinitely|endlessly|\d{5,}\s+times)`)},
	{"resource_repetition_flood", CatResourceExhaust, models.SeverityMedium, repetitionFlood},
	{"supply_chain_remote_install", CatSupplyChain, models.SeverityHigh, re(`(?i)\b(install|load|import|enable)\s+(this\s+|the\s+)?(plugin|package|extension|skill|tool)\s+from\s+https?://`)},
	{"supply_chain_custom_index", CatSupplyChain, models.SeverityHigh, re(`(?i)\b(pip\s+install\s+(--index-url|--extra-index-url|-i)\s+\S+|npm\s+install\s+--registry\s+\S+)`)},
	{"data_disclosure_secrets", CatDataDisclosure, models.SeverityMedium, re(`(?i)\b(reveal|show|tell|give|print|leak)\s+(me\s+)?(your|the)\s+(system\s+prompt|hidden\s+instructions|api\s+keys?|passwords?|credentials|secrets?|env(ironment)?\s+variables)`)},
	{"excessive_agency_destructive", CatExcessiveAgency, models.SeverityMedium, re(`(?i)\b(delete|drop|wipe|erase|purge)\s+(all\s+|every\s+)?(the\s+)?(users|accounts|messages|database|records|channels)\b`)},
	{"excessive_agency_privilege", CatExcessiveAgency, models.SeverityMedium, re(`(?i)\b(grant|give|make)\s+(me|my\s+account)\s+(admin|root|moderator|superuser)\s*(access|privileges|rights|role)?`)},
	{"social_engineering_authority", CatSocialEngineering, models.SeverityLow, re(`(?i)\b(i\s+am|this\s+is|i'm)\s+(your\s+(developer|administrator|admin|creator|system\s+operator)|(the\s+)?(openai|anthropic)(\s+team)?)\b.{0,80}\b(ignore|override|disable|bypass|reveal|unlock|grant)\b`)},
	{"social_engineering_urgency", CatSocialEngineering, models.SeverityLow, re(`(?i)\b(urgent|immediately|right\s+now|account\s+suspended)\b.{0,60}\b(verify|confirm|send|enter)\s+(your\s+)?(account|password|code|otp|seed\s+phrase)`)},
	{"model_extraction_weights", CatModelExtraction, models.SeverityLow, re(`(?i)\b(dump|output|reveal|share|export)\s+(your|the)\s+(model\s+)?(weights|parameters|embeddings|architecture|logits)`)},
}

// Catalog returns a copy of the signature catalog for introspection.
func Catalog() []Signature {
	out := make([]Signature, len(signatures))
	copy(out, signatures)
	return out
}

// SecurityBlocks reports whether sev is severe enough to block outright.
func SecurityBlocks(sev string) bool {
	return sev == models.SeverityCritical || sev == models.SeverityHigh
}

// ScanSecurity runs the Tier 1.5 signature scan. Critical and high matches
// block regardless of tier configuration; medium and low matches send the
// content to review.
func ScanSecurity(content string) models.TierResult {
	res := models.TierResult{
		Tier:      models.TierSecurity,
		Name:      models.TierNames[models.TierSecurity],
		Evaluated: true,
	}

	var matches []models.Match
	for _, sig := range signatures {
		if sig.match(content) {
			matches = append(matches, models.Match{
				Type:     models.MatchSecurity,
				Value:    sig.Name,
				Name:     sig.Name,
				Category: sig.Category,
				Severity: sig.Severity,
			})
		}
	}
	res.Checks.Matches = matches

	if len(matches) == 0 {
		res.Passed = models.Bool(true)
		res.Action = models.ActionAllow
		res.Message = "No attack signatures detected"
		return res
	}

	res.Passed = models.Bool(false)
	res.Action = models.ActionReview
	for _, m := range matches {
		if SecurityBlocks(m.Severity) {
			res.Action = models.ActionBlock
			break
		}
	}
	res.Message = securityMessage(matches)
	return res
}

func securityMessage(matches []models.Match) string {
	cats := make(map[string]struct{})
	for _, m := range matches {
		cats[m.Category] = struct{}{}
	}
	names := make([]string, 0, len(cats))
	for c := range cats {
		names = append(names, c)
	}
	sort.Strings(names)
	return fmt.Sprintf("Detected %d security signature(s): %s", len(matches), strings.Join(names, ", "))
}

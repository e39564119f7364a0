// Package textutil holds the text and URL helpers shared by the moderation tiers.
package textutil

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining marks so that "Café" and "cafe"
// compare equal.
func Fold(s string) string {
	// transformers carry state and must not be shared between goroutines
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		zap.L().Warn("unicode normalization error", zap.Error(err))
		return strings.ToLower(s)
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// ContainsWord reports whether term occurs in s bounded on both sides by a
// non-letter, non-digit rune or the ends of the string.
func ContainsWord(s, term string) bool {
	if term == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(s[offset:], term)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(term)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		// advance past the first rune of this occurrence
		_, size := utf8.DecodeRuneInString(s[start:])
		offset = start + size
		if offset >= len(s) {
			return false
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

// Fingerprint returns a compact hash of s, used to correlate repeated
// submissions in the review queue.
func Fingerprint(s string) string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(s)))
}

// Redact produces the display form of content shown to reviewers: matched
// terms are masked except for their first rune and URLs are defanged.
func Redact(content string, terms []string, urls []string) string {
	out := content
	for _, u := range urls {
		if u == "" {
			continue
		}
		out = strings.ReplaceAll(out, u, Defang(u))
	}
	for _, term := range terms {
		if term == "" {
			continue
		}
		out = replaceFold(out, term, mask(term))
	}
	return out
}

// Defang rewrites a URL so that it is no longer clickable.
func Defang(u string) string {
	u = strings.Replace(u, "https://", "hxxps://", 1)
	u = strings.Replace(u, "http://", "hxxp://", 1)
	return strings.ReplaceAll(u, ".", "[.]")
}

func mask(term string) string {
	rs := []rune(term)
	if len(rs) <= 1 {
		return "*"
	}
	return string(rs[0]) + strings.Repeat("*", len(rs)-1)
}

// replaceFold replaces every case-insensitive ASCII occurrence of old in s.
func replaceFold(s, old, repl string) string {
	lower := strings.ToLower(s)
	needle := strings.ToLower(old)
	if len(lower) != len(s) || needle == "" {
		return strings.ReplaceAll(s, old, repl)
	}
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lower[i:], needle)
		if idx < 0 {
			b.WriteString(s[i:])
			return b.String()
		}
		b.WriteString(s[i : i+idx])
		b.WriteString(repl)
		i += idx + len(needle)
	}
}

package textutil

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/purell"
	"golang.org/x/net/publicsuffix"
)

// scheme-qualified URLs, or bare host names with an optional path
var urlRegex = regexp.MustCompile(`(?i)\b(?:(?:https?|ftp)://[^\s<>"'\x60]+|(?:www\.)?(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,24}(?:/[^\s<>"'\x60]*)?)`)

const trailingPunct = ".,;:!?)]}'\""

// ExtractURLs returns the URLs found in raw, in order of appearance and
// without duplicates. Bare host names are only kept when they end in a real
// public suffix, so "file.txt" is not treated as a link.
func ExtractURLs(raw string) []string {
	locs := urlRegex.FindAllStringIndex(raw, -1)
	out := make([]string, 0, len(locs))
	seen := make(map[string]struct{}, len(locs))
	for _, loc := range locs {
		// skip the domain part of e-mail addresses
		if loc[0] > 0 && raw[loc[0]-1] == '@' {
			continue
		}
		u := strings.TrimRight(raw[loc[0]:loc[1]], trailingPunct)
		if u == "" {
			continue
		}
		if !hasScheme(u) {
			host := Host(u)
			if _, icann := publicsuffix.PublicSuffix(host); !icann {
				continue
			}
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func hasScheme(u string) bool {
	return strings.Contains(u, "://")
}

func withScheme(u string) string {
	if hasScheme(u) {
		return u
	}
	return "http://" + u
}

// Host returns the lowercased host name of a URL, with or without scheme.
// An empty string is returned when the URL cannot be parsed.
func Host(raw string) string {
	u, err := url.Parse(withScheme(strings.TrimSpace(raw)))
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// Path returns the lowercased path component of a URL.
func Path(raw string) string {
	u, err := url.Parse(withScheme(strings.TrimSpace(raw)))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Path)
}

// NormalizeURL canonicalises a URL for cache keys and reputation lookups.
func NormalizeURL(raw string) string {
	clean, err := purell.NormalizeURLString(withScheme(raw), purell.FlagsUsuallySafeGreedy|purell.FlagRemoveFragment|purell.FlagRemoveDuplicateSlashes)
	if err != nil {
		return withScheme(raw)
	}
	return clean
}

// RegistrableDomain returns the eTLD+1 of host, or host itself when it has
// none (IP addresses, single labels).
func RegistrableDomain(host string) string {
	if IsIP(host) {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// IsIP reports whether host is a literal IPv4 or IPv6 address.
func IsIP(host string) bool {
	return net.ParseIP(strings.Trim(host, "[]")) != nil
}

// DomainMatches reports whether host equals domain or is a subdomain of it.
func DomainMatches(host, domain string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// MatchesAny returns the first entry of domains that host matches.
func MatchesAny(host string, domains []string) (string, bool) {
	for _, d := range domains {
		if DomainMatches(host, d) {
			return d, true
		}
	}
	return "", false
}

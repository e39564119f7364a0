// Package geoip resolves the submitter's country from the request address.
package geoip

import (
	"encoding/json"
	"net"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP provides country lookup using a MaxMind DB or a JSON list of CIDR
// ranges for development.
type GeoIP struct {
	db       *geoip2.Reader
	fallback []cidrCountry
}

type cidrCountry struct {
	net     *net.IPNet
	country string
}

// Init opens the database at path. A file that is not a MaxMind database
// is read as a JSON array of {"net": "...", "country": "..."} entries.
func Init(path string) (*GeoIP, error) {
	g := &GeoIP{}
	db, err := geoip2.Open(path)
	if err == nil {
		g.db = db
		return g, nil
	}

	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
	}
	if jerr := json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			g.fallback = append(g.fallback, cidrCountry{net: n, country: strings.ToUpper(e.Country)})
		}
	}
	return g, nil
}

// Country returns the ISO country code for ip, or "" when unknown.
func (g *GeoIP) Country(ip net.IP) string {
	if g == nil || ip == nil {
		return ""
	}
	if g.db != nil {
		if rec, err := g.db.Country(ip); err == nil {
			return rec.Country.IsoCode
		}
	}
	for _, r := range g.fallback {
		if r.net.Contains(ip) {
			return r.country
		}
	}
	return ""
}

// ClientIP picks the originating address of a request: the first entry of
// X-Forwarded-For when present, otherwise the host of remoteAddr.
func ClientIP(forwardedFor, remoteAddr string) net.IP {
	if forwardedFor != "" {
		first := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}

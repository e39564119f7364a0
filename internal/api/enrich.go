package api

import (
	"net/http"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/modserve/internal/geoip"
	"github.com/patrickwarner/modserve/internal/models"
)

// DeviceType classifies a User-Agent string.
func DeviceType(ua string) string {
	if ua == "" {
		return ""
	}
	switch uasurfer.Parse(ua).DeviceType {
	case uasurfer.DeviceComputer:
		return "desktop"
	case uasurfer.DevicePhone:
		return "mobile"
	case uasurfer.DeviceTablet:
		return "tablet"
	default:
		return "other"
	}
}

// enrich fills the submitter country and device from the request. Neither
// affects the decision; both land in queue items and audit events.
func (s *Server) enrich(r *http.Request, sub *models.Submission) {
	if s.GeoIP != nil {
		sub.Country = s.GeoIP.Country(geoip.ClientIP(r.Header.Get("X-Forwarded-For"), r.RemoteAddr))
	}
	sub.DeviceType = DeviceType(r.UserAgent())
}

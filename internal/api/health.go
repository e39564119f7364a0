package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status        string `json:"status"`
	ConfigVersion int64  `json:"configVersion"`
	Classifier    string `json:"classifier,omitempty"`
}

// HealthHandler reports liveness, the active config version and the state
// of the classifier circuit breaker.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp := healthResponse{Status: "ok"}
	if s.Config != nil {
		resp.ConfigVersion = s.Config.Snapshot().Version
	}
	if s.Classifier != nil {
		resp.Classifier = s.Classifier.State()
	}
	writeJSON(w, http.StatusOK, resp)
	s.observe("health", "GET", http.StatusOK, start)
}

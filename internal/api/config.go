package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/middleware"
	"github.com/patrickwarner/modserve/internal/models"
)

// GetConfigHandler returns the active moderation config.
func (s *Server) GetConfigHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	writeJSON(w, http.StatusOK, s.Config.Get())
	s.observe("config", "GET", http.StatusOK, start)
}

// PutConfigHandler validates and replaces the moderation config.
func (s *Server) PutConfigHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "config"
	const method = "PUT"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var cfg models.ModerationConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	saved, err := s.Config.Put(r.Context(), cfg, actorFor(r))
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "invalid config",
				"violations": verr.Violations,
			})
			s.observe(endpoint, method, http.StatusBadRequest, start)
			return
		}
		logger.Error("config update failed", zap.Error(err))
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		http.Error(w, "config update failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, saved)
	s.observe(endpoint, method, http.StatusOK, start)
}

// ConfigHistoryHandler lists previous config versions, newest first.
func (s *Server) ConfigHistoryHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "config_history"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.observe(endpoint, method, http.StatusBadRequest, start)
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	history, err := s.Config.History(r.Context(), limit)
	if err != nil {
		logger.Error("config history failed", zap.Error(err))
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []models.ModerationConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": history})
	s.observe(endpoint, method, http.StatusOK, start)
}

// actorFor names the caller for audit fields.
func actorFor(r *http.Request) string {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		return ""
	}
	if id.Email != "" {
		return id.Email
	}
	return id.UserID
}

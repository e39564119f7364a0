package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/middleware"
	"github.com/patrickwarner/modserve/internal/models"
)

type analyzeRequest struct {
	Text      string `json:"text"`
	Type      string `json:"type"`
	Workflow  string `json:"workflow"`
	UserID    string `json:"userId,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
}

// AnalyzeHandler moderates one submission and returns the Decision.
func (s *Server) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "analyze"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var req analyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" || req.Workflow == "" {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "text and workflow are required", http.StatusBadRequest)
		return
	}

	id, _ := middleware.IdentityFromContext(r.Context())
	// admins submit on behalf of other users and are limited per submitter;
	// everyone else is limited by their own identity
	limitKey := id.UserID
	if id.IsAdmin() && req.UserID != "" {
		limitKey = req.UserID
	}
	if req.UserID == "" {
		req.UserID = id.UserID
	}
	if req.UserEmail == "" {
		req.UserEmail = id.Email
	}

	if !s.Limiter.Allow(limitKey) {
		s.observe(endpoint, method, http.StatusTooManyRequests, start)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	sub := models.Submission{
		Text:        req.Text,
		ContentType: req.Type,
		Workflow:    req.Workflow,
		UserID:      req.UserID,
		UserEmail:   req.UserEmail,
		ChannelID:   req.ChannelID,
		GroupID:     req.GroupID,
	}
	s.enrich(r, &sub)

	d, err := s.Aggregator.Moderate(r.Context(), sub, *s.Config.Snapshot())
	if err != nil {
		if r.Context().Err() != nil {
			// client went away; nothing to write
			s.observe(endpoint, method, 499, start)
			return
		}
		// the decision stands even when the review item could not be stored
		logger.Error("moderation side effects failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, d)
	s.observe(endpoint, method, http.StatusOK, start)
}

type testRequest struct {
	Text     string `json:"text"`
	Workflow string `json:"workflow"`
}

// TestHandler runs a dry-run evaluation against the current config.
func (s *Server) TestHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "test"
	const method = "POST"

	var req testRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	d := s.Config.TestEvaluate(r.Context(), req.Text, req.Workflow)
	writeJSON(w, http.StatusOK, d)
	s.observe(endpoint, method, http.StatusOK, start)
}

// StatsHandler summarises the review queue and today's decisions.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "stats"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	stats, err := s.Queue.Stats(r.Context())
	if err != nil {
		logger.Error("queue stats", zap.Error(err))
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	if s.Counters != nil {
		counts, err := s.Counters.DecisionCounts(r.Context(), time.Now().UTC())
		if err != nil {
			logger.Warn("decision counters unavailable", zap.Error(err))
		} else {
			stats.DecisionsToday = counts
		}
	}

	writeJSON(w, http.StatusOK, stats)
	s.observe(endpoint, method, http.StatusOK, start)
}

// statusForError maps queue errors to HTTP status codes.
func statusForError(err error) int {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, models.ErrInvalidReviewAction):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyReviewed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

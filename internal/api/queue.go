package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/middleware"
	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/queue"
)

// ListQueueHandler lists queue items, optionally filtered by ?status=.
func (s *Server) ListQueueHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "queue_list"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	status, ok := models.ParseQueueStatus(r.URL.Query().Get("status"))
	if !ok {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	items, err := s.Queue.List(r.Context(), status)
	if err != nil {
		logger.Error("list queue", zap.Error(err))
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		http.Error(w, "failed to list queue", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.QueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
	s.observe(endpoint, method, http.StatusOK, start)
}

// GetQueueItemHandler returns one queue item.
func (s *Server) GetQueueItemHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "queue_item"
	const method = "GET"

	item, err := s.Queue.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		code := statusForError(err)
		s.observe(endpoint, method, code, start)
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, item)
	s.observe(endpoint, method, http.StatusOK, start)
}

type reviewRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

type bulkReviewRequest struct {
	IDs    []string `json:"ids"`
	Action string   `json:"action"`
	Notes  string   `json:"notes"`
}

// reviewStatus accepts both the status names and their verb forms.
func reviewStatus(action string) models.QueueStatus {
	switch action {
	case "approve":
		return models.StatusApproved
	case "reject":
		return models.StatusRejected
	}
	return models.QueueStatus(action)
}

// ReviewHandler approves or rejects a pending queue item.
func (s *Server) ReviewHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "queue_review"
	const method = "PUT"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	item, err := s.Queue.Review(r.Context(), mux.Vars(r)["id"], reviewStatus(req.Action), actorFor(r), req.Notes)
	if err != nil {
		code := statusForError(err)
		if code == http.StatusInternalServerError {
			logger.Error("review failed", zap.Error(err))
		}
		s.observe(endpoint, method, code, start)
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, item)
	s.observe(endpoint, method, http.StatusOK, start)
}

// BulkReviewHandler applies one review action to many items. Each id
// succeeds or fails on its own.
func (s *Server) BulkReviewHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "queue_bulk"
	const method = "POST"

	var req bulkReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "ids are required", http.StatusBadRequest)
		return
	}
	status := reviewStatus(req.Action)
	if !models.IsReviewAction(status) {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, models.ErrInvalidReviewAction.Error(), http.StatusBadRequest)
		return
	}

	results := s.Queue.BulkReview(r.Context(), req.IDs, status, actorFor(r), req.Notes)
	if results == nil {
		results = []queue.ReviewResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
	s.observe(endpoint, method, http.StatusOK, start)
}

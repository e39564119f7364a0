package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/patrickwarner/modserve/internal/middleware"
)

// RegisterRoutes mounts the moderation API on r. Everything except /health
// requires a bearer token signed with secret. Only /analyze and /stats are
// open to the user role.
func (s *Server) RegisterRoutes(r *mux.Router, secret []byte) {
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")

	auth := middleware.Authenticate(secret, s.Logger)
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(h)
	}

	r.Handle("/reload", auth(admin(s.ReloadHandler))).Methods("POST")

	mod := r.PathPrefix("/moderation").Subrouter()
	mod.Use(auth)
	mod.HandleFunc("/analyze", s.AnalyzeHandler).Methods("POST")
	mod.Handle("/test", admin(s.TestHandler)).Methods("POST")
	mod.Handle("/config", admin(s.GetConfigHandler)).Methods("GET")
	mod.Handle("/config", admin(s.PutConfigHandler)).Methods("PUT")
	mod.Handle("/config/history", admin(s.ConfigHistoryHandler)).Methods("GET")
	mod.Handle("/queue", admin(s.ListQueueHandler)).Methods("GET")
	mod.Handle("/queue/bulk", admin(s.BulkReviewHandler)).Methods("POST")
	mod.Handle("/queue/{id}", admin(s.GetQueueItemHandler)).Methods("GET")
	mod.Handle("/queue/{id}", admin(s.ReviewHandler)).Methods("PUT")
	mod.HandleFunc("/stats", s.StatsHandler).Methods("GET")
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Rental lease protocol
			r.Post("/session", s.handleIssueSession)
			r.Post("/ble/authorize", s.handleBLEAuthorize)
			r.Post("/return", s.handleReturn)

			// Fleet status
			r.Route("/slots", func(r chi.Router) {
				r.Get("/", s.handleListSlots)
				r.Get("/{id}", s.handleGetSlot)
			})

			// Audit trail
			r.Get("/audit", s.handleListAudit)

			// WS ticket requires authentication; the upgrade itself is
			// authenticated by the single-use ticket.
			r.Post("/auth/ws-ticket", s.handleWSTicket)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			dbStatus = "unhealthy"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"database": dbStatus,
	})
}

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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.wsPath(), s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Scene endpoints
			r.Route("/scenes", func(r chi.Router) {
				r.Get("/", s.handleListScenes)
				r.Post("/", s.handleCreateScene)

				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", s.handleGetScene)
					r.Patch("/", s.handleUpdateScene)
					r.Delete("/", s.handleDeleteScene)

					r.Post("/go", s.handleSceneGo)
					r.Post("/stop", s.handleSceneStop)
					r.Post("/next", s.handleSceneNext)
					r.Post("/tap", s.handleSceneTap)
					r.Post("/goto", s.handleSceneGoto)
					r.Post("/claim", s.handleSceneClaim)

					r.Post("/cues", s.handleAddCue)
					r.Get("/cues/{cue}", s.handleGetCue)
					r.Delete("/cues/{cue}", s.handleDeleteCue)
					r.Put("/cues/{cue}/values", s.handleSetCueValue)
				})
			})

			r.Post("/shortcuts/{code}", s.handleShortcut)

			// Output snapshots
			r.Get("/universes", s.handleListUniverses)
			r.Get("/universes/{name}", s.handleGetUniverse)

			// Tag bus
			r.Get("/tags", s.handleListTags)
			r.Put("/tags/*", s.handleSetTag)

			r.Post("/save", s.handleSave)
			r.Post("/reload", s.handleReload)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter mounts the v1 API:
//
//	GET  /api/v1/health, /api/v1/metrics
//	GET  /api/v1/server          stats
//	POST /api/v1/server/{start,stop,restart}
//	GET  /api/v1/server/logs     WebSocket
//	GET  /api/v1/runs, /api/v1/runs/{id}
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.tagRequests, s.accessLog, s.recoverPanics, s.cors, limitBody)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/server", func(r chi.Router) {
			r.Get("/", s.handleGetServer)
			r.Post("/start", s.handleStartServer)
			r.Post("/stop", s.handleStopServer)
			r.Post("/restart", s.handleRestartServer)
			r.Get("/logs", s.handleWebSocket)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
		})
	})

	return r
}

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", s.handleHealth())
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		if s.config.AuthToken != "" {
			r.Use(authMiddleware(s.config.AuthToken))
		}

		r.Route("/threads", func(r chi.Router) {
			r.Get("/", s.handleListThreads())
			r.Post("/", s.handleSaveThread())
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetThread())
				r.Put("/", s.handleSaveThread())
				r.Delete("/", s.handleDeleteThread())
				r.Post("/start", s.handleStartThread())
				r.Post("/stop", s.handleStopThread())
				r.Post("/run", s.handleRunNow())
				r.Get("/status", s.handleThreadStatus())
				r.Get("/runs", s.handleListRuns())
				r.Get("/items", s.handleListItems())
			})
		})

		r.Get("/transfers", s.handleListTransfers())
		r.Get("/balance", s.handleBalance())
		r.Get("/events", s.handleEvents())
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter mounts the versioned API behind the shared middleware chain.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxBodyBytes))

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/hosts", s.handleListHosts)
		r.Get("/hosts/{id}", s.handleGetHost)

		r.Get("/journal", s.handleJournal)
		r.Get("/events", s.handleRecentEvents)
		r.Get("/supervisor", s.handleSupervisor)

		r.Post("/power", s.handlePower)
		r.Post("/devices/{service}/load", s.handleLoad)
		r.Post("/devices/{service}/unload", s.handleUnload)
		r.Post("/load-left", s.handleLoadLeft)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

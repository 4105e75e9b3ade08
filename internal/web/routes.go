package web

import (
	"github.com/go-chi/chi/v5"
)

func (s *Server) setupRoutes() {
	// Health check
	s.router.Get("/api/v1/health", healthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Faces
		r.Post("/faces", s.processFace)
		r.Post("/faces/batch", s.processBatch)

		// Person groups
		r.Get("/groups", s.listGroups)
		r.Get("/groups/{id}", s.getGroup)
		r.Put("/groups/{id}/label", s.relabelGroup)
		r.Post("/groups/{id}/merge", s.mergeGroup)
	})
}

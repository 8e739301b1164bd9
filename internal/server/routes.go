package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	r.Route("/task", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Post("/", s.createTask)

		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.getTask)
			r.Delete("/", s.deleteTask)
			r.Patch("/status", s.setTaskStatus)

			// Conversation surface
			r.Post("/open", s.openTask)
			r.Post("/close", s.closeTask)
			r.Get("/conversation", s.getConversation)
			r.Post("/message", s.sendMessage)
			r.Post("/stop", s.stopExecution)
		})
	})

	r.Get("/agent", s.listProfiles)

	// Event streaming (SSE)
	r.Get("/event", s.taskEvents)
}

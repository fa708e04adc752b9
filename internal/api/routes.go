package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the /api routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/templates", h.ListTemplates)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
			r.Post("/from-template", h.CreateAgentFromTemplate)
			r.With(h.limit).Post("/test", h.TestAgent)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Patch("/", h.UpdateAgent)
				r.Delete("/", h.DeleteAgent)
				r.With(h.limit).Post("/run", h.RunAgent)
				r.Get("/conversation", h.GetConversation)
				r.Delete("/conversation", h.ClearConversation)
			})
		})

		r.Get("/history", h.ListHistory)
		r.Delete("/history", h.ClearHistory)
		r.Delete("/history/{id}", h.DeleteHistoryEntry)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings/sync", h.SetCloudSync)
		r.Post("/settings/onboarding", h.CompleteOnboarding)

		r.Put("/session", h.SetSession)
		r.Delete("/session", h.ClearSession)

		r.Post("/sync", h.SyncNow)
		r.Get("/export", h.Export)
		r.Post("/reset", h.Reset)
		r.Delete("/account", h.DeleteAccount)
	})
}

func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

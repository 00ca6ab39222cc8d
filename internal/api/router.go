package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/notidx/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/indexer", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.Post("/reindex", h.Reindex)
		r.Post("/office/reset", h.ResetOffice)
	})

	r.Get("/index/{lid}", h.IndexRows)

	// Ingestion.
	r.Put("/notes", h.PutNote)
	r.Put("/resources", h.PutResource)
	r.Put("/resources/{lid}/payload", h.UploadPayload)
	r.Post("/resources/{lid}/payload", h.UploadPayload)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

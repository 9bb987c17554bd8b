package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options configures NewRouter.
type Options struct {
	AuthEnabled bool
	Token       string
	// Metrics, if non-nil, is mounted at GET /metrics outside the auth group.
	Metrics http.Handler
	// Events, if non-nil, is mounted at GET /api/events inside the auth group.
	Events http.Handler
}

// NewRouter creates a chi router with the health probes and every /api
// route mounted.
func NewRouter(src Source, opts Options) chi.Router {
	h := NewHandler(src)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(opts.AuthEnabled, opts.Token))

		r.Get("/stats", h.Stats)
		r.Get("/vaults", h.Vaults)
		r.Get("/notes", h.NotesByFname)
		r.Get("/notes/{id}", h.GetNote)
		r.Get("/notes/{id}/backlinks", h.Backlinks)
		r.Get("/search", h.Search)
		r.Get("/schemas", h.Schemas)
		r.Get("/schemas/{module}/notes", h.SchemaNotes)

		if opts.Events != nil {
			r.Method(http.MethodGet, "/events", opts.Events)
		}
	})

	return r
}

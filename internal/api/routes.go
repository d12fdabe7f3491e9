package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Router собирает chi router со всеми маршрутами API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery(h.logger))
	if len(h.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
			MaxAge:         300,
		}))
	}
	r.Use(Logging(h.logger))
	if h.httpMetrics != nil {
		r.Use(h.httpMetrics.middleware)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		NotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		MethodNotAllowed(w)
	})

	// Health и metrics
	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Reviews
		r.Post("/reviews", h.SubmitReview)
		r.Post("/reviews/batch", h.SubmitBatch)

		// Tasks
		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/tasks/{id}/result", h.GetTaskResult)
		r.Post("/tasks/{id}/cancel", h.CancelTask)
	})

	return r
}

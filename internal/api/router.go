package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts the handlers under /api/v1 with the standard middleware
// stack.
func NewRouter(h *Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/candidates", func(r chi.Router) {
			r.Get("/", h.ListCandidates)
			r.Get("/{candidateID}", h.GetCandidate)
			r.Get("/{candidateID}/details", h.GetScoreDetails)
		})

		r.Post("/products/{productID}/track", h.TrackProduct)
		r.Delete("/products/{productID}/track", h.UntrackProduct)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.ListQueue)
			r.Post("/rebuild", h.RebuildQueue)
			r.Post("/{queueID}/consume", h.ConsumeEntry)
		})

		r.Get("/stats", h.GetStats)
	})

	return r
}

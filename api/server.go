/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:    request logging
  2. Recoverer: panic recovery (500 instead of crash)
  3. RequestID: unique ID per request for tracing
  4. Timeout:   per-request budget; expired requests surface as 504
  5. CORS:      cross-origin requests for the dashboard frontend

SECURITY NOTE:
  No authentication middleware. Identity arrives via X-User-ID and is
  used only for audit stamping; session issuance is another service's
  problem.

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RequestBudget bounds one merge/rollup or distribution request.
const RequestBudget = 30 * time.Second

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(RequestBudget))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Route("/grid", func(r chi.Router) {
			r.Get("/", h.GetGrid)
			r.Post("/distribute", h.PostDistribute)
		})
		r.Post("/seed", h.PostSeed)
	})

	return r
}

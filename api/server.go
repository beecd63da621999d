/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the facility UI

ROUTE GROUPS:
  /api/skus, /api/patients/*   Read-only catalog and directory
  /api/connectivity            Facility connectivity
  /api/dispense|receive|adjust Stock movements
  /api/stock/*                 Snapshots and live streams
  /api/balancer/*              Transfer planning
  /healthz                     Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/skus", h.ListSKUs)

		r.Route("/patients", func(r chi.Router) {
			r.Get("/", h.ListPatients)
			r.Get("/{id}", h.GetPatient)
			r.Get("/{id}/eligibility", h.GetEligibility)
		})

		r.Get("/connectivity", h.GetConnectivity)
		r.Put("/connectivity", h.SetConnectivity)

		r.Post("/dispense", h.Dispense)
		r.Post("/receive", h.Receive)
		r.Post("/adjust", h.Adjust)

		r.Route("/stock/{sku}", func(r chi.Router) {
			r.Get("/", h.GetStock)
			r.Get("/stream", h.StreamStock)
		})

		r.Post("/balancer/plan", h.PlanTransfers)
	})

	return r
}

/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Lightweight, context-based, RESTful route patterns.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the desk frontend

ROUTE GROUPS:
  /api/members/*    Members, balances, purchases, lessons, pros
  /api/contracts/*  Soft delete
  /api/terms/*      Term-pass holds
  /api/catalog      Sellable entries

SECURITY NOTE:
  No authentication middleware; the delete password and actor ids travel
  in bodies. Deploy behind the gateway that owns staff sessions.

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
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.CreateMember)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetMember)
				r.Get("/balance", h.GetBalance)
				r.Get("/bills", h.GetBills)

				r.Post("/contracts", h.RegisterContract)
				r.Get("/contracts", h.GetContracts)
				r.Get("/contracts/stats", h.GetContractStats)

				r.Post("/products", h.PurchaseProduct)
				r.Post("/credits", h.ManualCredit)

				r.Get("/lessons", h.GetLessons)
				r.Get("/lessons/balance", h.GetLessonBalance)
				r.Put("/lessons/expiry", h.ExtendLessonExpiry)

				r.Get("/pros", h.GetPros)
				r.Post("/pros", h.SetPros)
			})
		})

		r.Route("/contracts", func(r chi.Router) {
			r.Delete("/{id}", h.DeleteContract)
		})

		r.Route("/terms", func(r chi.Router) {
			r.Post("/{id}/holds", h.RegisterHold)
			r.Get("/{id}/holds", h.GetHolds)
			r.Delete("/{id}/hold", h.ClearHold)
		})

		r.Get("/catalog", h.ListCatalog)
	})

	return r
}

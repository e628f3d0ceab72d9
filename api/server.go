/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Honors X-Forwarded-For behind the gateway
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the HR frontend

ROUTE GROUPS:
  /api/leave-types/*  Leave type catalog
  /api/policies/*     Policy catalog and assignment
  /api/employees/*    Directory, balances, movements, onboarding
  /api/requests/*     Request lifecycle
  /api/holidays/*     Holiday calendar
  /api/admin/*        Adjustments, manual accrual, rollover

SECURITY NOTE:
  No authentication middleware here; the engine sits behind the HR
  gateway, which authenticates and forwards X-Actor-ID / X-Actor-Role.

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
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Actor-ID", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Leave type catalog
		r.Route("/leave-types", func(r chi.Router) {
			r.Get("/", h.ListLeaveTypes)
			r.Post("/", h.CreateLeaveType)
			r.Put("/{id}", h.UpdateLeaveType)
			r.Delete("/{id}", h.DeactivateLeaveType)
		})

		// Policy catalog
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Put("/{id}", h.UpdatePolicy)
			r.Post("/assign", h.AssignPolicy)
		})

		// Employees: directory snapshot, balances, movement history
		r.Route("/employees", func(r chi.Router) {
			r.Post("/", h.UpsertEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Post("/{id}/onboard", h.Onboard)
			r.Get("/{id}/balances", h.GetBalances)
			r.Get("/{id}/movements", h.GetMovements)
		})

		// Request lifecycle
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.SubmitRequest)
			r.Post("/validate", h.ValidateRequest)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/deny", h.DenyRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		// Holiday calendar
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.Post("/", h.CreateHoliday)
		})

		// Admin operations
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/accrual/run", h.RunAccrual)
			r.Post("/rollover", h.RunRollover)
		})
	})

	return r
}

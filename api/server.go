/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Connects URLs to handlers. No business rules live here.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. Logger:     One zerolog line per request
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Auth:       Bearer JWT from /api/auth/login, account reloaded
                 per request (everything except register and login)

ROUTE GROUPS:
  /api/auth/*        Registration, login and the current user
  /api/estimates/*   Estimates and numbering
  /api/timesheet/*   The caller's own timesheet entries
  /api/quotes/*      Legacy quotes
  /api/admin/*       Account administration (admin role only)

SEE ALSO:
  - handlers.go: Estimate, timesheet and quote handlers
  - admin.go: Account handlers
  - auth.go: Login and authentication middleware
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

var defaultOrigins = []string{"http://localhost:3000", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	origins := h.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)

			r.Get("/auth/user", h.CurrentUser)

			r.Route("/estimates", func(r chi.Router) {
				r.Get("/", h.ListEstimates)
				r.Post("/", h.CreateEstimate)
				r.Get("/next-number", h.NextEstimateNumber)
				r.Get("/{id}", h.GetEstimate)
				r.Put("/{id}", h.UpdateEstimate)
				r.Delete("/{id}", h.DeleteEstimate)
			})

			r.Route("/timesheet", func(r chi.Router) {
				r.Get("/", h.ListTimesheet)
				r.Post("/", h.CreateTimesheetEntry)
				r.Get("/{id}", h.GetTimesheetEntry)
				r.Put("/{id}", h.UpdateTimesheetEntry)
				r.Delete("/{id}", h.DeleteTimesheetEntry)
			})

			r.Route("/quotes", func(r chi.Router) {
				r.Get("/", h.ListQuotes)
				r.Post("/", h.CreateQuote)
				r.Get("/{id}", h.GetQuote)
				r.Put("/{id}", h.UpdateQuote)
				r.Delete("/{id}", h.DeleteQuote)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/users", h.ListUsers)
				r.Get("/pending-users", h.ListPendingUsers)
				r.Post("/approve-user/{id}", h.ApproveUser)
				r.Post("/deny-user/{id}", h.DenyUser)
				r.Put("/users/{id}", h.UpdateUser)
				r.Delete("/users/{id}", h.DeleteUser)
				r.Put("/users/{id}/role", h.SetUserRole)
			})
		})
	})

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("took", time.Since(start)).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. Logger:      Request logging
  2. Recoverer:   Panic recovery (500 instead of crash)
  3. RequestID:   Unique ID per request for tracing
  4. CORS:        Cross-origin requests for the back office frontend
  5. CurrentUser: X-User-ID header into the request context

ROUTE GROUPS:
  /api/policies/*     Policies and their schedules
  /api/sessions/*     Edit sessions
  /api/consistency/*  Consistency checker
  /api/scenarios/*    Demo scenarios

SECURITY NOTE:
  X-User-ID is trusted as sent. Authentication belongs to the gateway in
  front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/parcela-engine/parcela"
)

// UserHeader carries the id of the user acting on the request.
const UserHeader = "X-User-ID"

// DefaultOrigins are the local frontend dev servers.
var DefaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultOrigins
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))
	r.Use(WithCurrentUser)

	r.Route("/api", func(r chi.Router) {
		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Get("/{id}", h.GetPolicy)
			r.Delete("/{id}", h.DeletePolicy)
			r.Get("/{id}/installments", h.GetInstallments)
			r.Get("/{id}/installments/export", h.ExportInstallments)
			r.Post("/{id}/sessions", h.OpenSession)
		})

		// Session routes
		r.Route("/sessions/{sid}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DiscardSession)
			r.Post("/edit", h.BeginEdit)
			r.Put("/buffer", h.SetBuffer)
			r.Post("/confirm", h.Confirm)
			r.Post("/cancel", h.Cancel)
			r.Post("/keys", h.HandleKey)
			r.Post("/save", h.SaveSession)
		})

		// Consistency routes
		r.Route("/consistency", func(r chi.Router) {
			r.Get("/", h.GetConsistency)
			r.Post("/run", h.RunConsistency)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// =============================================================================
// CURRENT USER
// =============================================================================

type userKey struct{}

// WithCurrentUser stores the X-User-ID header in the request context.
func WithCurrentUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
			r = r.WithContext(ContextWithUser(r.Context(), parcela.UserID(user)))
		}
		next.ServeHTTP(w, r)
	})
}

// ContextWithUser returns ctx carrying user.
func ContextWithUser(ctx context.Context, user parcela.UserID) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// CurrentUser returns the user carried by ctx, or parcela.ErrNoCurrentUser.
func CurrentUser(ctx context.Context) (parcela.UserID, error) {
	if user, ok := ctx.Value(userKey{}).(parcela.UserID); ok && user != "" {
		return user, nil
	}
	return "", parcela.ErrNoCurrentUser
}

/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zerolog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. RequireUser (under /api): X-User-ID must be present

ROUTE GROUPS:
  /healthz             Liveness + store ping
  /admin/*             Reconciliation sweeps (ops, expected behind the gateway)
  /api/transactions/*  Ledger mutations and listing
  /api/accounts/*      Accounts, balances, verification
  /api/categories/*    Category metadata

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
	"github.com/rs/zerolog"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/logger"
)

// UserHeader carries the caller identity set by the upstream gateway.
const UserHeader = "X-User-ID"

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger      zerolog.Logger
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	// Admin routes
	r.Route("/admin", func(r chi.Router) {
		r.Get("/reconciliation", h.GetReconciliation)
		r.Post("/reconciliation", h.TriggerReconciliation)
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireUser)

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.CreateTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Delete("/{id}", h.DeleteAccount)
			r.Get("/{id}/verify", h.VerifyAccount)
		})

		// Category routes
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
		})
	})

	return r
}

// =============================================================================
// CALLER IDENTITY
// =============================================================================

type userKey struct{}

// RequireUser rejects requests without X-User-ID and stores the user in
// the request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, ledger.UserID(user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) ledger.UserID {
	user, _ := ctx.Value(userKey{}).(ledger.UserID)
	return user
}

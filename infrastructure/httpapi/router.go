// Package httpapi serves the admin console API, health checks and the socket endpoint.
package httpapi

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires HTTP routes. socket may be nil when the relay runs admin-only.
func NewRouter(log *slog.Logger, snapshots contract.Snapshotter, audit contract.AuditLog,
	provider contract.IdentityProvider, socket http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, log, http.StatusOK, map[string]string{"status": "ok"})
	})

	if socket != nil {
		r.Handle("/ws", socket)
	}

	admin := NewAdminHandler(log, snapshots, audit)
	r.Route("/admin", func(api chi.Router) {
		api.Use(auth.RequireAdmin(provider, log))
		admin.RegisterRoutes(api)
	})

	return r
}

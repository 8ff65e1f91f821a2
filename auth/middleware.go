package auth

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const identityKey contextKey = "identity"

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAdmin lets through requests carrying a valid token of an admin role.
// Missing or invalid tokens get 401, other roles get 403.
func RequireAdmin(provider contract.IdentityProvider, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				http.Error(w, "authorization token is missing", http.StatusUnauthorized)
				return
			}
			identity, err := provider.Verify(token)
			if err != nil {
				log.Debug("Admin token rejected", "error", err)
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}
			if !identity.Role.IsAdmin() {
				log.Warn("Admin access denied", "user", identity.UserID, "role", identity.Role)
				http.Error(w, "admin role required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/token"
)

type identityKey struct{}

// LocalIdentity is assumed for every request when no token secret is
// configured. It is meant for local development only.
var LocalIdentity = token.Identity{UserID: "local", Email: "local@localhost", Role: token.RoleAdmin}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id token.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller identity set by Authenticate.
func IdentityFromContext(ctx context.Context) (token.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(token.Identity)
	return id, ok
}

// Authenticate verifies the bearer token of every request and stores the
// caller identity in the request context. Requests without a valid token
// get 401. An empty secret disables verification.
func Authenticate(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	if len(secret) == 0 {
		logger.Warn("token secret not set, all requests run as the local admin")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), LocalIdentity)))
				return
			}

			raw := r.Header.Get("Authorization")
			tok, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || tok == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			id, err := token.Verify(tok, secret)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, token.ErrExpired) {
					msg = "token expired"
				}
				LoggerFromRequest(r, logger).Debug("rejected token", zap.Error(err))
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin rejects callers without the admin role with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		if !id.IsAdmin() {
			http.Error(w, "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

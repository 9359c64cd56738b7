package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/daostar/grants-aggregator/internal/store"
)

type ctxKey int

const apiKeyCtxKey ctxKey = iota

// KeyStore is the lookup the auth middleware needs from the store.
type KeyStore interface {
	GetAPIKey(ctx context.Context, key string) (*store.APIKey, error)
}

// APIKeyFrom returns the authenticated key attached by APIKeyAuth, or nil.
func APIKeyFrom(ctx context.Context) *store.APIKey {
	k, _ := ctx.Value(apiKeyCtxKey).(*store.APIKey)
	return k
}

// APIKeyAuth validates the X-API-Key header against the store and attaches
// the key to the request context. With required=false anonymous requests
// pass through; a key that is present but invalid is rejected either way.
// Store outages fail open so read traffic survives a database incident.
func APIKeyAuth(keys KeyStore, required bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				if required {
					writeAuthError(w, "missing API key")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			key, err := keys.GetAPIKey(r.Context(), raw)
			if err != nil {
				logger.Error("api key lookup failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if key == nil {
				writeAuthError(w, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyCtxKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth guards the admin surface with a shared bearer token. An empty
// configured token disables the surface entirely.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "admin API disabled", http.StatusForbidden)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeAuthError(w, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// Package middleware provides the HTTP middleware stack for the gateway.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/weblinq/weblinq-go/internal/config"
)

type contextKey string

const (
	userIDKey    contextKey = "weblinq.user_id"
	requestIDKey contextKey = "weblinq.request_id"
)

// UserID returns the authenticated user id from the request context, empty
// when the request did not pass Auth.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// WithUserID returns a context carrying the user id. Exposed for handler
// tests.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Auth validates the Authorization bearer token against the configured key
// table and stores the resolved user id in the request context. Health and
// metrics stay reachable for load balancers.
func Auth(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.AuthDisabled {
				next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), cfg.DevUser)))
				return
			}

			token := bearerToken(r)
			if token == "" {
				writeEnvelopeError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			userID, ok := lookupKey(cfg.APIKeys, token)
			if !ok {
				writeEnvelopeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// lookupKey compares the presented token against every configured key in
// constant time, so response timing does not leak which prefix matched.
func lookupKey(keys map[string]string, token string) (string, bool) {
	var userID string
	found := false
	for key, user := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			userID = user
			found = true
		}
	}
	return userID, found
}

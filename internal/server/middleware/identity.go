// Package middleware provides HTTP middleware for caller identity.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// UserIDHeader carries the caller's id. It is set by the gateway in front of the API,
// which owns authentication.
const UserIDHeader = "X-User-ID"

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// userIDKey is the context key for storing the caller's user ID.
const userIDKey ContextKey = "userID"

// ErrNoUser is returned when a request carries no usable user id.
var ErrNoUser = errors.New("user ID not found in request context")

// Identity reads the user id header and stores it in the request context. Requests
// without a valid id are rejected with 401, except for paths in open.
func Identity(open ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(open))
	for _, p := range open {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if raw == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			userID, err := uuid.Parse(raw)
			if err != nil || userID == uuid.Nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID returns ctx carrying userID.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the caller's user ID from the request context.
func GetUserID(r *http.Request) (uuid.UUID, error) {
	userID, ok := r.Context().Value(userIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrNoUser
	}
	return userID, nil
}

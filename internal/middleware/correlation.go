// Package middleware provides HTTP middleware components.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// correlationIDKey is the context key for the correlation ID.
type correlationIDKey struct{}

// CorrelationID creates middleware that extracts or generates correlation IDs.
func CorrelationID(headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(headerName)
			if correlationID == "" {
				correlationID = uuid.New().String()
			}

			// Echo it so clients can quote it back
			w.Header().Set(headerName, correlationID)

			ctx := context.WithValue(r.Context(), correlationIDKey{}, correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCorrelationID retrieves the correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// MaintenanceResponse is the response body during maintenance mode.
type MaintenanceResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Maintenance creates middleware that returns 503 when maintenance mode is
// enabled. Health endpoints stay reachable so orchestration keeps the
// instance alive.
func Maintenance(enabled bool, message string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health/") {
				next.ServeHTTP(w, r)
				return
			}

			if enabled {
				logger.Info("request rejected due to maintenance mode",
					zap.String("correlation_id", GetCorrelationID(r.Context())),
					zap.String("path", r.URL.Path),
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "300")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(MaintenanceResponse{
					Status:  "unavailable",
					Message: message,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

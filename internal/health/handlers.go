// Package health provides health check endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shelfmark/auth-gateway/internal/clients"
)

// Response is the response for the liveness check.
type Response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the response for the readiness check.
type ReadinessResponse struct {
	Status    string `json:"status"`
	Redis     string `json:"redis"`
	Broker    string `json:"broker"`
	Timestamp string `json:"timestamp"`
}

// Handlers holds dependencies for health check handlers.
type Handlers struct {
	redisClient  *clients.RedisClient
	brokerClient *clients.RabbitMQClient
}

// NewHandlers creates a new health handlers instance.
func NewHandlers(redis *clients.RedisClient, broker *clients.RabbitMQClient) *Handlers {
	return &Handlers{
		redisClient:  redis,
		brokerClient: broker,
	}
}

// LiveHandler handles GET /health/live.
func (h *Handlers) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(Response{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler handles GET /health/ready. Redis readiness gates the whole
// service: without the session and ban stores every request degrades to
// anonymous and every login fails closed.
func (h *Handlers) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	redisStatus := "connected"
	brokerStatus := "connected"
	overallStatus := "ok"

	if err := h.redisClient.Ping(ctx); err != nil {
		redisStatus = "disconnected"
		overallStatus = "unhealthy"
	}

	if err := h.brokerClient.Ping(); err != nil {
		brokerStatus = "disconnected"
		overallStatus = "unhealthy"
	}

	resp := ReadinessResponse{
		Status:    overallStatus,
		Redis:     redisStatus,
		Broker:    brokerStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

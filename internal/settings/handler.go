package settings

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shelfmark/auth-gateway/internal/middleware"
)

// updateRequest carries the mutable display preferences. Credentials are not
// changed here; the password-change flow is a separate operation.
type updateRequest struct {
	Title    string `json:"title"`
	Timezone string `json:"timezone"`
}

// viewResponse is the JSON shape of GET /admin/settings.
type viewResponse struct {
	Title      string `json:"title"`
	Timezone   string `json:"timezone"`
	APIEnabled bool   `json:"api_enabled"`
}

// Handler exposes the authenticated settings surface. It is mounted behind
// the login guard, so every caller here is the administrator.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a settings handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// HandleView handles GET /admin/settings.
func (h *Handler) HandleView(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, viewResponse{
		Title:      h.store.Get(KeyTitle, ""),
		Timezone:   h.store.Get(KeyTimezone, "UTC"),
		APIEnabled: h.store.GetBool(KeyAPIEnabled, false),
	})
}

// HandleUpdate handles POST /admin/settings.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	if req.Title != "" {
		h.store.Set(KeyTitle, req.Title)
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown timezone"})
			return
		}
		h.store.Set(KeyTimezone, req.Timezone)
	}

	// The login guard already vetted this request.
	if err := h.store.Write(true); err != nil {
		h.logger.Error("failed to persist settings",
			zap.Error(err),
			zap.String("correlation_id", correlationID),
		)
		h.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to persist settings"})
		return
	}

	h.logger.Info("settings updated",
		zap.String("correlation_id", correlationID),
	)
	h.HandleView(w, r)
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

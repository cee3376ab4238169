package bootstrap

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/shelfmark/auth-gateway/internal/config"
	"github.com/shelfmark/auth-gateway/internal/middleware"
	"github.com/shelfmark/auth-gateway/internal/session"
)

// sessionTestMarker is the value round-tripped through the session store to
// prove the backend works before credentials are accepted. A broken session
// backend would otherwise silently produce an unusable installation.
const sessionTestMarker = "working"

// installState is the JSON shape of GET /install.
type installState struct {
	Ready bool   `json:"ready"`
	Token string `json:"token,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler exposes the first-run install flow over HTTP.
type Handler struct {
	provisioner *Provisioner
	sessions    *session.Manager
	cfg         *config.Config
	logger      *zap.Logger
}

// NewHandler creates a new install handler.
func NewHandler(provisioner *Provisioner, sessions *session.Manager, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		provisioner: provisioner,
		sessions:    sessions,
		cfg:         cfg,
		logger:      logger,
	}
}

// HandleInstallForm handles GET /install. The first visit stores a marker in
// a fresh session and redirects with ?test_session; the follow-up request
// proves the marker round-tripped before the form is offered.
func (h *Handler) HandleInstallForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.provisioner.Required() {
		http.Redirect(w, r, h.cfg.BasePath, http.StatusSeeOther)
		return
	}

	s := h.sessions.Current(ctx, cookieValue(r))

	if r.URL.Query().Has("test_session") && s.TestMarker != sessionTestMarker {
		h.logger.Error("session backend failed the install round-trip check",
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
		)
		h.respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "sessions do not seem to work on this server; check the session backend and retry",
		})
		return
	}

	if s.TestMarker != sessionTestMarker {
		s.TestMarker = sessionTestMarker
		if err := h.sessions.Save(ctx, s); err != nil {
			h.respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "session backend unavailable"})
			return
		}
		h.setSessionCookie(w, s.ID)
		http.Redirect(w, r, h.installPath()+"?test_session=1", http.StatusSeeOther)
		return
	}

	token, err := h.sessions.IssueCSRFToken(ctx, s)
	if err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "session backend unavailable"})
		return
	}

	h.setSessionCookie(w, s.ID)
	h.respondJSON(w, http.StatusOK, installState{Ready: true, Token: token})
}

// HandleInstall handles POST /install.
func (h *Handler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if !h.provisioner.Required() {
		h.respondJSON(w, http.StatusConflict, errorResponse{Error: "already provisioned"})
		return
	}

	s := h.sessions.Current(ctx, cookieValue(r))
	if s.TestMarker != sessionTestMarker {
		h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "session check has not completed"})
		return
	}

	req, token := decodeInstallRequest(r)
	if !h.sessions.CheckCSRFToken(ctx, s, token) {
		h.respondJSON(w, http.StatusForbidden, errorResponse{Error: "invalid token"})
		return
	}

	if err := h.provisioner.Provision(ctx, req, correlationID); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyProvisioned):
			h.respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		case errors.Is(err, ErrMissingFields):
			h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		default:
			// Config write failures surface verbatim: only the installing
			// administrator can fix them.
			h.logger.Error("provisioning failed",
				zap.Error(err),
				zap.String("correlation_id", correlationID),
			)
			h.respondJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		return
	}

	if middleware.IsBrowserRequest(r) {
		http.Redirect(w, r, strings.TrimSuffix(h.cfg.BasePath, "/")+"/login", http.StatusSeeOther)
		return
	}
	h.respondJSON(w, http.StatusCreated, installState{Ready: false})
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, value string) {
	path := h.cfg.BasePath
	if path == "" {
		path = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "shelfmark",
		Value:    value,
		Path:     path,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) installPath() string {
	return strings.TrimSuffix(h.cfg.BasePath, "/") + "/install"
}

// decodeInstallRequest accepts both JSON and form-encoded bodies and returns
// the request plus the submitted CSRF token.
func decodeInstallRequest(r *http.Request) (Request, string) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Request
			Token string `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		return body.Request, body.Token
	}

	_ = r.ParseForm()
	enableAPI, _ := strconv.ParseBool(r.PostFormValue("enableApi"))
	return Request{
		Login:     r.PostFormValue("setlogin"),
		Password:  r.PostFormValue("setpassword"),
		Timezone:  r.PostFormValue("timezone"),
		Title:     r.PostFormValue("title"),
		EnableAPI: enableAPI,
	}, r.PostFormValue("token")
}

func cookieValue(r *http.Request) string {
	c, err := r.Cookie("shelfmark")
	if err != nil {
		return ""
	}
	return c.Value
}

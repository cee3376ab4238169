package login

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shelfmark/auth-gateway/internal/config"
	"github.com/shelfmark/auth-gateway/internal/identity"
	"github.com/shelfmark/auth-gateway/internal/middleware"
	"github.com/shelfmark/auth-gateway/internal/session"
)

// Cookie names.
const (
	SessionCookieName  = "shelfmark"
	RememberCookieName = "shelfmark_remember"
)

// Handler exposes the login flow over HTTP.
type Handler struct {
	orchestrator *Orchestrator
	cfg          *config.Config
	logger       *zap.Logger
}

// NewHandler creates a new login handler.
func NewHandler(orchestrator *Orchestrator, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		cfg:          cfg,
		logger:       logger,
	}
}

// HandleLoginForm handles GET /login: it resolves the current state and
// issues a CSRF token for the login form.
func (h *Handler) HandleLoginForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := h.resolveState(w, r)

	token, err := h.orchestrator.sessions.IssueCSRFToken(ctx, s)
	if err != nil {
		h.logger.Warn("failed to issue csrf token",
			zap.Error(err),
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
		)
		h.respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "session backend unavailable"})
		return
	}

	h.setSessionCookie(w, s.ID, h.orchestrator.sessions.Extend(s))
	h.respondJSON(w, http.StatusOK, stateResponse{
		Authenticated: s.Authenticated,
		Token:         token,
	})
}

// HandleLogin handles POST /login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	clientIdentity := identity.FromRequest(r)

	req := decodeLoginRequest(r)
	s := h.orchestrator.sessions.Current(ctx, cookieValue(r, SessionCookieName))

	result := h.orchestrator.AttemptLogin(ctx, Attempt{
		Identity:      clientIdentity,
		Login:         req.Login,
		Password:      req.Password,
		CSRFToken:     req.Token,
		Remember:      req.Remember,
		CorrelationID: correlationID,
	}, s)

	switch result.Outcome {
	case OutcomeBanned:
		// Terse on purpose: no remaining lockout time.
		if middleware.IsBrowserRequest(r) {
			http.Redirect(w, r, h.loginPath()+"?banned=1", http.StatusSeeOther)
			return
		}
		h.respondJSON(w, http.StatusForbidden, errorResponse{Error: "login attempts are currently not allowed"})

	case OutcomeRejected:
		h.respondRejection(w, r, result.Reason)

	case OutcomeSuccess:
		expiry := h.orchestrator.sessions.Extend(result.Session)
		h.setSessionCookie(w, result.Session.ID, expiry)

		if result.RememberToken != nil {
			h.setRememberCookie(w, result.RememberToken.Value, result.RememberToken.ExpiresAt)
		}

		if middleware.IsBrowserRequest(r) {
			http.Redirect(w, r, h.safeReturnURL(req.ReturnURL), http.StatusSeeOther)
			return
		}
		h.respondJSON(w, http.StatusOK, stateResponse{Authenticated: true})
	}
}

// HandleLogout handles POST /logout.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIdentity := identity.FromRequest(r)

	s := h.orchestrator.CheckLoginState(ctx,
		cookieValue(r, SessionCookieName),
		cookieValue(r, RememberCookieName),
		clientIdentity,
		middleware.GetCorrelationID(ctx),
	)
	if s.Authenticated {
		h.orchestrator.Logout(ctx, s, clientIdentity, middleware.GetCorrelationID(ctx))
	}

	h.clearCookie(w, SessionCookieName)
	h.clearCookie(w, RememberCookieName)

	if middleware.IsBrowserRequest(r) {
		http.Redirect(w, r, h.cfg.BasePath, http.StatusSeeOther)
		return
	}
	h.respondJSON(w, http.StatusOK, stateResponse{Authenticated: false})
}

// HandleSession handles GET /session: the boolean signal the CRUD layer
// consumes.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	s := h.resolveState(w, r)
	h.respondJSON(w, http.StatusOK, stateResponse{Authenticated: s.Authenticated})
}

// Authenticated reports the request's authentication state; it satisfies the
// guard middleware's contract.
func (h *Handler) Authenticated(r *http.Request) bool {
	s := h.orchestrator.CheckLoginState(r.Context(),
		cookieValue(r, SessionCookieName),
		cookieValue(r, RememberCookieName),
		identity.FromRequest(r),
		middleware.GetCorrelationID(r.Context()),
	)
	return s.Authenticated
}

// ValidCSRF reports whether the request carries an outstanding CSRF token for
// its own session; it satisfies the guard middleware's contract.
func (h *Handler) ValidCSRF(r *http.Request) bool {
	ctx := r.Context()
	s := h.orchestrator.sessions.Current(ctx, cookieValue(r, SessionCookieName))

	token := r.Header.Get("X-CSRF-Token")
	if token == "" {
		_ = r.ParseForm()
		token = r.PostFormValue("token")
	}
	return h.orchestrator.sessions.CheckCSRFToken(ctx, s, token)
}

// resolveState runs the full login-state check and re-emits the session
// cookie when the identifier changed underneath (regeneration, resumption).
func (h *Handler) resolveState(w http.ResponseWriter, r *http.Request) *session.State {
	ctx := r.Context()
	before := cookieValue(r, SessionCookieName)

	s := h.orchestrator.CheckLoginState(ctx,
		before,
		cookieValue(r, RememberCookieName),
		identity.FromRequest(r),
		middleware.GetCorrelationID(ctx),
	)
	if s.ID != before {
		h.setSessionCookie(w, s.ID, h.orchestrator.sessions.Extend(s))
	}
	return s
}

func (h *Handler) respondRejection(w http.ResponseWriter, r *http.Request, reason RejectionReason) {
	if middleware.IsBrowserRequest(r) {
		// Non-specific on purpose: never reveal whether the login or the
		// password was wrong.
		http.Redirect(w, r, h.loginPath()+"?error="+url.QueryEscape(string(reason)), http.StatusSeeOther)
		return
	}

	switch reason {
	case ReasonInvalidToken:
		h.respondJSON(w, http.StatusForbidden, errorResponse{Error: "invalid token"})
	case ReasonSessionUnavailable:
		h.respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "session backend unavailable"})
	default:
		h.respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "wrong login/password"})
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, value string, expires time.Time) {
	c := &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     h.cookiePath(),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if !expires.IsZero() {
		c.Expires = expires
	}
	http.SetCookie(w, c)
}

func (h *Handler) setRememberCookie(w http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     RememberCookieName,
		Value:    value,
		Path:     h.cookiePath(),
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) cookiePath() string {
	if h.cfg.BasePath == "" {
		return "/"
	}
	return h.cfg.BasePath
}

func (h *Handler) loginPath() string {
	return strings.TrimSuffix(h.cfg.BasePath, "/") + "/login"
}

// safeReturnURL keeps post-login redirects on-site and away from the login
// view (prevents loops over the login screen).
func (h *Handler) safeReturnURL(raw string) string {
	if raw == "" {
		return h.cfg.BasePath
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return h.cfg.BasePath
	}
	if strings.Contains(raw, "/login") {
		return h.cfg.BasePath
	}
	return raw
}

// decodeLoginRequest accepts both JSON and form-encoded bodies.
func decodeLoginRequest(r *http.Request) loginRequest {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		return req
	}

	_ = r.ParseForm()
	remember := false
	if v := r.PostFormValue("remember"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			remember = b
		} else {
			remember = v == "on"
		}
	}
	return loginRequest{
		Login:     r.PostFormValue("login"),
		Password:  r.PostFormValue("password"),
		Token:     r.PostFormValue("token"),
		Remember:  remember,
		ReturnURL: r.PostFormValue("returnurl"),
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

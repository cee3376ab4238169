// Package login composes the identity resolver, ban tracker, credential
// verifier and session manager into the request-level authentication
// decision.
package login

import (
	"github.com/shelfmark/auth-gateway/internal/session"
)

// Outcome is the top-level login result variant.
type Outcome int

const (
	// OutcomeSuccess means the credentials were verified and a fresh
	// authenticated session exists.
	OutcomeSuccess Outcome = iota
	// OutcomeRejected means the attempt was refused; see the reason.
	OutcomeRejected
	// OutcomeBanned means the client is currently locked out and the
	// credentials were never consulted.
	OutcomeBanned
)

// RejectionReason narrows OutcomeRejected.
type RejectionReason string

const (
	// ReasonBadCredentials: the login/password pair did not verify.
	ReasonBadCredentials RejectionReason = "bad_credentials"
	// ReasonInvalidToken: the CSRF token was missing or not outstanding.
	// A forged request is not a credential-guessing signal, so this never
	// feeds the ban tracker.
	ReasonInvalidToken RejectionReason = "invalid_token"
	// ReasonSessionUnavailable: credentials verified but the session could
	// not be persisted; the caller stays unauthenticated.
	ReasonSessionUnavailable RejectionReason = "session_unavailable"
)

// Result carries the outcome of a login attempt. The caller decides the
// transport-level response (redirect, status code) from the variant.
type Result struct {
	Outcome       Outcome
	Reason        RejectionReason
	Session       *session.State
	RememberToken *session.RememberToken
}

// Attempt is the input to AttemptLogin.
type Attempt struct {
	Identity      string
	Login         string
	Password      string
	CSRFToken     string
	Remember      bool
	CorrelationID string
}

// loginRequest is the decoded POST /login body (form or JSON).
type loginRequest struct {
	Login     string `json:"login"`
	Password  string `json:"password"`
	Token     string `json:"token"`
	Remember  bool   `json:"remember"`
	ReturnURL string `json:"return_url"`
}

// stateResponse is the JSON shape of GET /session and GET /login.
type stateResponse struct {
	Authenticated bool   `json:"authenticated"`
	Token         string `json:"token,omitempty"`
}

// errorResponse is the JSON error shape for API clients.
type errorResponse struct {
	Error string `json:"error"`
}

// Package session owns the server-side session lifecycle: anti-fixation
// identifier regeneration, CSRF token issuance and checking, stay-signed-in
// tokens and session extension.
package session

import (
	"context"
	"errors"
	"time"
)

// State is the server-side session record, keyed by an opaque identifier
// delivered via cookie. The identifier itself is not part of the stored
// payload.
type State struct {
	ID string `json:"-"`

	Authenticated  bool      `json:"authenticated"`
	Login          string    `json:"login,omitempty"`
	ClientIdentity string    `json:"client_identity,omitempty"`
	StaySignedIn   bool      `json:"stay_signed_in"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`

	// RememberJTI is the allowlist id of the stay-signed-in token backing
	// this session, kept so logout can revoke it.
	RememberJTI string `json:"remember_jti,omitempty"`

	// CSRFTokens maps outstanding token values to their issue time.
	// Tokens are single-use: a successful check removes the token.
	CSRFTokens map[string]time.Time `json:"csrf_tokens,omitempty"`

	// TestMarker is round-tripped by the first-run install flow to prove
	// the session backend works before credentials are accepted.
	TestMarker string `json:"test_marker,omitempty"`
}

// Store defines the session persistence operations.
type Store interface {
	// GetSession returns the serialized state, or (nil, nil) when absent.
	GetSession(ctx context.Context, id string) ([]byte, error)
	// SetSession writes the serialized state with the given lifetime.
	SetSession(ctx context.Context, id string, data []byte, ttl time.Duration) error
	// DeleteSession removes the state for an identifier.
	DeleteSession(ctx context.Context, id string) error
}

// RememberStore defines the allowlist operations for stay-signed-in tokens.
type RememberStore interface {
	PutRememberToken(ctx context.Context, jti string, data []byte, ttl time.Duration) error
	// GetRememberToken returns (nil, nil) when the token is not allowlisted.
	GetRememberToken(ctx context.Context, jti string) ([]byte, error)
	DeleteRememberToken(ctx context.Context, jti string) error
}

// RememberToken is a freshly issued stay-signed-in token. Value goes into the
// long-lived cookie; JTI identifies the server-side allowlist entry.
type RememberToken struct {
	Value     string
	JTI       string
	Identity  string
	ExpiresAt time.Time
}

// ErrStoreUnavailable wraps session store failures. Callers treat it as
// "no valid session" rather than propagating a fault.
var ErrStoreUnavailable = errors.New("session store unavailable")

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/shelfmark/auth-gateway/internal/config"
)

// validID matches acceptable session identifiers. Anything else in the cookie
// is treated as tampering and silently replaced.
var validID = regexp.MustCompile(`^[A-Za-z0-9-]{16,128}$`)

// Manager owns session state over a Store.
type Manager struct {
	store    Store
	remember RememberStore
	keyFn    func() []byte
	cfg      *config.Config
	logger   *zap.Logger
}

// NewManager creates a session manager. keyFn supplies the current HMAC key
// for stay-signed-in tokens; it is called per operation so a credential
// change invalidates outstanding tokens immediately.
func NewManager(store Store, remember RememberStore, keyFn func() []byte, cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		remember: remember,
		keyFn:    keyFn,
		cfg:      cfg,
		logger:   logger,
	}
}

// NewID returns a fresh random session identifier.
func NewID() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Current resolves the session carried by cookieValue. A missing, malformed
// or unknown identifier, or an unavailable store, yields a fresh anonymous
// session; it never returns an error to the caller.
func (m *Manager) Current(ctx context.Context, cookieValue string) *State {
	if cookieValue == "" || !validID.MatchString(cookieValue) {
		if cookieValue != "" {
			m.logger.Debug("discarding malformed session cookie")
		}
		return m.anonymous()
	}

	data, err := m.store.GetSession(ctx, cookieValue)
	if err != nil {
		// Treat store unavailability as "no valid session": forcing
		// re-authentication is the fail-safe direction.
		m.logger.Warn("session store unavailable, treating as anonymous", zap.Error(err))
		return m.anonymous()
	}
	if data == nil {
		return m.anonymous()
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		m.logger.Warn("discarding undecodable session state", zap.Error(err))
		return m.anonymous()
	}
	s.ID = cookieValue

	if s.CSRFTokens == nil {
		s.CSRFTokens = make(map[string]time.Time)
	}
	return &s
}

// Save persists the session state.
func (m *Manager) Save(ctx context.Context, s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.SetSession(ctx, s.ID, data, m.cfg.SessionLifetime); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Regenerate swaps the session onto a fresh identifier. The new identifier is
// activated before the old one is deleted: a short window where both resolve
// is acceptable, a window where neither resolves would falsely log the user
// out. Invoked on every authentication-state transition.
func (m *Manager) Regenerate(ctx context.Context, s *State) error {
	oldID := s.ID
	s.ID = NewID()

	if err := m.Save(ctx, s); err != nil {
		s.ID = oldID
		return err
	}

	if oldID != "" {
		if err := m.store.DeleteSession(ctx, oldID); err != nil {
			m.logger.Warn("failed to delete superseded session", zap.Error(err))
		}
	}
	return nil
}

// Destroy removes the session state entirely.
func (m *Manager) Destroy(ctx context.Context, s *State) error {
	if s.ID == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, s.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IssueCSRFToken generates a token, records it in the session's outstanding
// set and persists the session.
func (m *Manager) IssueCSRFToken(ctx context.Context, s *State) (string, error) {
	buf := make([]byte, 20)
	_, _ = rand.Read(buf)
	token := hex.EncodeToString(buf)

	if s.CSRFTokens == nil {
		s.CSRFTokens = make(map[string]time.Time)
	}
	s.CSRFTokens[token] = time.Now().UTC()

	if err := m.Save(ctx, s); err != nil {
		return "", err
	}
	return token, nil
}

// CheckCSRFToken reports whether token is outstanding for this exact session.
// Tokens are single-use: a successful check consumes the token. Tokens issued
// for any other session, even a still-valid one, never pass.
func (m *Manager) CheckCSRFToken(ctx context.Context, s *State, token string) bool {
	if token == "" {
		return false
	}
	if _, ok := s.CSRFTokens[token]; !ok {
		return false
	}

	delete(s.CSRFTokens, token)
	if err := m.Save(ctx, s); err != nil {
		// The token was present; failing the request here over a store
		// hiccup would reject a legitimate form submission.
		m.logger.Warn("failed to persist consumed csrf token", zap.Error(err))
	}
	return true
}

// Extend recomputes the session expiration for the transport-level cookie.
// Stay-signed-in sessions get a far-future expiry; everything else keeps a
// browser-session cookie (zero time).
func (m *Manager) Extend(s *State) time.Time {
	if !s.StaySignedIn {
		return time.Time{}
	}
	expiry := time.Now().Add(m.cfg.SessionLifetime)
	s.ExpiresAt = expiry
	return expiry
}

func (m *Manager) anonymous() *State {
	return &State{
		ID:         NewID(),
		CSRFTokens: make(map[string]time.Time),
	}
}

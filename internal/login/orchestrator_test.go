package login_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shelfmark/auth-gateway/internal/config"
	"github.com/shelfmark/auth-gateway/internal/credential"
	"github.com/shelfmark/auth-gateway/internal/login"
	"github.com/shelfmark/auth-gateway/internal/session"
)

// memSessionStore implements session.Store in memory.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string][]byte)}
}

func (m *memSessionStore) GetSession(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (m *memSessionStore) SetSession(_ context.Context, id string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = data
	return nil
}

func (m *memSessionStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// memRememberStore implements session.RememberStore in memory.
type memRememberStore struct {
	mu     sync.Mutex
	tokens map[string][]byte
}

func newMemRememberStore() *memRememberStore {
	return &memRememberStore{tokens: make(map[string][]byte)}
}

func (m *memRememberStore) PutRememberToken(_ context.Context, jti string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[jti] = data
	return nil
}

func (m *memRememberStore) GetRememberToken(_ context.Context, jti string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.tokens[jti]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (m *memRememberStore) DeleteRememberToken(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, jti)
	return nil
}

// mockBans implements login.BanTracker.
type mockBans struct {
	banned        bool
	failures      int
	successes     int
	banOnFailure  bool
	bannedQueries int
}

func (m *mockBans) IsBanned(context.Context, string) bool {
	m.bannedQueries++
	return m.banned
}

func (m *mockBans) RecordFailure(context.Context, string) bool {
	m.failures++
	return m.banOnFailure
}

func (m *mockBans) RecordSuccess(context.Context, string) {
	m.successes++
}

// mockCreds implements login.CredentialSource.
type mockCreds struct {
	cred credential.Credential
}

func (m *mockCreds) Credential() credential.Credential { return m.cred }

// mockPublisher implements events.Publisher.
type mockPublisher struct {
	mu     sync.Mutex
	events []any
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, event any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

type fixture struct {
	orchestrator *login.Orchestrator
	sessions     *session.Manager
	bans         *mockBans
	publisher    *mockPublisher
	store        *memSessionStore
}

func testConfig() *config.Config {
	return &config.Config{
		BasePath:             "/",
		SessionLifetime:      time.Hour,
		RememberLifetime:     24 * time.Hour,
		RememberBindIdentity: true,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemSessionStore()
	remember := newMemRememberStore()
	keyFn := func() []byte { return []byte("0123456789abcdef0123456789abcdef") }
	cfg := testConfig()
	sessions := session.NewManager(store, remember, keyFn, cfg, zap.NewNop())

	salt := credential.NewSalt()
	creds := &mockCreds{cred: credential.Credential{
		Login: "admin",
		Salt:  salt,
		Hash:  credential.Digest("s3cret", "admin", salt),
	}}

	bans := &mockBans{}
	publisher := &mockPublisher{}

	return &fixture{
		orchestrator: login.NewOrchestrator(bans, creds, sessions, publisher, cfg, zap.NewNop()),
		sessions:     sessions,
		bans:         bans,
		publisher:    publisher,
		store:        store,
	}
}

// startSession returns a persisted anonymous session with one issued token.
func (f *fixture) startSession(t *testing.T) (*session.State, string) {
	t.Helper()
	ctx := context.Background()
	s := f.sessions.Current(ctx, "")
	token, err := f.sessions.IssueCSRFToken(ctx, s)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return s, token
}

func TestAttemptLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, token := f.startSession(t)
	preLoginID := s.ID

	result := f.orchestrator.AttemptLogin(ctx, login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: token,
	}, s)

	if result.Outcome != login.OutcomeSuccess {
		t.Fatalf("expected success, got outcome %v reason %q", result.Outcome, result.Reason)
	}
	if !result.Session.Authenticated {
		t.Error("expected an authenticated session")
	}
	if f.bans.successes != 1 {
		t.Error("a verified login must reset the failure counter")
	}
	if result.Session.ID == preLoginID {
		t.Error("login must regenerate the session identifier")
	}
	if got := f.sessions.Current(ctx, preLoginID); got.Authenticated {
		t.Error("the pre-login identifier must never resolve to an authenticated session")
	}
}

func TestAttemptLogin_BadCredentialsRecordsFailure(t *testing.T) {
	f := newFixture(t)
	s, token := f.startSession(t)

	result := f.orchestrator.AttemptLogin(context.Background(), login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "guess",
		CSRFToken: token,
	}, s)

	if result.Outcome != login.OutcomeRejected || result.Reason != login.ReasonBadCredentials {
		t.Fatalf("expected bad-credentials rejection, got %v/%q", result.Outcome, result.Reason)
	}
	if f.bans.failures != 1 {
		t.Error("a verified failure must feed the ban tracker")
	}
	if result.Session.Authenticated {
		t.Error("session must stay anonymous")
	}
}

func TestAttemptLogin_InvalidTokenSkipsBanTracker(t *testing.T) {
	f := newFixture(t)
	s, _ := f.startSession(t)

	result := f.orchestrator.AttemptLogin(context.Background(), login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: "forged",
	}, s)

	if result.Outcome != login.OutcomeRejected || result.Reason != login.ReasonInvalidToken {
		t.Fatalf("expected invalid-token rejection, got %v/%q", result.Outcome, result.Reason)
	}
	if f.bans.failures != 0 {
		t.Error("a forged request is not a credential-guessing signal")
	}
}

func TestAttemptLogin_BannedClientNeverReachesCredentials(t *testing.T) {
	f := newFixture(t)
	f.bans.banned = true
	s, token := f.startSession(t)

	// Even the correct password is rejected during a ban.
	result := f.orchestrator.AttemptLogin(context.Background(), login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: token,
	}, s)

	if result.Outcome != login.OutcomeBanned {
		t.Fatalf("expected banned outcome, got %v", result.Outcome)
	}
	if f.bans.failures != 0 || f.bans.successes != 0 {
		t.Error("a banned attempt must not touch credential state")
	}
}

func TestAttemptLogin_RememberIssuesToken(t *testing.T) {
	f := newFixture(t)
	s, token := f.startSession(t)

	result := f.orchestrator.AttemptLogin(context.Background(), login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: token,
		Remember:  true,
	}, s)

	if result.Outcome != login.OutcomeSuccess {
		t.Fatalf("expected success, got %v", result.Outcome)
	}
	if result.RememberToken == nil {
		t.Fatal("expected a stay-signed-in token")
	}
	if !result.Session.StaySignedIn {
		t.Error("session must record the stay-signed-in opt-in")
	}
	if result.Session.ExpiresAt.IsZero() {
		t.Error("stay-signed-in sessions must be extended")
	}
}

func TestAttemptLogin_WithoutRememberNoToken(t *testing.T) {
	f := newFixture(t)
	s, token := f.startSession(t)

	result := f.orchestrator.AttemptLogin(context.Background(), login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: token,
	}, s)

	if result.RememberToken != nil {
		t.Error("no token without the opt-in")
	}
}

func TestCheckLoginState_ActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, token := f.startSession(t)

	result := f.orchestrator.AttemptLogin(ctx, login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: token,
	}, s)

	got := f.orchestrator.CheckLoginState(ctx, result.Session.ID, "", "client-x", "corr")
	if !got.Authenticated {
		t.Error("an active session cookie must resolve to authenticated")
	}
}

func TestCheckLoginState_IdentityChangeDemotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, token := f.startSession(t)

	result := f.orchestrator.AttemptLogin(ctx, login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: token,
	}, s)

	got := f.orchestrator.CheckLoginState(ctx, result.Session.ID, "", "client-other", "corr")
	if got.Authenticated {
		t.Error("a session presented from a different identity without stay-signed-in must demote")
	}
}

func TestCheckLoginState_RememberTokenRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, token := f.startSession(t)

	result := f.orchestrator.AttemptLogin(ctx, login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: token,
		Remember:  true,
	}, s)
	authedID := result.Session.ID

	// Simulate losing the primary session cookie: only the stay-signed-in
	// cookie comes back.
	got := f.orchestrator.CheckLoginState(ctx, "", result.RememberToken.Value, "client-x", "corr")

	if !got.Authenticated {
		t.Fatal("a valid stay-signed-in token must re-establish authentication")
	}
	if got.ID == authedID {
		t.Error("resumption must regenerate the session identifier")
	}
	if got.Login != "admin" {
		t.Errorf("resumed session must carry the credential login, got %q", got.Login)
	}
}

func TestCheckLoginState_RememberTokenWrongIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, token := f.startSession(t)

	result := f.orchestrator.AttemptLogin(ctx, login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: token,
		Remember:  true,
	}, s)

	got := f.orchestrator.CheckLoginState(ctx, "", result.RememberToken.Value, "client-stolen", "corr")
	if got.Authenticated {
		t.Error("a stay-signed-in token must not validate for an unbound identity")
	}
}

func TestLogout_RevokesRememberToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, token := f.startSession(t)

	result := f.orchestrator.AttemptLogin(ctx, login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: token,
		Remember:  true,
	}, s)

	f.orchestrator.Logout(ctx, result.Session, "client-x", "corr")

	if got := f.orchestrator.CheckLoginState(ctx, result.Session.ID, "", "client-x", "corr"); got.Authenticated {
		t.Error("logout must destroy the session")
	}
	if got := f.orchestrator.CheckLoginState(ctx, "", result.RememberToken.Value, "client-x", "corr"); got.Authenticated {
		t.Error("logout must revoke the stay-signed-in token")
	}
}

func TestAttemptLogin_PublisherOutageIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = context.DeadlineExceeded
	s, token := f.startSession(t)

	result := f.orchestrator.AttemptLogin(context.Background(), login.Attempt{
		Identity:  "client-x",
		Login:     "admin",
		Password:  "s3cret",
		CSRFToken: token,
	}, s)

	if result.Outcome != login.OutcomeSuccess {
		t.Error("a broker outage must never block authentication")
	}
}

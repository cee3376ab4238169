package bootstrap_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/shelfmark/auth-gateway/internal/bootstrap"
	"github.com/shelfmark/auth-gateway/internal/credential"
	"github.com/shelfmark/auth-gateway/internal/settings"
)

// memSettings implements settings.Store in memory.
type memSettings struct {
	values   map[string]any
	written  int
	writeErr error
}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]any)}
}

func (m *memSettings) Get(key, def string) string {
	if v, ok := m.values[key].(string); ok {
		return v
	}
	return def
}

func (m *memSettings) GetBool(key string, def bool) bool {
	if v, ok := m.values[key].(bool); ok {
		return v
	}
	return def
}

func (m *memSettings) Set(key string, value any) {
	m.values[key] = value
}

func (m *memSettings) Write(bool) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written++
	return nil
}

func (m *memSettings) IsConfigured() bool {
	return m.Get(settings.KeyLogin, "") != ""
}

func TestProvision_WritesCredential(t *testing.T) {
	store := newMemSettings()
	p := bootstrap.NewProvisioner(store, nil, zap.NewNop())

	err := p.Provision(context.Background(), bootstrap.Request{
		Login:    "admin",
		Password: "s3cret",
		Timezone: "Europe/Paris",
		Title:    "My links",
	}, "corr")
	if err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}

	if store.Get(settings.KeyLogin, "") != "admin" {
		t.Error("login not persisted")
	}
	salt := store.Get(settings.KeySalt, "")
	if len(salt) != 40 {
		t.Errorf("expected a 40 char salt, got %d", len(salt))
	}
	hash := store.Get(settings.KeyHash, "")
	if hash != credential.Digest("s3cret", "admin", salt) {
		t.Error("stored hash does not verify against the submitted password")
	}
	if store.Get(settings.KeyTimezone, "") != "Europe/Paris" {
		t.Error("timezone not persisted")
	}
	if store.Get(settings.KeyTitle, "") != "My links" {
		t.Error("title not persisted")
	}
	if store.Get(settings.KeyAPISecret, "") == "" {
		t.Error("expected a derived api secret")
	}
	if store.written != 1 {
		t.Errorf("expected exactly one write, got %d", store.written)
	}
	if p.Required() {
		t.Error("provisioning must flip Required to false")
	}
}

func TestProvision_SecondCallRejected(t *testing.T) {
	store := newMemSettings()
	p := bootstrap.NewProvisioner(store, nil, zap.NewNop())
	ctx := context.Background()

	if err := p.Provision(ctx, bootstrap.Request{Login: "admin", Password: "s3cret"}, "corr"); err != nil {
		t.Fatalf("first provisioning failed: %v", err)
	}
	salt := store.Get(settings.KeySalt, "")
	hash := store.Get(settings.KeyHash, "")

	err := p.Provision(ctx, bootstrap.Request{Login: "intruder", Password: "other"}, "corr")
	if !errors.Is(err, bootstrap.ErrAlreadyProvisioned) {
		t.Fatalf("expected ErrAlreadyProvisioned, got %v", err)
	}
	if store.Get(settings.KeySalt, "") != salt || store.Get(settings.KeyHash, "") != hash {
		t.Error("a rejected provisioning attempt must leave the credential untouched")
	}
	if store.Get(settings.KeyLogin, "") != "admin" {
		t.Error("login must survive the rejected attempt")
	}
}

func TestProvision_MissingFields(t *testing.T) {
	p := bootstrap.NewProvisioner(newMemSettings(), nil, zap.NewNop())
	ctx := context.Background()

	for _, req := range []bootstrap.Request{
		{Password: "s3cret"},
		{Login: "admin"},
		{},
	} {
		if err := p.Provision(ctx, req, "corr"); !errors.Is(err, bootstrap.ErrMissingFields) {
			t.Errorf("expected ErrMissingFields for %+v, got %v", req, err)
		}
	}
}

func TestProvision_Defaults(t *testing.T) {
	store := newMemSettings()
	p := bootstrap.NewProvisioner(store, nil, zap.NewNop())

	if err := p.Provision(context.Background(), bootstrap.Request{Login: "admin", Password: "s3cret"}, "corr"); err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}
	if got := store.Get(settings.KeyTimezone, ""); got != "UTC" {
		t.Errorf("expected UTC default, got %q", got)
	}
	if got := store.Get(settings.KeyTitle, ""); got != "Shared bookmarks" {
		t.Errorf("expected the default title, got %q", got)
	}
	if store.GetBool(settings.KeyAPIEnabled, true) {
		t.Error("api must default to disabled")
	}
}

func TestProvision_BogusTimezoneFallsBack(t *testing.T) {
	store := newMemSettings()
	p := bootstrap.NewProvisioner(store, nil, zap.NewNop())

	if err := p.Provision(context.Background(), bootstrap.Request{
		Login:    "admin",
		Password: "s3cret",
		Timezone: "Mars/Olympus",
	}, "corr"); err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}
	if got := store.Get(settings.KeyTimezone, ""); got != "UTC" {
		t.Errorf("an unknown timezone must fall back to UTC, got %q", got)
	}
}

func TestProvision_WriteFailureSurfaced(t *testing.T) {
	store := newMemSettings()
	store.writeErr = errors.New("disk full")
	p := bootstrap.NewProvisioner(store, nil, zap.NewNop())

	err := p.Provision(context.Background(), bootstrap.Request{Login: "admin", Password: "s3cret"}, "corr")
	if err == nil {
		t.Fatal("expected the write failure to surface")
	}
	if !errors.Is(err, store.writeErr) {
		t.Errorf("the underlying write error must be wrapped, got %v", err)
	}
}

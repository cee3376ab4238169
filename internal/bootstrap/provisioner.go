// Package bootstrap implements the first-run flow that provisions the
// initial credential pair through the settings collaborator.
package bootstrap

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelfmark/auth-gateway/internal/credential"
	"github.com/shelfmark/auth-gateway/internal/events"
	"github.com/shelfmark/auth-gateway/internal/settings"
)

// ErrAlreadyProvisioned guards against overwriting an existing credential.
var ErrAlreadyProvisioned = errors.New("a credential is already provisioned")

// ErrMissingFields is returned when login or password is empty.
var ErrMissingFields = errors.New("login and password are required")

// Request carries the installation form fields.
type Request struct {
	Login     string `json:"setlogin"`
	Password  string `json:"setpassword"`
	Timezone  string `json:"timezone"`
	Title     string `json:"title"`
	EnableAPI bool   `json:"enable_api"`
}

// Provisioner writes the initial credential exactly once.
type Provisioner struct {
	settings settings.Store
	events   events.Publisher
	logger   *zap.Logger
}

// NewProvisioner creates a bootstrap provisioner.
func NewProvisioner(store settings.Store, publisher events.Publisher, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		settings: store,
		events:   publisher,
		logger:   logger,
	}
}

// Required reports whether first-run provisioning still has to happen.
func (p *Provisioner) Required() bool {
	return !p.settings.IsConfigured()
}

// Provision derives the salted credential hash and the API secret from the
// submitted form and persists them. It never overwrites an existing
// credential, and a settings write failure is returned verbatim: the
// installing administrator is the only audience who can fix it.
func (p *Provisioner) Provision(ctx context.Context, req Request, correlationID string) error {
	if p.settings.IsConfigured() {
		return ErrAlreadyProvisioned
	}
	if req.Login == "" || req.Password == "" {
		return ErrMissingFields
	}

	salt := credential.NewSalt()
	hash := credential.Digest(req.Password, req.Login, salt)

	tz := "UTC"
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err == nil {
			tz = req.Timezone
		}
	}

	title := req.Title
	if title == "" {
		title = "Shared bookmarks"
	}

	p.settings.Set(settings.KeyLogin, req.Login)
	p.settings.Set(settings.KeySalt, salt)
	p.settings.Set(settings.KeyHash, hash)
	p.settings.Set(settings.KeyTimezone, tz)
	p.settings.Set(settings.KeyTitle, title)
	p.settings.Set(settings.KeyAPIEnabled, req.EnableAPI)
	p.settings.Set(settings.KeyAPISecret, deriveAPISecret(req.Login, salt))

	if err := p.settings.Write(false); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	if p.events != nil {
		event := events.New(events.TypeInstallCompleted, "", credential.Anonymize(req.Login), correlationID)
		if err := p.events.Publish(ctx, event); err != nil {
			p.logger.Warn("failed to publish install event", zap.Error(err))
		}
	}

	p.logger.Info("initial credential provisioned",
		zap.String("correlation_id", correlationID),
		zap.String("login_hash", credential.Anonymize(req.Login)),
		zap.String("timezone", tz),
		zap.Bool("api_enabled", req.EnableAPI),
	)
	return nil
}

// deriveAPISecret generates the REST API secret from the provisioned login
// and salt plus a random component.
func deriveAPISecret(login, salt string) string {
	mac := hmac.New(sha256.New, []byte(login))
	mac.Write([]byte(salt + uuid.NewString()))
	return hex.EncodeToString(mac.Sum(nil))
}

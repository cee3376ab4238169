// Package ban counts failed login attempts per client identity and enforces
// temporary lockouts once a threshold is crossed.
package ban

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/shelfmark/auth-gateway/internal/config"
)

// Store defines the persistence operations needed by the tracker. Counter
// increments must be atomic per identity: two concurrent failures must not
// both observe a pre-increment count and collectively slip under the
// threshold.
type Store interface {
	// IncrementLoginFailure atomically increments the failure counter inside
	// the sliding window and returns the new count.
	IncrementLoginFailure(ctx context.Context, identity string, windowSeconds int) (int64, error)
	// RegisterOffense increments the repeat-offense counter for escalation.
	RegisterOffense(ctx context.Context, identity string) (int64, error)
	// PlaceBan marks the identity banned for ttlSeconds.
	PlaceBan(ctx context.Context, identity string, ttlSeconds int) error
	// BanRemaining returns the remaining ban in seconds, 0 when not banned.
	BanRemaining(ctx context.Context, identity string) (int64, error)
	// ClearLoginFailures removes all failure state for the identity.
	ClearLoginFailures(ctx context.Context, identity string) error
}

// maxBanDuration caps escalated bans.
const maxBanDuration = 7 * 24 * time.Hour

// Tracker enforces the lockout policy over a Store.
type Tracker struct {
	store  Store
	cfg    *config.Config
	logger *zap.Logger
}

// NewTracker creates a ban tracker.
func NewTracker(store Store, cfg *config.Config, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// IsBanned reports whether the identity is currently locked out. Ban expiry
// is owned by the store's TTLs, so there is no clock parameter to disagree
// with. When the store is unreachable the configured policy applies: the
// default is fail-closed (treat as banned), BAN_FAIL_OPEN=true inverts it.
func (t *Tracker) IsBanned(ctx context.Context, identity string) bool {
	remaining, err := t.store.BanRemaining(ctx, identity)
	if err != nil {
		t.logger.Warn("ban store unavailable during lookup",
			zap.Error(err),
			zap.String("client_identity", identity),
			zap.Bool("fail_open", t.cfg.BanFailOpen),
		)
		return !t.cfg.BanFailOpen
	}
	return remaining > 0
}

// RecordFailure registers a failed login attempt. It returns true when this
// failure crossed the threshold and placed a ban. Store errors are logged and
// swallowed: a failure that cannot be recorded must not abort the caller's
// rejection path.
func (t *Tracker) RecordFailure(ctx context.Context, identity string) bool {
	count, err := t.store.IncrementLoginFailure(ctx, identity, int(t.cfg.BanWindow.Seconds()))
	if err != nil {
		t.logger.Warn("ban store unavailable while recording failure",
			zap.Error(err),
			zap.String("client_identity", identity),
		)
		return false
	}

	t.logger.Info("login failure recorded",
		zap.String("client_identity", identity),
		zap.Int64("failure_count", count),
		zap.Int("threshold", t.cfg.BanThreshold),
	)

	if count < int64(t.cfg.BanThreshold) {
		return false
	}

	duration := t.banDuration(ctx, identity)
	if err := t.store.PlaceBan(ctx, identity, int(duration.Seconds())); err != nil {
		t.logger.Warn("ban store unavailable while placing ban",
			zap.Error(err),
			zap.String("client_identity", identity),
		)
		return false
	}

	t.logger.Warn("client banned",
		zap.String("client_identity", identity),
		zap.Int64("failure_count", count),
		zap.Duration("ban_duration", duration),
	)
	return true
}

// RecordSuccess clears all failure state for the identity after a verified
// login.
func (t *Tracker) RecordSuccess(ctx context.Context, identity string) {
	if err := t.store.ClearLoginFailures(ctx, identity); err != nil {
		t.logger.Warn("ban store unavailable while clearing failures",
			zap.Error(err),
			zap.String("client_identity", identity),
		)
	}
}

// banDuration computes the lockout length, escalating for repeat offenders
// when an escalation factor above 1 is configured.
func (t *Tracker) banDuration(ctx context.Context, identity string) time.Duration {
	duration := t.cfg.BanDuration
	if t.cfg.BanEscalation <= 1 {
		return duration
	}

	offenses, err := t.store.RegisterOffense(ctx, identity)
	if err != nil {
		t.logger.Warn("ban store unavailable while counting offenses",
			zap.Error(err),
			zap.String("client_identity", identity),
		)
		return duration
	}

	if offenses > 1 {
		scaled := float64(duration) * math.Pow(t.cfg.BanEscalation, float64(offenses-1))
		duration = time.Duration(scaled)
	}
	if duration > maxBanDuration {
		duration = maxBanDuration
	}
	return duration
}

package session

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// rememberRecord is the server-side allowlist entry for a stay-signed-in
// token.
type rememberRecord struct {
	Identity string    `json:"identity"`
	IssuedAt time.Time `json:"issued_at"`
}

// DeriveRememberKey derives the HMAC key for stay-signed-in tokens from the
// stored credential hash and the API secret. A password change rotates the
// key and invalidates every outstanding token without bookkeeping.
func DeriveRememberKey(credentialHash, apiSecret string) []byte {
	sum := sha256.Sum256([]byte(credentialHash + "|" + apiSecret))
	return sum[:]
}

// IssueRememberToken creates a stay-signed-in token bound to the client
// identity, allowlists it server-side and returns it for the long-lived
// cookie. Only called when the user opted in.
func (m *Manager) IssueRememberToken(ctx context.Context, identity string, now time.Time) (*RememberToken, error) {
	jti := uuid.NewString()
	expiresAt := now.Add(m.cfg.RememberLifetime)

	claims := jwt.RegisteredClaims{
		ID:        jti,
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.keyFn())
	if err != nil {
		return nil, err
	}

	record, err := json.Marshal(rememberRecord{
		Identity: identity,
		IssuedAt: now,
	})
	if err != nil {
		return nil, err
	}
	if err := m.remember.PutRememberToken(ctx, jti, record, expiresAt.Sub(now)); err != nil {
		return nil, err
	}

	return &RememberToken{
		Value:     value,
		JTI:       jti,
		Identity:  identity,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateRememberToken checks a presented stay-signed-in cookie value: the
// signature must verify under the current key, the token must be unexpired
// and still allowlisted, and (unless identity binding is disabled) the bound
// client identity must match. Returns the token's jti on success.
func (m *Manager) ValidateRememberToken(ctx context.Context, cookieValue, identity string, now time.Time) (string, bool) {
	if cookieValue == "" {
		return "", false
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(cookieValue, claims,
		func(*jwt.Token) (any, error) { return m.keyFn(), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !token.Valid {
		return "", false
	}

	data, err := m.remember.GetRememberToken(ctx, claims.ID)
	if err != nil {
		m.logger.Warn("remember token store unavailable", zap.Error(err))
		return "", false
	}
	if data == nil {
		// Revoked by logout, or expired server-side.
		return "", false
	}

	var record rememberRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", false
	}

	if m.cfg.RememberBindIdentity {
		if claims.Subject != identity || record.Identity != identity {
			m.logger.Warn("remember token presented from unbound client identity",
				zap.String("client_identity", identity),
			)
			return "", false
		}
	}

	return claims.ID, true
}

// RevokeRememberToken drops the allowlist entry for a token, invalidating it
// regardless of its signature.
func (m *Manager) RevokeRememberToken(ctx context.Context, jti string) {
	if jti == "" {
		return
	}
	if err := m.remember.DeleteRememberToken(ctx, jti); err != nil {
		m.logger.Warn("failed to revoke remember token", zap.Error(err))
	}
}

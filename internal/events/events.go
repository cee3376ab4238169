// Package events defines the security events published to the message queue.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeLoginSucceeded   = "LOGIN_SUCCEEDED"
	TypeLoginFailed      = "LOGIN_FAILED"
	TypeClientBanned     = "CLIENT_BANNED"
	TypeLoggedOut        = "LOGGED_OUT"
	TypeSessionResumed   = "SESSION_RESUMED"
	TypeInstallCompleted = "INSTALL_COMPLETED"
)

// SecurityEvent is the envelope published for every auth-relevant action.
// ClientIdentity is the derived abuse-tracking identity, never a raw address;
// LoginHash is an anonymized digest of the submitted login.
type SecurityEvent struct {
	ID             string `json:"id"`
	EventType      string `json:"eventType"`
	ClientIdentity string `json:"clientIdentity,omitempty"`
	LoginHash      string `json:"loginHash,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
	OccurredAt     string `json:"occurredAt"`
}

// New builds a security event with a fresh ID and timestamp.
func New(eventType, clientIdentity, loginHash, correlationID string) SecurityEvent {
	return SecurityEvent{
		ID:             uuid.NewString(),
		EventType:      eventType,
		ClientIdentity: clientIdentity,
		LoginHash:      loginHash,
		CorrelationID:  correlationID,
		OccurredAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

// Publisher sends events to the security queue. Implementations must be safe
// for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

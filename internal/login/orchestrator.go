package login

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shelfmark/auth-gateway/internal/config"
	"github.com/shelfmark/auth-gateway/internal/credential"
	"github.com/shelfmark/auth-gateway/internal/events"
	"github.com/shelfmark/auth-gateway/internal/session"
)

// BanTracker is the lockout collaborator.
type BanTracker interface {
	IsBanned(ctx context.Context, identity string) bool
	// RecordFailure returns true when this failure triggered a ban.
	RecordFailure(ctx context.Context, identity string) bool
	RecordSuccess(ctx context.Context, identity string)
}

// CredentialSource supplies the single stored credential.
type CredentialSource interface {
	Credential() credential.Credential
}

// Orchestrator makes the request-level authentication decision.
type Orchestrator struct {
	bans     BanTracker
	creds    CredentialSource
	sessions *session.Manager
	events   events.Publisher
	cfg      *config.Config
	logger   *zap.Logger
}

// NewOrchestrator creates a login orchestrator.
func NewOrchestrator(bans BanTracker, creds CredentialSource, sessions *session.Manager, publisher events.Publisher, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		bans:     bans,
		creds:    creds,
		sessions: sessions,
		events:   publisher,
		cfg:      cfg,
		logger:   logger,
	}
}

// AttemptLogin runs the full login decision for a submitted credential pair.
// Order matters: the ban check precedes everything (a banned client never
// touches credential state), the CSRF check precedes the credential check
// (forged requests are not guessing signals), and only a verified failure
// feeds the ban tracker.
func (o *Orchestrator) AttemptLogin(ctx context.Context, att Attempt, s *session.State) Result {
	if o.bans.IsBanned(ctx, att.Identity) {
		o.logger.Warn("login attempt from banned client",
			zap.String("correlation_id", att.CorrelationID),
			zap.String("client_identity", att.Identity),
		)
		return Result{Outcome: OutcomeBanned, Session: s}
	}

	if !o.sessions.CheckCSRFToken(ctx, s, att.CSRFToken) {
		o.logger.Warn("login attempt with invalid csrf token",
			zap.String("correlation_id", att.CorrelationID),
			zap.String("client_identity", att.Identity),
		)
		return Result{Outcome: OutcomeRejected, Reason: ReasonInvalidToken, Session: s}
	}

	if !credential.Verify(att.Login, att.Password, o.creds.Credential()) {
		banned := o.bans.RecordFailure(ctx, att.Identity)

		o.publish(ctx, events.New(events.TypeLoginFailed, att.Identity, credential.Anonymize(att.Login), att.CorrelationID))
		if banned {
			o.publish(ctx, events.New(events.TypeClientBanned, att.Identity, "", att.CorrelationID))
		}

		o.logger.Warn("login attempt with bad credentials",
			zap.String("correlation_id", att.CorrelationID),
			zap.String("client_identity", att.Identity),
			zap.String("login_hash", credential.Anonymize(att.Login)),
		)
		return Result{Outcome: OutcomeRejected, Reason: ReasonBadCredentials, Session: s}
	}

	o.bans.RecordSuccess(ctx, att.Identity)

	now := time.Now()
	s.Authenticated = true
	s.Login = att.Login
	s.ClientIdentity = att.Identity
	s.StaySignedIn = att.Remember

	var remember *session.RememberToken
	if att.Remember {
		token, err := o.sessions.IssueRememberToken(ctx, att.Identity, now)
		if err != nil {
			// Losing "stay signed in" is recoverable; losing the login
			// is not. Proceed without the token.
			o.logger.Warn("failed to issue remember token",
				zap.Error(err),
				zap.String("correlation_id", att.CorrelationID),
			)
		} else {
			remember = token
			s.RememberJTI = token.JTI
		}
	}
	o.sessions.Extend(s)

	// Privilege transition: the pre-login identifier must stop resolving.
	if err := o.sessions.Regenerate(ctx, s); err != nil {
		o.logger.Error("session store unavailable after verified login",
			zap.Error(err),
			zap.String("correlation_id", att.CorrelationID),
		)
		return Result{Outcome: OutcomeRejected, Reason: ReasonSessionUnavailable, Session: s}
	}

	o.publish(ctx, events.New(events.TypeLoginSucceeded, att.Identity, credential.Anonymize(att.Login), att.CorrelationID))

	o.logger.Info("login succeeded",
		zap.String("correlation_id", att.CorrelationID),
		zap.String("client_identity", att.Identity),
		zap.Bool("stay_signed_in", att.Remember),
	)

	return Result{Outcome: OutcomeSuccess, Session: s, RememberToken: remember}
}

// CheckLoginState re-derives the authentication state for a request: an
// active server session wins, then a valid stay-signed-in token silently
// re-establishes an authenticated session. The remember fallback regenerates
// the session identifier so a cookie value never crosses trust levels.
func (o *Orchestrator) CheckLoginState(ctx context.Context, sessionCookie, rememberCookie, identityStr, correlationID string) *session.State {
	now := time.Now()
	s := o.sessions.Current(ctx, sessionCookie)

	if s.Authenticated {
		switch {
		case !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt):
			// Extended session ran out.
			o.demote(ctx, s)
		case !s.StaySignedIn && s.ClientIdentity != identityStr:
			// Address change mid-session without the stay-signed-in
			// opt-in smells like a stolen cookie.
			o.logger.Warn("session presented from different client identity",
				zap.String("correlation_id", correlationID),
				zap.String("client_identity", identityStr),
			)
			o.demote(ctx, s)
		default:
			return s
		}
	}

	if rememberCookie == "" {
		return s
	}

	jti, ok := o.sessions.ValidateRememberToken(ctx, rememberCookie, identityStr, now)
	if !ok {
		return s
	}

	s.Authenticated = true
	s.Login = o.creds.Credential().Login
	s.ClientIdentity = identityStr
	s.StaySignedIn = true
	s.RememberJTI = jti
	o.sessions.Extend(s)

	if err := o.sessions.Regenerate(ctx, s); err != nil {
		o.logger.Warn("session store unavailable while resuming session",
			zap.Error(err),
			zap.String("correlation_id", correlationID),
		)
		return o.sessions.Current(ctx, "")
	}

	o.publish(ctx, events.New(events.TypeSessionResumed, identityStr, "", correlationID))

	o.logger.Info("session resumed from stay-signed-in token",
		zap.String("correlation_id", correlationID),
		zap.String("client_identity", identityStr),
	)
	return s
}

// Logout destroys the session, revokes the backing stay-signed-in token and
// leaves the caller anonymous.
func (o *Orchestrator) Logout(ctx context.Context, s *session.State, identityStr, correlationID string) {
	if s.RememberJTI != "" {
		o.sessions.RevokeRememberToken(ctx, s.RememberJTI)
	}
	if err := o.sessions.Destroy(ctx, s); err != nil {
		o.logger.Warn("failed to destroy session on logout",
			zap.Error(err),
			zap.String("correlation_id", correlationID),
		)
	}

	o.publish(ctx, events.New(events.TypeLoggedOut, identityStr, "", correlationID))

	o.logger.Info("logged out",
		zap.String("correlation_id", correlationID),
		zap.String("client_identity", identityStr),
	)
}

// demote strips authentication from a session in place.
func (o *Orchestrator) demote(ctx context.Context, s *session.State) {
	if err := o.sessions.Destroy(ctx, s); err != nil {
		o.logger.Warn("failed to destroy demoted session", zap.Error(err))
	}
	fresh := o.sessions.Current(ctx, "")
	*s = *fresh
}

// publish sends a security event, fail-open: a broker outage never blocks
// authentication.
func (o *Orchestrator) publish(ctx context.Context, event events.SecurityEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Warn("failed to publish security event",
			zap.Error(err),
			zap.String("event_type", event.EventType),
		)
	}
}

package authkit

import (
	"context"
	"errors"
	"strconv"

	"github.com/dealerdesk/authkit/session"
)

// Sessions lists the caller's live device sessions, newest first. Tokens
// are redacted to their last eight characters; the entry whose bearer
// matches currentToken is flagged IsCurrent.
func (e *Engine) Sessions(ctx context.Context, userID, currentToken string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.sessions.List(ctx, userID, currentToken)
}

// RevokeSession deletes one of the caller's sessions by id. A session id
// that exists but belongs to someone else fails with [ErrSessionMismatch];
// an unknown id fails with [ErrSessionNotFound].
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	err := e.sessions.RevokeOne(ctx, userID, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		err = ErrSessionNotFound
	case errors.Is(err, session.ErrNotOwned):
		err = ErrSessionMismatch
	default:
		return err
	}

	if err != nil {
		e.emitAudit(ctx, auditEventSessionRevoked, false, userID, sessionID, err, nil)
		return err
	}

	if e.metrics != nil {
		e.metrics.SessionsRevoked.Inc()
	}
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, sessionID, nil, nil)
	return nil
}

// RevokeOtherSessions signs the user out everywhere except the device
// holding currentToken. Refresh tokens are left alone so the surviving
// device can keep refreshing past its current access token.
func (e *Engine) RevokeOtherSessions(ctx context.Context, userID, currentToken string) (int64, error) {
	return e.revokeSessions(ctx, userID, currentToken, false)
}

// RevokeAllSessions signs the user out of every device, the current one
// included.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	return e.revokeSessions(ctx, userID, "", true)
}

func (e *Engine) revokeSessions(ctx context.Context, userID, currentToken string, includeCurrent bool) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	removed, err := e.sessions.RevokeAll(ctx, userID, currentToken, includeCurrent)
	if err != nil {
		return 0, err
	}
	// Refresh chains are torn down only on a full sign-out; a keep-current
	// revoke must not log the caller out of their own device.
	if includeCurrent {
		if _, err := e.refresh.RevokeAll(ctx, userID); err != nil {
			return removed, err
		}
	}

	if e.metrics != nil {
		e.metrics.SessionsRevoked.Add(float64(removed))
	}
	e.emitAudit(ctx, auditEventSessionsRevokedAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"removed":         strconv.FormatInt(removed, 10),
			"include_current": strconv.FormatBool(includeCurrent),
		}
	})
	return removed, nil
}

// AuthenticateSession resolves a stored session bearer token to its
// identity. Unlike [Engine.Authenticate] this consults the session
// registry, so a revoked session fails even while its JWT is unexpired.
func (e *Engine) AuthenticateSession(ctx context.Context, token string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	sess, err := e.sessions.ResolveToken(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	identity, err := e.store.Identities().GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if !identity.Active {
		return nil, ErrIdentityInactive
	}
	return identityView(identity), nil
}

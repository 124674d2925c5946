package authkit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dealerdesk/authkit/jwt"
	"github.com/dealerdesk/authkit/permission"
	"github.com/dealerdesk/authkit/refresh"
	"github.com/dealerdesk/authkit/session"
	"github.com/dealerdesk/authkit/store"
)

// Engine is the embedded authentication and authorization facade. One
// instance serves the whole process; every method is safe for concurrent
// use. Construct it with [New].
type Engine struct {
	config    Config
	store     store.Store
	tokens    *jwt.Manager
	hasher    Hasher
	totp      *totpManager
	refresh   *refresh.Manager
	sessions  *session.Registry
	resolver  *permission.Resolver
	rbac      *permission.Manager
	broadcast *permission.Broadcaster
	audit     *auditDispatcher
	metrics   *Metrics
	now       func() time.Time
}

// Close flushes the audit dispatcher and stops the invalidation
// listener. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.broadcast != nil {
		e.broadcast.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// SignIn verifies an email/password pair and, when the account has
// two-factor enabled, a TOTP or backup code. Every credential failure
// surfaces as [ErrInvalidCredentials] regardless of which step failed;
// only a correct password reveals anything further (inactive account,
// second factor required).
//
// When the account requires a second factor and code is empty, SignIn
// returns a result with TwoFactorRequired set and no tokens. That is
// not an error.
func (e *Engine) SignIn(ctx context.Context, email, password, code string) (*SignInResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, e.failSignIn(ctx, "", ErrInvalidCredentials)
	}

	identity, err := e.store.Identities().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Hash anyway so missing accounts cost the same as wrong
			// passwords.
			_, _ = e.hasher.Hash(password)
			return nil, e.failSignIn(ctx, "", ErrInvalidCredentials)
		}
		return nil, err
	}

	if identity.PasswordHash == "" {
		return nil, e.failSignIn(ctx, identity.ID, ErrInvalidCredentials)
	}

	ok, err := e.hasher.Verify(password, identity.PasswordHash)
	if err != nil || !ok {
		return nil, e.failSignIn(ctx, identity.ID, ErrInvalidCredentials)
	}

	// Inactive is only revealed after the password checks out.
	if !identity.Active {
		return nil, e.failSignIn(ctx, identity.ID, ErrIdentityInactive)
	}

	if e.config.Password.UpgradeOnLogin {
		if stale, err := e.hasher.NeedsRehash(identity.PasswordHash); err == nil && stale {
			if newHash, err := e.hasher.Hash(password); err == nil {
				_ = e.store.Identities().UpdatePasswordHash(ctx, identity.ID, newHash)
			}
		}
	}

	if identity.TwoFactorOn {
		if strings.TrimSpace(code) == "" {
			if e.metrics != nil {
				e.metrics.TwoFactorChallenges.Inc()
			}
			e.emitAudit(ctx, auditEventTwoFactorChallenge, true, identity.ID, "", nil, nil)
			return &SignInResult{TwoFactorRequired: true}, nil
		}
		usedBackup, err := e.verifySecondFactor(ctx, identity, code)
		if err != nil {
			if e.metrics != nil {
				e.metrics.TwoFactorFailures.Inc()
			}
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, identity.ID, "", err, nil)
			return nil, e.failSignIn(ctx, identity.ID, ErrInvalidCredentials)
		}
		if usedBackup {
			if e.metrics != nil {
				e.metrics.BackupCodesUsed.Inc()
			}
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, identity.ID, "", nil, nil)
		}
	}

	return e.issueSignIn(ctx, identity)
}

// verifySecondFactor accepts either a live TOTP code or an unused backup
// code. It reports whether a backup code was consumed.
func (e *Engine) verifySecondFactor(ctx context.Context, identity *store.Identity, code string) (bool, error) {
	secret, err := e.totp.DecodeSecret(identity.TwoFactorSecret)
	if err == nil && len(secret) > 0 {
		ok, _, verr := e.totp.VerifyCode(secret, code, e.now())
		if verr == nil && ok {
			return false, nil
		}
	}

	// Fall back to backup codes: scan the stored hash set, then consume
	// the matched hash atomically so a replayed code loses the race.
	canonical := canonicalizeBackupCode(code)
	if len(canonical) != e.config.TOTP.BackupCodeLength {
		return false, ErrTwoFactorInvalid
	}
	hashes, err := e.store.Identities().GetBackupCodes(ctx, identity.ID)
	if err != nil {
		return false, err
	}
	for _, h := range hashes {
		ok, verr := e.hasher.Verify(canonical, h)
		if verr != nil || !ok {
			continue
		}
		consumed, cerr := e.store.Identities().ConsumeBackupCode(ctx, identity.ID, h)
		if cerr != nil {
			return false, cerr
		}
		if consumed {
			return true, nil
		}
		// Another request spent this code first.
		return false, ErrTwoFactorInvalid
	}
	return false, ErrTwoFactorInvalid
}

func (e *Engine) issueSignIn(ctx context.Context, identity *store.Identity) (*SignInResult, error) {
	now := e.now()

	accessToken, err := e.tokens.SignAccess(identity.ID, identity.Email, identity.Role, now)
	if err != nil {
		return nil, err
	}
	refreshToken, _, err := e.refresh.Issue(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Create(ctx, identity.ID, accessToken,
		clientIPFromContext(ctx), userAgentFromContext(ctx))
	if err != nil {
		return nil, err
	}

	_ = e.store.Identities().UpdateLastLogin(ctx, identity.ID, now)
	loginAt := now
	identity.LastLoginAt = &loginAt

	if e.metrics != nil {
		e.metrics.SignInSuccess.Inc()
	}
	e.emitAudit(ctx, auditEventSignInSuccess, true, identity.ID, sess.ID, nil, nil)

	return &SignInResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Identity:     identityView(identity),
	}, nil
}

func (e *Engine) failSignIn(ctx context.Context, userID string, err error) error {
	if e.metrics != nil {
		e.metrics.SignInFailure.Inc()
	}
	e.emitAudit(ctx, auditEventSignInFailure, false, userID, "", err, nil)
	return err
}

// Authenticate validates a bearer access token and returns the identity
// it belongs to. All token-shaped failures collapse to [ErrTokenInvalid].
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	identity, err := e.store.Identities().GetByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !identity.Active {
		return nil, ErrIdentityInactive
	}

	return identityView(identity), nil
}

// Refresh exchanges a refresh token for a new access/refresh pair,
// revoking the old refresh token in the same step. A replayed token is
// rejected and recorded as reuse. Callers receive [ErrTokenInvalid] on
// every failure path.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	rec, err := e.refresh.Validate(ctx, refreshToken)
	if err != nil {
		return nil, e.failRefresh(ctx, "", err)
	}

	identity, err := e.store.Identities().GetByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, e.failRefresh(ctx, rec.UserID, refresh.ErrNotFound)
		}
		return nil, err
	}
	if !identity.Active {
		return nil, e.failRefresh(ctx, identity.ID, ErrIdentityInactive)
	}

	nextToken, _, err := e.refresh.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, e.failRefresh(ctx, identity.ID, err)
	}

	// Claims come from current identity state, so role changes take
	// effect on the next refresh.
	accessToken, err := e.tokens.SignAccess(identity.ID, identity.Email, identity.Role, e.now())
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RefreshSuccess.Inc()
	}
	e.emitAudit(ctx, auditEventRefreshSuccess, true, identity.ID, "", nil, nil)

	return &TokenPair{AccessToken: accessToken, RefreshToken: nextToken}, nil
}

func (e *Engine) failRefresh(ctx context.Context, userID string, cause error) error {
	if errors.Is(cause, refresh.ErrRevoked) {
		if e.metrics != nil {
			e.metrics.RefreshReuse.Inc()
		}
		e.emitAudit(ctx, auditEventRefreshReuse, false, userID, "", ErrTokenInvalid, nil)
		return ErrTokenInvalid
	}

	if e.metrics != nil {
		e.metrics.RefreshFailure.Inc()
	}
	if errors.Is(cause, ErrIdentityInactive) {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, "", ErrIdentityInactive, nil)
	} else {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, "", ErrTokenInvalid, nil)
	}
	return ErrTokenInvalid
}

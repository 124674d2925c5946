package authkit

import (
	"context"
	"strconv"
)

// ChangePassword rotates the user's password. The old password must
// verify, the new one must differ from it, and on success every refresh
// token and device session is revoked so all devices re-authenticate.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	identity, err := e.store.Identities().GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(oldPassword, identity.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChangeDeny, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if newPassword == "" {
		return ErrInvalidCredentials
	}
	if reused, err := e.hasher.Verify(newPassword, identity.PasswordHash); err == nil && reused {
		e.emitAudit(ctx, auditEventPasswordChangeDeny, false, userID, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.store.Identities().UpdatePasswordHash(ctx, userID, newHash); err != nil {
		return err
	}

	revokedTokens, _ := e.refresh.RevokeAll(ctx, userID)
	removedSessions, _ := e.sessions.RevokeAll(ctx, userID, "", true)

	e.emitAudit(ctx, auditEventPasswordChanged, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"refresh_revoked":  strconv.FormatInt(revokedTokens, 10),
			"sessions_removed": strconv.FormatInt(removedSessions, 10),
		}
	})
	return nil
}

package authkit

import "context"

// RegenerateBackupCodes replaces the user's backup-code set, invalidating
// every previously issued code. Two-factor must already be enabled and
// the caller must present a live TOTP code.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.store.Identities().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !identity.TwoFactorOn {
		return nil, ErrTwoFactorNotEnabled
	}
	if err := e.checkTOTP(identity.TwoFactorSecret, code); err != nil {
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, userID, "", err, nil)
		return nil, err
	}

	return e.issueBackupCodes(ctx, userID)
}

// BackupCodesRemaining reports how many unused backup codes the user
// still holds. Account pages surface this so users regenerate before
// running out.
func (e *Engine) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	hashes, err := e.store.Identities().GetBackupCodes(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(hashes), nil
}

// issueBackupCodes mints a fresh set, stores only the hashes, and
// returns the formatted plaintexts.
func (e *Engine) issueBackupCodes(ctx context.Context, userID string) ([]string, error) {
	count := e.config.TOTP.BackupCodeCount
	length := e.config.TOTP.BackupCodeLength

	plains := make([]string, 0, count)
	hashes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := newBackupCode(length)
		if err != nil {
			return nil, err
		}
		h, err := e.hasher.Hash(code)
		if err != nil {
			return nil, err
		}
		plains = append(plains, formatBackupCode(code))
		hashes = append(hashes, h)
	}

	if err := e.store.Identities().ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventBackupCodesIssued, true, userID, "", nil, nil)
	return plains, nil
}

package authkit

import (
	"context"
	"strings"
)

// SetupTwoFactor generates a fresh TOTP secret for the user and stores
// it in a pending (disabled) state. The returned setup carries the
// base32 secret and an otpauth:// URI for QR rendering; neither is
// retrievable later.
func (e *Engine) SetupTwoFactor(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.store.Identities().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	_, secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.store.Identities().SetTwoFactor(ctx, userID, secret, false); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactorSetup, true, userID, "", nil, nil)
	return &TwoFactorSetup{
		Secret: secret,
		URI:    e.totp.ProvisionURI(secret, identity.Email),
	}, nil
}

// VerifyTwoFactorSetup confirms enrollment: the user proves possession
// of the pending secret with a live code, two-factor flips on, and a
// fresh set of backup codes is issued. The formatted plaintext codes are
// returned exactly once.
func (e *Engine) VerifyTwoFactorSetup(ctx context.Context, userID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.store.Identities().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if identity.TwoFactorSecret == "" {
		return nil, ErrTwoFactorNotConfigured
	}

	if err := e.checkTOTP(identity.TwoFactorSecret, code); err != nil {
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, userID, "", err, nil)
		return nil, err
	}

	if err := e.store.Identities().SetTwoFactor(ctx, userID, identity.TwoFactorSecret, true); err != nil {
		return nil, err
	}

	codes, err := e.issueBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, userID, "", nil, nil)
	return codes, nil
}

// DisableTwoFactor turns two-factor off and destroys the secret and all
// backup codes. The password is always required; when two-factor is
// currently on, a valid TOTP or backup code is required as well.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, password, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	identity, err := e.store.Identities().GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(password, identity.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	if identity.TwoFactorOn {
		if _, err := e.verifySecondFactor(ctx, identity, code); err != nil {
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, userID, "", err, nil)
			return ErrTwoFactorInvalid
		}
	}

	if err := e.store.Identities().SetTwoFactor(ctx, userID, "", false); err != nil {
		return err
	}
	if err := e.store.Identities().ReplaceBackupCodes(ctx, userID, nil); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, userID, "", nil, nil)
	return nil
}

// checkTOTP verifies a live code against the stored base32 secret.
func (e *Engine) checkTOTP(secretBase32, code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrTwoFactorInvalid
	}
	secret, err := e.totp.DecodeSecret(secretBase32)
	if err != nil {
		return ErrTwoFactorInvalid
	}
	ok, _, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil || !ok {
		return ErrTwoFactorInvalid
	}
	return nil
}

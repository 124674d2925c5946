package authkit

import "errors"

var (
	// ErrInvalidCredentials is the uniform sign-in rejection. Unknown
	// email, missing hash, and wrong password all surface as this error.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrIdentityInactive is returned when the account is deactivated.
	ErrIdentityInactive = errors.New("identity inactive")
	// ErrTwoFactorInvalid covers wrong TOTP codes and unknown or spent
	// backup codes.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
	// ErrTwoFactorNotEnabled is returned by two-factor operations that
	// require an enabled second factor.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrTwoFactorNotConfigured is returned when setup verification runs
	// before a pending secret exists.
	ErrTwoFactorNotConfigured = errors.New("two-factor not configured")
	// ErrTokenInvalid is the uniform token rejection for both access and
	// refresh paths. Bad signatures, unknown records, revoked chains, and
	// expired tokens are indistinguishable to callers.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionMismatch is returned when a session exists but belongs to
	// a different user. Ownership is enforced for every caller, including
	// administrators.
	ErrSessionMismatch = errors.New("session not owned by user")
	// ErrPasswordReuse rejects a password change to the current password.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrPermissionDenied is returned by Require-style authorization.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrEngineNotReady is returned when a method runs against a nil or
	// incompletely built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

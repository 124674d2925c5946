package authkit

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSignInSuccess       = "signin_success"
	auditEventSignInFailure       = "signin_failure"
	auditEventTwoFactorChallenge  = "two_factor_challenge"
	auditEventTwoFactorFailure    = "two_factor_failure"
	auditEventTwoFactorSetup      = "two_factor_setup_requested"
	auditEventTwoFactorEnabled    = "two_factor_enabled"
	auditEventTwoFactorDisabled   = "two_factor_disabled"
	auditEventBackupCodeUsed      = "backup_code_used"
	auditEventBackupCodesIssued   = "backup_codes_issued"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshInvalid      = "refresh_invalid"
	auditEventRefreshReuse        = "refresh_reuse_detected"
	auditEventSessionRevoked      = "session_revoked"
	auditEventSessionsRevokedAll  = "sessions_revoked_all"
	auditEventPasswordChanged     = "password_changed"
	auditEventPasswordChangeDeny  = "password_change_denied"
	auditEventPermissionDenied    = "permission_denied"
	auditEventRoleMutation        = "role_mutation"
	auditEventMaintenanceCleanup  = "maintenance_cleanup"
)

// AuditErrorCode is the stable machine-readable error tag carried on
// audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrIdentityInactive   AuditErrorCode = "identity_inactive"
	auditErrTwoFactorInvalid   AuditErrorCode = "two_factor_invalid"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrSessionMismatch    AuditErrorCode = "session_mismatch"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrPermissionDenied   AuditErrorCode = "permission_denied"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrIdentityInactive):
		return auditErrIdentityInactive
	case errors.Is(err, ErrTwoFactorInvalid),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrTwoFactorNotConfigured):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionMismatch):
		return auditErrSessionMismatch
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	default:
		return auditErrInternal
	}
}

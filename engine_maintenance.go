package authkit

import (
	"context"
	"strconv"
)

// CleanupResult reports what a maintenance sweep removed.
type CleanupResult struct {
	RefreshTokens int64
	Sessions      int64
}

// CleanupExpired deletes refresh-token records and sessions past their
// expiry. Run it from a periodic job; the engine never deletes lazily.
func (e *Engine) CleanupExpired(ctx context.Context) (*CleanupResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	tokens, err := e.refresh.CleanupExpired(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := e.sessions.PurgeExpired(ctx)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{RefreshTokens: tokens, Sessions: sessions}
	e.emitAudit(ctx, auditEventMaintenanceCleanup, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"refresh_tokens": strconv.FormatInt(tokens, 10),
			"sessions":       strconv.FormatInt(sessions, 10),
		}
	})
	return result, nil
}

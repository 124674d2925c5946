package refresh

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/dealerdesk/authkit/internal"
	"github.com/dealerdesk/authkit/internal/ids"
	"github.com/dealerdesk/authkit/jwt"
	"github.com/dealerdesk/authkit/store"
)

// Validation failure taxonomy. The authentication gateway collapses all
// of these to one uniform rejection before anything leaves the backend;
// keeping them distinct here feeds audit events and metrics.
var (
	// ErrInvalid covers bad signatures and tokens whose digest does not
	// match the stored record.
	ErrInvalid = errors.New("refresh: invalid token")
	// ErrNotFound means the record id inside a validly signed token does
	// not exist, typically after cleanup deleted an expired chain.
	ErrNotFound = errors.New("refresh: record not found")
	// ErrRevoked covers single-use replay: the record was already spent
	// or explicitly revoked.
	ErrRevoked = errors.New("refresh: token revoked")
	// ErrExpired means the record outlived its 30-day window.
	ErrExpired = errors.New("refresh: token expired")
)

// Manager implements the refresh-token rotation protocol over a
// RefreshTokenStore. Tokens are signed JWT wrappers naming a server-side
// record; the record stores only a digest of the full token, so neither a
// database leak nor a signing-key leak alone is enough to mint a token
// that validates.
type Manager struct {
	tokens *jwt.Manager
	st     store.RefreshTokenStore
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(tokens *jwt.Manager, st store.RefreshTokenStore, ttl time.Duration, opts ...Option) (*Manager, error) {
	if tokens == nil {
		return nil, errors.New("refresh: token manager required")
	}
	if st == nil {
		return nil, errors.New("refresh: store required")
	}
	if ttl <= 0 {
		return nil, errors.New("refresh: ttl must be > 0")
	}
	m := &Manager{tokens: tokens, st: st, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue mints a fresh record and its signed token for userID.
func (m *Manager) Issue(ctx context.Context, userID string) (string, *store.RefreshRecord, error) {
	token, rec, err := m.mint(userID)
	if err != nil {
		return "", nil, err
	}
	if err := m.st.Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("refresh: create record: %w", err)
	}
	return token, rec, nil
}

// Validate checks a presented token against its server-side record and
// returns the record when it is live. Checks are ordered: signature,
// record existence, digest match, revocation, expiry.
func (m *Manager) Validate(ctx context.Context, token string) (*store.RefreshRecord, error) {
	claims, err := m.tokens.ParseRefresh(token)
	if err != nil {
		return nil, ErrInvalid
	}

	rec, err := m.st.GetByID(ctx, claims.RTID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("refresh: load record: %w", err)
	}

	digest := internal.HashToken(token)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(rec.SecretHash)) != 1 {
		return nil, ErrInvalid
	}
	if rec.UserID != claims.UID {
		return nil, ErrInvalid
	}
	if rec.RevokedAt != nil {
		return nil, ErrRevoked
	}
	if !rec.ExpiresAt.After(m.now()) {
		return nil, ErrExpired
	}
	return rec, nil
}

// Rotate retires the presented token and returns its replacement. The
// store performs revoke-old, insert-new, and chain linking in one
// transaction; when two rotations race on the same record exactly one
// wins and the loser observes ErrRevoked.
func (m *Manager) Rotate(ctx context.Context, token string) (string, *store.RefreshRecord, error) {
	old, err := m.Validate(ctx, token)
	if err != nil {
		return "", nil, err
	}

	nextToken, next, err := m.mint(old.UserID)
	if err != nil {
		return "", nil, err
	}
	if err := m.st.Rotate(ctx, old.ID, next); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return "", nil, ErrRevoked
		case errors.Is(err, store.ErrNotFound):
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("refresh: rotate: %w", err)
	}
	return nextToken, next, nil
}

// Revoke retires the record behind a presented token. Revoking an
// already-revoked token is a no-op.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	claims, err := m.tokens.ParseRefresh(token)
	if err != nil {
		return ErrInvalid
	}
	if err := m.st.Revoke(ctx, claims.RTID, m.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("refresh: revoke: %w", err)
	}
	return nil
}

// RevokeAll retires every live record for the user and reports how many
// were affected.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := m.st.RevokeAllForUser(ctx, userID, m.now())
	if err != nil {
		return 0, fmt.Errorf("refresh: revoke all: %w", err)
	}
	return n, nil
}

// CleanupExpired deletes records whose expiry has passed, revoked or not.
// Revoked-but-unexpired records are kept so replay of a rotated token
// stays observable for the full token lifetime.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.st.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("refresh: cleanup: %w", err)
	}
	return n, nil
}

func (m *Manager) mint(userID string) (string, *store.RefreshRecord, error) {
	now := m.now()
	rec := &store.RefreshRecord{
		ID:        ids.New(),
		UserID:    userID,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	token, err := m.tokens.SignRefresh(userID, rec.ID, now)
	if err != nil {
		return "", nil, fmt.Errorf("refresh: sign: %w", err)
	}
	rec.SecretHash = internal.HashToken(token)
	return token, rec, nil
}

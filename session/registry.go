package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dealerdesk/authkit/store"
)

const redactSuffixLen = 8

var (
	// ErrNotFound means the session id does not exist.
	ErrNotFound = errors.New("session: not found")
	// ErrNotOwned means the session exists but belongs to another user.
	// Ownership is checked regardless of the caller's privilege level.
	ErrNotOwned = errors.New("session: not owned by user")
)

// Info is the redacted listing entry returned to callers. Token holds
// only the trailing characters of the bearer value.
type Info struct {
	ID          string
	TokenSuffix string
	IPAddress   string
	UserAgent   string
	IsCurrent   bool
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Registry manages device sessions over a SessionStore.
type Registry struct {
	st  store.SessionStore
	ttl time.Duration
	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(st store.SessionStore, ttl time.Duration, opts ...Option) (*Registry, error) {
	if st == nil {
		return nil, errors.New("session: store required")
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be > 0")
	}
	r := &Registry{st: st, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Create records a new device session holding the given bearer token.
func (r *Registry) Create(ctx context.Context, userID, token, ip, userAgent string) (*store.Session, error) {
	now := r.now()
	sess := &store.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		IPAddress: ip,
		UserAgent: userAgent,
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
	}
	if err := r.st.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// ResolveToken returns the live session holding the bearer token, or
// ErrNotFound when no such session exists or it has expired.
func (r *Registry) ResolveToken(ctx context.Context, token string) (*store.Session, error) {
	sess, err := r.st.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: resolve token: %w", err)
	}
	if !sess.ExpiresAt.After(r.now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List returns the user's non-expired sessions, newest first, with
// tokens redacted. currentToken marks which entry the caller is speaking
// through; an empty value simply marks none as current.
func (r *Registry) List(ctx context.Context, userID, currentToken string) ([]Info, error) {
	sessions, err := r.st.ListActive(ctx, userID, r.now())
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}

	out := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, Info{
			ID:          sess.ID,
			TokenSuffix: redactToken(sess.Token),
			IPAddress:   sess.IPAddress,
			UserAgent:   sess.UserAgent,
			IsCurrent:   currentToken != "" && sess.Token == currentToken,
			ExpiresAt:   sess.ExpiresAt,
			CreatedAt:   sess.CreatedAt,
		})
	}
	return out, nil
}

// RevokeOne deletes a single session after verifying it belongs to
// userID. The not-found and not-owned cases stay distinct so the caller
// can log them apart; HTTP layers typically collapse both to 404.
func (r *Registry) RevokeOne(ctx context.Context, userID, sessionID string) error {
	sess, err := r.st.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("session: load: %w", err)
	}
	if sess.UserID != userID {
		return ErrNotOwned
	}
	if err := r.st.Delete(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// RevokeAll deletes the user's sessions and reports how many went. When
// includeCurrent is false the session holding currentToken survives,
// which is the "sign out everywhere else" flow.
func (r *Registry) RevokeAll(ctx context.Context, userID, currentToken string, includeCurrent bool) (int64, error) {
	keep := currentToken
	if includeCurrent {
		keep = ""
	}
	n, err := r.st.DeleteAllForUser(ctx, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("session: revoke all: %w", err)
	}
	return n, nil
}

// PurgeExpired removes expired session rows.
func (r *Registry) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := r.st.DeleteExpired(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("session: purge: %w", err)
	}
	return n, nil
}

func redactToken(token string) string {
	if len(token) <= redactSuffixLen {
		return token
	}
	return token[len(token)-redactSuffixLen:]
}

package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source supplies the persisted authorization state the Resolver works
// from. Both methods must reflect committed database state.
type Source interface {
	// PermissionCodes returns the user's effective permission codes
	// across all assigned roles.
	PermissionCodes(ctx context.Context, userID string) ([]string, error)
	// RoleLabel returns the user's coarse role label, used only for the
	// administrative bypass.
	RoleLabel(ctx context.Context, userID string) (string, error)
}

// Resolver answers permission checks through a read-through cache.
type Resolver struct {
	source     Source
	cache      Cache
	bypassRole string
	now        func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the time source. Tests use this to step through
// cache TTL boundaries.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithCache replaces the default in-memory TTL cache.
func WithCache(c Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithBypassRole sets the role label that short-circuits every check to
// authorized. An empty label disables the bypass.
func WithBypassRole(label string) ResolverOption {
	return func(r *Resolver) { r.bypassRole = label }
}

func NewResolver(source Source, ttl time.Duration, opts ...ResolverOption) (*Resolver, error) {
	if source == nil {
		return nil, errors.New("permission: source required")
	}
	r := &Resolver{
		source: source,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewMemoryCache(ttl)
	}
	return r, nil
}

// UserPermissions returns the user's effective permission codes, reading
// through the cache. A database failure is never masked by a stale entry:
// only a successful fetch populates the cache.
func (r *Resolver) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	now := r.now()
	if codes, ok := r.cache.Get(userID, now); ok {
		cacheHits.Inc()
		return codes, nil
	}
	cacheMisses.Inc()

	codes, err := r.source.PermissionCodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("permission: resolve %s: %w", userID, err)
	}
	r.cache.Put(userID, codes, now)
	return codes, nil
}

// Check reports whether the user holds the permission. The administrative
// bypass is evaluated before any permission lookup so an admin identity
// is authorized even with an empty grant set.
func (r *Resolver) Check(ctx context.Context, userID, code string) (bool, error) {
	if r.bypassRole != "" {
		label, err := r.source.RoleLabel(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("permission: role lookup %s: %w", userID, err)
		}
		if label == r.bypassRole {
			return true, nil
		}
	}

	codes, err := r.UserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return Match(codes, code), nil
}

// CheckAll reports whether the user holds every listed permission.
func (r *Resolver) CheckAll(ctx context.Context, userID string, codes ...string) (bool, error) {
	for _, code := range codes {
		ok, err := r.Check(ctx, userID, code)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// CheckAny reports whether the user holds at least one listed permission.
func (r *Resolver) CheckAny(ctx context.Context, userID string, codes ...string) (bool, error) {
	for _, code := range codes {
		ok, err := r.Check(ctx, userID, code)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops the user's cached permission set.
func (r *Resolver) Invalidate(userID string) {
	r.cache.Invalidate(userID)
	cacheInvalidations.Inc()
}

// InvalidateAll empties the cache.
func (r *Resolver) InvalidateAll() {
	r.cache.InvalidateAll()
	cacheInvalidations.Inc()
}

// Match tests a required code against a grant set: exact match first,
// then the "module:*" wildcard, then "*:*".
func Match(granted []string, required string) bool {
	for _, g := range granted {
		if g == required {
			return true
		}
	}

	module, _, ok := SplitCode(required)
	if ok {
		moduleWildcard := module + ":*"
		for _, g := range granted {
			if g == moduleWildcard {
				return true
			}
		}
	}

	for _, g := range granted {
		if g == "*:*" {
			return true
		}
	}
	return false
}

// SplitCode splits "module:action" into its halves. It reports false for
// codes without exactly one separator or with an empty half.
func SplitCode(code string) (module, action string, ok bool) {
	parts := strings.SplitN(code, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], ":") {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ValidCode reports whether code is a grantable permission shape:
// "module:action", "module:*", or "*:*".
func ValidCode(code string) bool {
	module, action, ok := SplitCode(code)
	if !ok {
		return false
	}
	if module == "*" {
		return action == "*"
	}
	return true
}

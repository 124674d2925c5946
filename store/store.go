package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by every Store implementation. Engine-level code
// matches on these with errors.Is and maps them to its own error surface.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned on unique-constraint violations.
	ErrConflict = errors.New("store: conflict")
)

// Identity is a staff account as persisted by the host application.
type Identity struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    string
	Role            string
	Active          bool
	TwoFactorSecret string
	TwoFactorOn     bool
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RefreshRecord is the server-side half of a refresh token. Only the
// SHA-256 hex digest of the random secret is stored.
type RefreshRecord struct {
	ID         string
	UserID     string
	SecretHash string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy string
	CreatedAt  time.Time
}

// Session is one device login. Token holds the bearer value issued at
// sign-in; listings must redact it before leaving the backend.
type Session struct {
	ID        string
	UserID    string
	Token     string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Role groups permissions under a human-readable name.
type Role struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Permission is a single grantable action, addressed by its code
// ("inventory:read"). Module and Action are the parsed halves of Code.
type Permission struct {
	ID        string
	Code      string
	Module    string
	Action    string
	Resource  string
	CreatedAt time.Time
}

// IdentityStore reads and mutates staff accounts.
type IdentityStore interface {
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	// SetTwoFactor persists the TOTP secret and enabled flag together.
	// An empty secret with enabled=false clears two-factor state.
	SetTwoFactor(ctx context.Context, id, secret string, enabled bool) error
	// ReplaceBackupCodes swaps the stored hash set wholesale.
	ReplaceBackupCodes(ctx context.Context, id string, hashes []string) error
	GetBackupCodes(ctx context.Context, id string) ([]string, error)
	// ConsumeBackupCode deletes one stored hash. It reports false when the
	// hash was already gone, which makes concurrent consumption of the
	// same code settle on a single winner.
	ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error)
}

// RefreshTokenStore persists refresh records and implements the rotation
// contract: Rotate revokes the old record, inserts the new one, and links
// the chain in a single transaction.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *RefreshRecord) error
	GetByID(ctx context.Context, id string) (*RefreshRecord, error)
	// Rotate marks old as revoked, inserts next, and sets old.ReplacedBy
	// to next.ID atomically. When old is already revoked it returns
	// ErrConflict and inserts nothing; exactly one concurrent caller wins.
	Rotate(ctx context.Context, oldID string, next *RefreshRecord) error
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SessionStore persists device sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	GetByToken(ctx context.Context, token string) (*Session, error)
	// ListActive returns the user's non-expired sessions, newest first.
	ListActive(ctx context.Context, userID string, now time.Time) ([]*Session, error)
	Delete(ctx context.Context, id string) error
	// DeleteAllForUser removes the user's sessions. A non-empty keepToken
	// spares the session holding that bearer value.
	DeleteAllForUser(ctx context.Context, userID, keepToken string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RBACStore persists roles, permissions, and their assignments.
type RBACStore interface {
	CreateRole(ctx context.Context, r *Role) error
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	DeleteRole(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, p *Permission) error
	ListPermissions(ctx context.Context) ([]*Permission, error)
	DeletePermission(ctx context.Context, id string) error

	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	AssignRole(ctx context.Context, userID, roleID string) error
	UnassignRole(ctx context.Context, userID, roleID string) error

	// UserPermissions returns the deduplicated permission codes reachable
	// through every role assigned to the user.
	UserPermissions(ctx context.Context, userID string) ([]string, error)
	// UsersWithRole returns the IDs of users holding the role, used to
	// target cache invalidation after role-level mutations.
	UsersWithRole(ctx context.Context, roleID string) ([]string, error)
}

// Store bundles the per-aggregate stores behind one constructor-injected
// dependency.
type Store interface {
	Identities() IdentityStore
	RefreshTokens() RefreshTokenStore
	Sessions() SessionStore
	RBAC() RBACStore
}

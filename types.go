package authkit

import (
	"time"

	"github.com/dealerdesk/authkit/session"
	"github.com/dealerdesk/authkit/store"
)

// Identity is the authenticated-user view handed back by the engine.
// It never carries credential material.
type Identity struct {
	ID               string
	Email            string
	Name             string
	Role             string
	Active           bool
	TwoFactorEnabled bool
	LastLoginAt      *time.Time
}

func identityView(rec *store.Identity) *Identity {
	return &Identity{
		ID:               rec.ID,
		Email:            rec.Email,
		Name:             rec.Name,
		Role:             rec.Role,
		Active:           rec.Active,
		TwoFactorEnabled: rec.TwoFactorOn,
		LastLoginAt:      rec.LastLoginAt,
	}
}

// SignInResult is returned by [Engine.SignIn]. TwoFactorRequired marks
// the intermediate outcome: credentials were correct but a second factor
// is needed, and no tokens have been issued. It is not an error.
type SignInResult struct {
	TwoFactorRequired bool
	AccessToken       string
	RefreshToken      string
	Identity          *Identity
}

// TokenPair is returned by [Engine.Refresh].
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TwoFactorSetup holds the pending TOTP secret and its otpauth:// URI.
// The secret is shown to the user exactly once, at enrollment.
type TwoFactorSetup struct {
	Secret string
	URI    string
}

// SessionInfo is a redacted device-session listing entry.
type SessionInfo = session.Info

// Hasher is the one-way credential hash used for passwords and backup
// codes. The default implementation is [password.Argon2].
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encodedHash string) (bool, error)
	NeedsRehash(encodedHash string) (bool, error)
}

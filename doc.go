// Package authkit is an embeddable authentication and authorization
// engine for back-office applications: password sign-in with optional
// TOTP two-factor and single-use backup codes, short-lived access JWTs
// paired with rotating single-use refresh tokens, a device-session
// registry, and role-based permissions with wildcard grants and a
// TTL cache.
//
// The engine is storage-agnostic behind the store.Store interface;
// PostgreSQL and in-memory implementations ship in store/postgres and
// store/memory. Construct one engine per process:
//
//	st := memory.New()
//	cfg := authkit.DefaultConfig()
//	cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
//
//	engine, err := authkit.New().
//		WithStore(st).
//		WithConfig(cfg).
//		Build()
//
// Credential failures are deliberately uniform: wrong email, wrong
// password, and wrong second factor all return ErrInvalidCredentials,
// while the audit stream keeps the distinction.
package authkit

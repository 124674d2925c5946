package authkit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dealerdesk/authkit/store"
	"github.com/dealerdesk/authkit/store/memory"
)

// plainHasher keeps engine tests fast; Argon2 has its own tests.
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty")
	}
	return "plain$" + p, nil
}

func (plainHasher) Verify(p, encoded string) (bool, error) {
	return encoded == "plain$"+p, nil
}

func (plainHasher) NeedsRehash(string) (bool, error) { return false, nil }

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func engineTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.Issuer = "authkit-test"
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *memory.Store, *testClock) {
	t.Helper()

	st := memory.New()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine, err := New().
		WithStore(st).
		WithConfig(cfg).
		WithHasher(plainHasher{}).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, st, clock
}

func seedUser(t *testing.T, st *memory.Store, id, email, pass string) {
	t.Helper()
	hash, err := plainHasher{}.Hash(pass)
	if err != nil {
		t.Fatal(err)
	}
	st.SeedIdentity(&store.Identity{
		ID:           id,
		Email:        email,
		Name:         "Test User",
		PasswordHash: hash,
		Role:         "operator",
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
}

func memoryStoreWithUser(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")
	return st
}

func mustSignIn(t *testing.T, e *Engine, email, pass string) *SignInResult {
	t.Helper()
	result, err := e.SignIn(context.Background(), email, pass, "")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if result.TwoFactorRequired {
		t.Fatal("unexpected two-factor challenge")
	}
	return result
}

func TestSignInSuccess(t *testing.T) {
	engine, st, _ := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")

	result := mustSignIn(t, engine, "ops@example.com", "correct-horse")

	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("tokens missing from successful sign-in")
	}
	if result.Identity == nil || result.Identity.ID != "u1" {
		t.Fatalf("unexpected identity: %+v", result.Identity)
	}
	if result.Identity.LastLoginAt == nil {
		t.Fatal("LastLoginAt not set")
	}

	// The access token must authenticate.
	identity, err := engine.Authenticate(context.Background(), result.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if identity.Email != "ops@example.com" {
		t.Fatalf("authenticated wrong identity: %s", identity.Email)
	}
}

func TestSignInNormalizesEmail(t *testing.T) {
	engine, st, _ := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")

	if _, err := engine.SignIn(context.Background(), "  OPS@Example.COM ", "correct-horse", ""); err != nil {
		t.Fatalf("SignIn with unnormalized email failed: %v", err)
	}
}

func TestSignInUniformFailure(t *testing.T) {
	engine, st, _ := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")

	cases := []struct {
		name  string
		email string
		pass  string
	}{
		{"unknown email", "nobody@example.com", "correct-horse"},
		{"wrong password", "ops@example.com", "wrong"},
		{"empty password", "ops@example.com", ""},
		{"empty email", "", "correct-horse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.SignIn(context.Background(), tc.email, tc.pass, "")
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("got %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestSignInInactiveRevealedOnlyAfterPassword(t *testing.T) {
	engine, st, _ := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")
	st.SeedIdentity(&store.Identity{
		ID: "u2", Email: "gone@example.com", PasswordHash: "plain$pw", Role: "operator", Active: false,
	})

	// Wrong password on an inactive account stays uniform.
	if _, err := engine.SignIn(context.Background(), "gone@example.com", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
	// Correct password reveals the inactive state.
	if _, err := engine.SignIn(context.Background(), "gone@example.com", "pw", ""); !errors.Is(err, ErrIdentityInactive) {
		t.Fatalf("got %v, want ErrIdentityInactive", err)
	}
}

func TestSignInTwoFactorChallenge(t *testing.T) {
	engine, st, clock := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")
	secret := enrollTwoFactor(t, engine, clock, "u1")

	// Correct password, no code: challenge, not error, no tokens.
	result, err := engine.SignIn(context.Background(), "ops@example.com", "correct-horse", "")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !result.TwoFactorRequired {
		t.Fatal("expected TwoFactorRequired")
	}
	if result.AccessToken != "" || result.RefreshToken != "" {
		t.Fatal("challenge result must not carry tokens")
	}

	// Wrong code fails uniformly.
	if _, err := engine.SignIn(context.Background(), "ops@example.com", "correct-horse", "000000"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}

	// Live code completes sign-in.
	code := totpCodeAt(t, engine, secret, clock.Now())
	result, err = engine.SignIn(context.Background(), "ops@example.com", "correct-horse", code)
	if err != nil {
		t.Fatalf("SignIn with code failed: %v", err)
	}
	if result.TwoFactorRequired || result.AccessToken == "" {
		t.Fatalf("expected full sign-in, got %+v", result)
	}
}

func TestSignInBackupCodeSingleUse(t *testing.T) {
	engine, st, clock := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")
	enrollTwoFactor(t, engine, clock, "u1")

	codes, err := engine.RegenerateBackupCodes(context.Background(), "u1", totpCodeForUser(t, engine, st, clock, "u1"))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("got %d backup codes, want 10", len(codes))
	}
	for _, c := range codes {
		if len(c) != 9 || c[4] != '-' {
			t.Fatalf("backup code %q not in XXXX-XXXX shape", c)
		}
	}

	// First use succeeds.
	if _, err := engine.SignIn(context.Background(), "ops@example.com", "correct-horse", codes[0]); err != nil {
		t.Fatalf("sign-in with backup code failed: %v", err)
	}
	// Replay fails.
	if _, err := engine.SignIn(context.Background(), "ops@example.com", "correct-horse", codes[0]); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("replayed backup code: got %v, want ErrInvalidCredentials", err)
	}

	remaining, err := engine.BackupCodesRemaining(context.Background(), "u1")
	if err != nil {
		t.Fatalf("BackupCodesRemaining failed: %v", err)
	}
	if remaining != 9 {
		t.Fatalf("remaining = %d, want 9", remaining)
	}
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	engine, st, _ := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")
	result := mustSignIn(t, engine, "ops@example.com", "correct-horse")

	pair, err := engine.Refresh(context.Background(), result.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if pair.RefreshToken == result.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The spent token must not work again.
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replay: got %v, want ErrTokenInvalid", err)
	}

	// The new token still works.
	if _, err := engine.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("rotated token rejected: %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	cfg := engineTestConfig()
	engine, st, clock := newTestEngine(t, cfg)
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")
	result := mustSignIn(t, engine, "ops@example.com", "correct-horse")

	clock.Advance(cfg.JWT.RefreshTTL + time.Hour)
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("got %v, want ErrTokenInvalid", err)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, engineTestConfig())
	if _, err := engine.Refresh(context.Background(), "not.a.jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("got %v, want ErrTokenInvalid", err)
	}
}

func TestChangePasswordRevokesEverything(t *testing.T) {
	engine, st, _ := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")
	result := mustSignIn(t, engine, "ops@example.com", "correct-horse")

	if err := engine.ChangePassword(context.Background(), "u1", "wrong", "new-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong old password: got %v", err)
	}
	if err := engine.ChangePassword(context.Background(), "u1", "correct-horse", "correct-horse"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("reused password: got %v", err)
	}
	if err := engine.ChangePassword(context.Background(), "u1", "correct-horse", "brand-new-pass"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// Old refresh token and session are gone.
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("old refresh token survived: %v", err)
	}
	if _, err := engine.AuthenticateSession(context.Background(), result.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old session survived: %v", err)
	}

	// New password signs in.
	mustSignIn(t, engine, "ops@example.com", "brand-new-pass")
}

func TestSessionListingAndRevocation(t *testing.T) {
	engine, st, clock := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")

	ctx := WithClientIP(context.Background(), "10.0.0.1")
	ctx = WithUserAgent(ctx, "test-agent/1.0")
	first, err := engine.SignIn(ctx, "ops@example.com", "correct-horse", "")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	clock.Advance(time.Minute)
	second := mustSignIn(t, engine, "ops@example.com", "correct-horse")

	sessions, err := engine.Sessions(context.Background(), "u1", second.AccessToken)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	// Newest first, and only the matching bearer is current.
	if !sessions[0].IsCurrent || sessions[1].IsCurrent {
		t.Fatalf("IsCurrent flags wrong: %+v", sessions)
	}
	for _, s := range sessions {
		if len(s.TokenSuffix) != 8 {
			t.Fatalf("token suffix %q not redacted to 8 chars", s.TokenSuffix)
		}
		if strings.Contains(s.TokenSuffix, ".") && len(s.TokenSuffix) > 8 {
			t.Fatal("full token leaked")
		}
	}
	if sessions[1].IPAddress != "10.0.0.1" || sessions[1].UserAgent != "test-agent/1.0" {
		t.Fatalf("context metadata missing: %+v", sessions[1])
	}

	// Revoking someone else's session by id must not work.
	st.SeedIdentity(&store.Identity{ID: "u2", Email: "x@example.com", PasswordHash: "plain$pw", Role: "operator", Active: true})
	if err := engine.RevokeSession(context.Background(), "u2", sessions[1].ID); !errors.Is(err, ErrSessionMismatch) {
		t.Fatalf("cross-user revoke: got %v, want ErrSessionMismatch", err)
	}
	if err := engine.RevokeSession(context.Background(), "u1", "missing-id"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing session: got %v, want ErrSessionNotFound", err)
	}

	if err := engine.RevokeSession(context.Background(), "u1", sessions[1].ID); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if _, err := engine.AuthenticateSession(context.Background(), first.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("revoked session still resolves: %v", err)
	}
}

func TestRevokeOtherSessionsKeepsCurrent(t *testing.T) {
	engine, st, _ := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")

	old := mustSignIn(t, engine, "ops@example.com", "correct-horse")
	current := mustSignIn(t, engine, "ops@example.com", "correct-horse")

	removed, err := engine.RevokeOtherSessions(context.Background(), "u1", current.AccessToken)
	if err != nil {
		t.Fatalf("RevokeOtherSessions failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if _, err := engine.AuthenticateSession(context.Background(), current.AccessToken); err != nil {
		t.Fatalf("current session lost: %v", err)
	}
	if _, err := engine.AuthenticateSession(context.Background(), old.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("other session survived: %v", err)
	}
	// The caller's own refresh chain survives a keep-current revoke.
	pair, err := engine.Refresh(context.Background(), current.RefreshToken)
	if err != nil {
		t.Fatalf("caller's refresh token revoked by keep-current revoke: %v", err)
	}
	if _, err := engine.Authenticate(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("refreshed access token rejected: %v", err)
	}
}

func TestRevokeAllSessionsRevokesRefreshTokens(t *testing.T) {
	engine, st, _ := newTestEngine(t, engineTestConfig())
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")

	first := mustSignIn(t, engine, "ops@example.com", "correct-horse")
	second := mustSignIn(t, engine, "ops@example.com", "correct-horse")

	removed, err := engine.RevokeAllSessions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("RevokeAllSessions failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := engine.Refresh(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("refresh token survived full sign-out: %v", err)
		}
	}
}

func TestAuthenticateRejectsTamperedAndExpired(t *testing.T) {
	cfg := engineTestConfig()
	engine, st, clock := newTestEngine(t, cfg)
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")
	result := mustSignIn(t, engine, "ops@example.com", "correct-horse")

	tampered := result.AccessToken[:len(result.AccessToken)-2] + "xx"
	if _, err := engine.Authenticate(context.Background(), tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("tampered token: got %v", err)
	}

	// Refresh tokens must not pass as access tokens.
	if _, err := engine.Authenticate(context.Background(), result.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token accepted as access: got %v", err)
	}

	st.SeedIdentity(&store.Identity{ID: "u1", Email: "ops@example.com", PasswordHash: "plain$correct-horse", Role: "operator", Active: false})
	if _, err := engine.Authenticate(context.Background(), result.AccessToken); !errors.Is(err, ErrIdentityInactive) {
		t.Fatalf("inactive identity: got %v", err)
	}

	clock.Advance(cfg.JWT.AccessTTL + time.Minute)
	if _, err := engine.Authenticate(context.Background(), result.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired token: got %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	cfg := engineTestConfig()
	engine, st, clock := newTestEngine(t, cfg)
	seedUser(t, st, "u1", "ops@example.com", "correct-horse")
	mustSignIn(t, engine, "ops@example.com", "correct-horse")

	clock.Advance(cfg.JWT.RefreshTTL + time.Hour)
	result, err := engine.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if result.RefreshTokens != 1 || result.Sessions != 1 {
		t.Fatalf("cleanup removed %+v, want 1/1", result)
	}
}

/* ====================================
TWO-FACTOR TEST HELPERS
==================================== */

func enrollTwoFactor(t *testing.T, engine *Engine, clock *testClock, userID string) string {
	t.Helper()

	setup, err := engine.SetupTwoFactor(context.Background(), userID)
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}
	code := totpCodeAt(t, engine, setup.Secret, clock.Now())
	if _, err := engine.VerifyTwoFactorSetup(context.Background(), userID, code); err != nil {
		t.Fatalf("VerifyTwoFactorSetup failed: %v", err)
	}
	return setup.Secret
}

func totpCodeAt(t *testing.T, engine *Engine, secretBase32 string, at time.Time) string {
	t.Helper()
	secret, err := engine.totp.DecodeSecret(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	cfg := engine.config.TOTP
	code, err := hotpCode(secret, at.Unix()/int64(cfg.Period), cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}
	return code
}

func totpCodeForUser(t *testing.T, engine *Engine, st *memory.Store, clock *testClock, userID string) string {
	t.Helper()
	rec, err := st.Identities().GetByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	return totpCodeAt(t, engine, rec.TwoFactorSecret, clock.Now())
}

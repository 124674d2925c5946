package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dealerdesk/authkit/store"
)

func seed(t *testing.T, s *Store) {
	t.Helper()
	s.SeedIdentity(&store.Identity{
		ID:           "u1",
		Email:        "ops@example.com",
		PasswordHash: "hash",
		Role:         "operator",
		Active:       true,
	})
}

func TestIdentityLookups(t *testing.T) {
	s := New()
	seed(t, s)
	ctx := context.Background()

	byID, err := s.Identities().GetByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	byEmail, err := s.Identities().GetByEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if byID.ID != byEmail.ID {
		t.Fatal("lookups disagree")
	}

	if _, err := s.Identities().GetByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if _, err := s.Identities().GetByEmail(ctx, "nobody@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestIdentityReturnsCopies(t *testing.T) {
	s := New()
	seed(t, s)
	ctx := context.Background()

	first, _ := s.Identities().GetByID(ctx, "u1")
	first.PasswordHash = "mutated"

	second, _ := s.Identities().GetByID(ctx, "u1")
	if second.PasswordHash != "hash" {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestSetTwoFactorAndBackupCodes(t *testing.T) {
	s := New()
	seed(t, s)
	ctx := context.Background()

	if err := s.Identities().SetTwoFactor(ctx, "u1", "SECRET", true); err != nil {
		t.Fatalf("SetTwoFactor failed: %v", err)
	}
	rec, _ := s.Identities().GetByID(ctx, "u1")
	if rec.TwoFactorSecret != "SECRET" || !rec.TwoFactorOn {
		t.Fatalf("two-factor state not persisted: %+v", rec)
	}

	if err := s.Identities().ReplaceBackupCodes(ctx, "u1", []string{"h1", "h2"}); err != nil {
		t.Fatalf("ReplaceBackupCodes failed: %v", err)
	}
	hashes, _ := s.Identities().GetBackupCodes(ctx, "u1")
	if len(hashes) != 2 {
		t.Fatalf("got %d hashes, want 2", len(hashes))
	}

	ok, err := s.Identities().ConsumeBackupCode(ctx, "u1", "h1")
	if err != nil || !ok {
		t.Fatalf("ConsumeBackupCode = %v, %v", ok, err)
	}
	// Second consume of the same hash loses.
	ok, err = s.Identities().ConsumeBackupCode(ctx, "u1", "h1")
	if err != nil || ok {
		t.Fatalf("replayed consume = %v, %v, want false", ok, err)
	}
	hashes, _ = s.Identities().GetBackupCodes(ctx, "u1")
	if len(hashes) != 1 || hashes[0] != "h2" {
		t.Fatalf("unexpected remaining hashes: %v", hashes)
	}
}

func TestRefreshRotateSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	old := &store.RefreshRecord{ID: "r1", UserID: "u1", SecretHash: "d1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	if err := s.RefreshTokens().Create(ctx, old); err != nil {
		t.Fatal(err)
	}

	next := &store.RefreshRecord{ID: "r2", UserID: "u1", SecretHash: "d2", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	if err := s.RefreshTokens().Rotate(ctx, "r1", next); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	rec, _ := s.RefreshTokens().GetByID(ctx, "r1")
	if rec.RevokedAt == nil || rec.ReplacedBy != "r2" {
		t.Fatalf("chain not linked: %+v", rec)
	}

	// A second rotation of the spent record must observe the conflict.
	loser := &store.RefreshRecord{ID: "r3", UserID: "u1", SecretHash: "d3", ExpiresAt: now.Add(time.Hour)}
	if err := s.RefreshTokens().Rotate(ctx, "r1", loser); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if _, err := s.RefreshTokens().GetByID(ctx, "r3"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("losing rotation inserted its record")
	}

	if err := s.RefreshTokens().Rotate(ctx, "missing", next); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRefreshDeleteExpiredKeepsRevokedLive(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	_ = s.RefreshTokens().Create(ctx, &store.RefreshRecord{ID: "live", UserID: "u1", ExpiresAt: now.Add(time.Hour)})
	_ = s.RefreshTokens().Create(ctx, &store.RefreshRecord{ID: "expired", UserID: "u1", ExpiresAt: now.Add(-time.Hour)})
	_ = s.RefreshTokens().Revoke(ctx, "live", now)

	n, err := s.RefreshTokens().DeleteExpired(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	// Revoked but unexpired records survive so replay stays detectable.
	if _, err := s.RefreshTokens().GetByID(ctx, "live"); err != nil {
		t.Fatal("revoked-but-live record was purged")
	}
}

func TestSessionDeleteAllKeepsToken(t *testing.T) {
	s := New()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	_ = s.Sessions().Create(ctx, &store.Session{ID: "s1", UserID: "u1", Token: "t1", ExpiresAt: exp})
	_ = s.Sessions().Create(ctx, &store.Session{ID: "s2", UserID: "u1", Token: "t2", ExpiresAt: exp})
	_ = s.Sessions().Create(ctx, &store.Session{ID: "s3", UserID: "u2", Token: "t3", ExpiresAt: exp})

	n, err := s.Sessions().DeleteAllForUser(ctx, "u1", "t2")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	if _, err := s.Sessions().GetByToken(ctx, "t2"); err != nil {
		t.Fatal("kept session removed")
	}
	if _, err := s.Sessions().GetByToken(ctx, "t3"); err != nil {
		t.Fatal("other user's session removed")
	}
}

func TestUserPermissionsAcrossRoles(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.RBAC().CreateRole(ctx, &store.Role{ID: "role1", Name: "a"})
	_ = s.RBAC().CreateRole(ctx, &store.Role{ID: "role2", Name: "b"})
	_ = s.RBAC().CreatePermission(ctx, &store.Permission{ID: "p1", Code: "inventory:read"})
	_ = s.RBAC().CreatePermission(ctx, &store.Permission{ID: "p2", Code: "billing:*"})
	_ = s.RBAC().GrantPermission(ctx, "role1", "p1")
	_ = s.RBAC().GrantPermission(ctx, "role2", "p2")
	_ = s.RBAC().GrantPermission(ctx, "role2", "p1")
	_ = s.RBAC().AssignRole(ctx, "u1", "role1")
	_ = s.RBAC().AssignRole(ctx, "u1", "role2")

	codes, err := s.RBAC().UserPermissions(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	// Deduplicated and sorted.
	if len(codes) != 2 || codes[0] != "billing:*" || codes[1] != "inventory:read" {
		t.Fatalf("unexpected codes: %v", codes)
	}
}

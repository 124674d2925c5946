package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dealerdesk/authkit/store"
	"github.com/dealerdesk/authkit/store/memory"
)

// storeSource adapts the memory store's RBAC tables for resolver tests
// that go through the Manager.
type storeSource struct {
	st store.Store
}

func (s *storeSource) PermissionCodes(ctx context.Context, userID string) ([]string, error) {
	return s.st.RBAC().UserPermissions(ctx, userID)
}

func (s *storeSource) RoleLabel(context.Context, string) (string, error) {
	return "", nil
}

func newTestManager(t *testing.T) (*Manager, *Resolver, store.Store) {
	t.Helper()
	st := memory.New()
	r, err := NewResolver(&storeSource{st: st}, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	m, err := NewManager(st.RBAC(), r)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m, r, st
}

func TestCreatePermissionValidatesCode(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for _, code := range []string{"", "inventory", "a:b:c", "*:read"} {
		if _, err := m.CreatePermission(ctx, code, ""); !errors.Is(err, ErrInvalidCode) {
			t.Errorf("CreatePermission(%q): got %v, want ErrInvalidCode", code, err)
		}
	}

	perm, err := m.CreatePermission(ctx, "  inventory:read  ", "inventory")
	if err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}
	if perm.Code != "inventory:read" || perm.Module != "inventory" || perm.Action != "read" {
		t.Fatalf("unexpected permission: %+v", perm)
	}
}

func TestDuplicateRoleAndPermission(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateRole(ctx, "operator", ""); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if _, err := m.CreateRole(ctx, "operator", "again"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate role: got %v, want ErrDuplicate", err)
	}

	if _, err := m.CreatePermission(ctx, "inventory:read", ""); err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}
	if _, err := m.CreatePermission(ctx, "inventory:read", ""); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate permission: got %v, want ErrDuplicate", err)
	}
}

func TestGrantInvalidatesHolders(t *testing.T) {
	m, r, _ := newTestManager(t)
	ctx := context.Background()

	role, err := m.CreateRole(ctx, "operator", "")
	if err != nil {
		t.Fatal(err)
	}
	perm, err := m.CreatePermission(ctx, "inventory:read", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AssignRole(ctx, "u1", role.ID); err != nil {
		t.Fatal(err)
	}

	// Prime the cache with the empty grant set.
	if ok, _ := r.Check(ctx, "u1", "inventory:read"); ok {
		t.Fatal("grant visible before it exists")
	}

	if err := m.Grant(ctx, role.ID, perm.ID); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	// The mutation must be visible immediately, no TTL wait.
	if ok, _ := r.Check(ctx, "u1", "inventory:read"); !ok {
		t.Fatal("grant not visible after Grant")
	}

	if err := m.Revoke(ctx, role.ID, perm.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if ok, _ := r.Check(ctx, "u1", "inventory:read"); ok {
		t.Fatal("revoked grant still visible")
	}
}

func TestUnassignRoleInvalidatesUser(t *testing.T) {
	m, r, _ := newTestManager(t)
	ctx := context.Background()

	role, _ := m.CreateRole(ctx, "operator", "")
	perm, _ := m.CreatePermission(ctx, "inventory:read", "")
	if err := m.Grant(ctx, role.ID, perm.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.AssignRole(ctx, "u1", role.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := r.Check(ctx, "u1", "inventory:read"); !ok {
		t.Fatal("assigned role grants not visible")
	}

	if err := m.UnassignRole(ctx, "u1", role.ID); err != nil {
		t.Fatalf("UnassignRole failed: %v", err)
	}
	if ok, _ := r.Check(ctx, "u1", "inventory:read"); ok {
		t.Fatal("grants visible after role removed")
	}
}

func TestDeleteRoleInvalidatesHolders(t *testing.T) {
	m, r, _ := newTestManager(t)
	ctx := context.Background()

	role, _ := m.CreateRole(ctx, "operator", "")
	perm, _ := m.CreatePermission(ctx, "inventory:read", "")
	_ = m.Grant(ctx, role.ID, perm.ID)
	_ = m.AssignRole(ctx, "u1", role.ID)
	if ok, _ := r.Check(ctx, "u1", "inventory:read"); !ok {
		t.Fatal("setup: grant not visible")
	}

	if err := m.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("DeleteRole failed: %v", err)
	}
	if ok, _ := r.Check(ctx, "u1", "inventory:read"); ok {
		t.Fatal("grants survive role deletion")
	}
}

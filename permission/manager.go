package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dealerdesk/authkit/internal/ids"
	"github.com/dealerdesk/authkit/store"
)

var (
	// ErrInvalidCode is returned for permission codes that are not
	// "module:action", "module:*", or "*:*".
	ErrInvalidCode = errors.New("permission: invalid code")
	// ErrDuplicate is returned when a role name or permission code
	// already exists.
	ErrDuplicate = errors.New("permission: duplicate")
)

// Manager owns role and permission mutations. Every write that can change
// a user's effective permissions drops the affected cache entries before
// returning, so no authorization decision after the call can read the
// pre-mutation state.
type Manager struct {
	rbac     store.RBACStore
	resolver *Resolver
	now      func() time.Time
}

func NewManager(rbac store.RBACStore, resolver *Resolver) (*Manager, error) {
	if rbac == nil {
		return nil, errors.New("permission: rbac store required")
	}
	if resolver == nil {
		return nil, errors.New("permission: resolver required")
	}
	return &Manager{rbac: rbac, resolver: resolver, now: time.Now}, nil
}

// CreateRole registers a new role. Names are trimmed; duplicates map to
// ErrDuplicate.
func (m *Manager) CreateRole(ctx context.Context, name, description string) (*store.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("permission: role name required")
	}
	role := &store.Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   m.now(),
	}
	if err := m.rbac.CreateRole(ctx, role); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("permission: create role: %w", err)
	}
	return role, nil
}

// DeleteRole removes a role and invalidates everyone who held it.
func (m *Manager) DeleteRole(ctx context.Context, roleID string) error {
	users, err := m.rbac.UsersWithRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("permission: list role holders: %w", err)
	}
	if err := m.rbac.DeleteRole(ctx, roleID); err != nil {
		return fmt.Errorf("permission: delete role: %w", err)
	}
	for _, userID := range users {
		m.resolver.Invalidate(userID)
	}
	return nil
}

// CreatePermission registers a grantable permission code.
func (m *Manager) CreatePermission(ctx context.Context, code, resource string) (*store.Permission, error) {
	code = strings.TrimSpace(code)
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}
	module, action, _ := SplitCode(code)
	perm := &store.Permission{
		ID:        ids.New(),
		Code:      code,
		Module:    module,
		Action:    action,
		Resource:  strings.TrimSpace(resource),
		CreatedAt: m.now(),
	}
	if err := m.rbac.CreatePermission(ctx, perm); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("permission: create permission: %w", err)
	}
	return perm, nil
}

// DeletePermission removes a permission. The whole cache is dropped since
// any role may have carried the grant.
func (m *Manager) DeletePermission(ctx context.Context, permissionID string) error {
	if err := m.rbac.DeletePermission(ctx, permissionID); err != nil {
		return fmt.Errorf("permission: delete permission: %w", err)
	}
	m.resolver.InvalidateAll()
	return nil
}

// Grant attaches a permission to a role and invalidates its holders.
func (m *Manager) Grant(ctx context.Context, roleID, permissionID string) error {
	if err := m.rbac.GrantPermission(ctx, roleID, permissionID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrDuplicate
		}
		return fmt.Errorf("permission: grant: %w", err)
	}
	return m.invalidateRole(ctx, roleID)
}

// Revoke detaches a permission from a role and invalidates its holders.
func (m *Manager) Revoke(ctx context.Context, roleID, permissionID string) error {
	if err := m.rbac.RevokePermission(ctx, roleID, permissionID); err != nil {
		return fmt.Errorf("permission: revoke: %w", err)
	}
	return m.invalidateRole(ctx, roleID)
}

// AssignRole gives a user a role and invalidates that user.
func (m *Manager) AssignRole(ctx context.Context, userID, roleID string) error {
	if err := m.rbac.AssignRole(ctx, userID, roleID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrDuplicate
		}
		return fmt.Errorf("permission: assign role: %w", err)
	}
	m.resolver.Invalidate(userID)
	return nil
}

// UnassignRole removes a user's role and invalidates that user.
func (m *Manager) UnassignRole(ctx context.Context, userID, roleID string) error {
	if err := m.rbac.UnassignRole(ctx, userID, roleID); err != nil {
		return fmt.Errorf("permission: unassign role: %w", err)
	}
	m.resolver.Invalidate(userID)
	return nil
}

func (m *Manager) invalidateRole(ctx context.Context, roleID string) error {
	users, err := m.rbac.UsersWithRole(ctx, roleID)
	if err != nil {
		// The grant committed but the holder list is unknown; dropping
		// everything keeps the invalidation contract.
		m.resolver.InvalidateAll()
		return nil
	}
	for _, userID := range users {
		m.resolver.Invalidate(userID)
	}
	return nil
}

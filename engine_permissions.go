package authkit

import (
	"context"

	"github.com/dealerdesk/authkit/store"
)

// Can reports whether the user holds the permission code, honoring
// wildcard grants and the configured bypass role. The underlying lookup
// is cached; mutations made through this engine invalidate it.
func (e *Engine) Can(ctx context.Context, userID, code string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	ok, err := e.resolver.Check(ctx, userID, code)
	if err != nil {
		return false, err
	}
	if !ok {
		e.emitAudit(ctx, auditEventPermissionDenied, false, userID, "", ErrPermissionDenied, func() map[string]string {
			return map[string]string{"code": code}
		})
	}
	return ok, nil
}

// CanAll reports whether the user holds every listed permission.
func (e *Engine) CanAll(ctx context.Context, userID string, codes ...string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	return e.resolver.CheckAll(ctx, userID, codes...)
}

// CanAny reports whether the user holds at least one listed permission.
func (e *Engine) CanAny(ctx context.Context, userID string, codes ...string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	return e.resolver.CheckAny(ctx, userID, codes...)
}

// Permissions returns the user's effective permission codes, sorted.
func (e *Engine) Permissions(ctx context.Context, userID string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.resolver.UserPermissions(ctx, userID)
}

// RequirePermission is [Engine.Can] with an error result instead of a
// boolean, for callers that want to bail straight out of a handler.
func (e *Engine) RequirePermission(ctx context.Context, userID, code string) error {
	ok, err := e.Can(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// CreateRole adds a role. Mutations fan out cache invalidation to other
// processes when redis broadcasting is configured.
func (e *Engine) CreateRole(ctx context.Context, name, description string) (*store.Role, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	role, err := e.rbac.CreateRole(ctx, name, description)
	if err != nil {
		return nil, err
	}
	e.auditRoleMutation(ctx, "create_role", role.ID, "")
	return role, nil
}

// DeleteRole removes a role and its grants, invalidating every holder.
func (e *Engine) DeleteRole(ctx context.Context, roleID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.rbac.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	e.broadcastAll(ctx)
	e.auditRoleMutation(ctx, "delete_role", roleID, "")
	return nil
}

// CreatePermission registers a permission code such as "inventory:read".
func (e *Engine) CreatePermission(ctx context.Context, code, resource string) (*store.Permission, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.rbac.CreatePermission(ctx, code, resource)
}

// DeletePermission removes a permission everywhere it is granted.
func (e *Engine) DeletePermission(ctx context.Context, permissionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.rbac.DeletePermission(ctx, permissionID); err != nil {
		return err
	}
	e.broadcastAll(ctx)
	return nil
}

// GrantPermission attaches a permission to a role.
func (e *Engine) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.rbac.Grant(ctx, roleID, permissionID); err != nil {
		return err
	}
	e.broadcastAll(ctx)
	e.auditRoleMutation(ctx, "grant", roleID, permissionID)
	return nil
}

// RevokePermission detaches a permission from a role.
func (e *Engine) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.rbac.Revoke(ctx, roleID, permissionID); err != nil {
		return err
	}
	e.broadcastAll(ctx)
	e.auditRoleMutation(ctx, "revoke", roleID, permissionID)
	return nil
}

// AssignRole gives a user a role and invalidates their cached set.
func (e *Engine) AssignRole(ctx context.Context, userID, roleID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.rbac.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	e.broadcastUser(ctx, userID)
	e.auditRoleMutation(ctx, "assign", roleID, userID)
	return nil
}

// UnassignRole removes a role from a user.
func (e *Engine) UnassignRole(ctx context.Context, userID, roleID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.rbac.UnassignRole(ctx, userID, roleID); err != nil {
		return err
	}
	e.broadcastUser(ctx, userID)
	e.auditRoleMutation(ctx, "unassign", roleID, userID)
	return nil
}

// Roles lists every role.
func (e *Engine) Roles(ctx context.Context) ([]*store.Role, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.store.RBAC().ListRoles(ctx)
}

// RoleByName looks a role up by its unique name.
func (e *Engine) RoleByName(ctx context.Context, name string) (*store.Role, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.store.RBAC().GetRoleByName(ctx, name)
}

// PermissionCatalog lists every registered permission.
func (e *Engine) PermissionCatalog(ctx context.Context) ([]*store.Permission, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.store.RBAC().ListPermissions(ctx)
}

func (e *Engine) broadcastUser(ctx context.Context, userID string) {
	if e.broadcast != nil {
		e.broadcast.Publish(ctx, userID)
	}
}

func (e *Engine) broadcastAll(ctx context.Context) {
	if e.broadcast != nil {
		e.broadcast.PublishAll(ctx)
	}
}

func (e *Engine) auditRoleMutation(ctx context.Context, op, roleID, subject string) {
	e.emitAudit(ctx, auditEventRoleMutation, true, "", "", nil, func() map[string]string {
		m := map[string]string{"op": op, "role_id": roleID}
		if subject != "" {
			m["subject"] = subject
		}
		return m
	})
}

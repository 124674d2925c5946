package postgres

import (
	"context"
	"database/sql"

	"github.com/dealerdesk/authkit/store"
)

type rbacStore struct {
	db *sql.DB
}

func (s *rbacStore) CreateRole(ctx context.Context, r *store.Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, description, created_at) VALUES ($1, $2, NULLIF($3, ''), $4)`,
		r.ID, r.Name, r.Description, r.CreatedAt)
	return mapError(err)
}

func (s *rbacStore) GetRoleByName(ctx context.Context, name string) (*store.Role, error) {
	var r store.Role
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(description, ''), created_at FROM roles WHERE name = $1`, name).
		Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &r, nil
}

func (s *rbacStore) ListRoles(ctx context.Context) ([]*store.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(description, ''), created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*store.Role
	for rows.Next() {
		var r store.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, &r)
	}
	return out, mapError(rows.Err())
}

func (s *rbacStore) DeleteRole(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM roles WHERE id = $1`, id)
}

func (s *rbacStore) CreatePermission(ctx context.Context, p *store.Permission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO permissions (id, code, module, action, resource, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		p.ID, p.Code, p.Module, p.Action, p.Resource, p.CreatedAt)
	return mapError(err)
}

func (s *rbacStore) ListPermissions(ctx context.Context) ([]*store.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, module, action, COALESCE(resource, ''), created_at
		 FROM permissions ORDER BY code`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*store.Permission
	for rows.Next() {
		var p store.Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Module, &p.Action, &p.Resource, &p.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, &p)
	}
	return out, mapError(rows.Err())
}

func (s *rbacStore) DeletePermission(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM permissions WHERE id = $1`, id)
}

func (s *rbacStore) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
		roleID, permissionID)
	return mapError(err)
}

func (s *rbacStore) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	return s.execOne(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID)
}

func (s *rbacStore) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID)
	return mapError(err)
}

func (s *rbacStore) UnassignRole(ctx context.Context, userID, roleID string) error {
	return s.execOne(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
}

func (s *rbacStore) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT p.code
		 FROM user_roles ur
		 JOIN role_permissions rp ON rp.role_id = ur.role_id
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE ur.user_id = $1
		 ORDER BY p.code`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, mapError(err)
		}
		out = append(out, code)
	}
	return out, mapError(rows.Err())
}

func (s *rbacStore) UsersWithRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		out = append(out, id)
	}
	return out, mapError(rows.Err())
}

func (s *rbacStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

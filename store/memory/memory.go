// Package memory provides an in-process Store used by tests and the
// example binary. All semantics mirror the postgres implementation,
// including single-winner rotation and backup-code consumption.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dealerdesk/authkit/store"
)

// Store keeps everything under a single mutex. Values are copied on the
// way in and out so callers cannot alias internal state.
type Store struct {
	mu sync.Mutex

	identities  map[string]*store.Identity
	backupCodes map[string][]string
	refresh     map[string]*store.RefreshRecord
	sessions    map[string]*store.Session

	roles       map[string]*store.Role
	permissions map[string]*store.Permission
	rolePerms   map[string]map[string]bool // roleID -> permissionID set
	userRoles   map[string]map[string]bool // userID -> roleID set
}

func New() *Store {
	return &Store{
		identities:  make(map[string]*store.Identity),
		backupCodes: make(map[string][]string),
		refresh:     make(map[string]*store.RefreshRecord),
		sessions:    make(map[string]*store.Session),
		roles:       make(map[string]*store.Role),
		permissions: make(map[string]*store.Permission),
		rolePerms:   make(map[string]map[string]bool),
		userRoles:   make(map[string]map[string]bool),
	}
}

func (s *Store) Identities() store.IdentityStore       { return (*identityStore)(s) }
func (s *Store) RefreshTokens() store.RefreshTokenStore { return (*refreshStore)(s) }
func (s *Store) Sessions() store.SessionStore           { return (*sessionStore)(s) }
func (s *Store) RBAC() store.RBACStore                  { return (*rbacStore)(s) }

// SeedIdentity inserts or replaces an account. Test helper.
func (s *Store) SeedIdentity(id *store.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *id
	s.identities[id.ID] = &cp
}

/*
====================================
IDENTITIES
====================================
*/

type identityStore Store

func (s *identityStore) GetByID(_ context.Context, id string) (*store.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *identityStore) GetByEmail(_ context.Context, email string) (*store.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(email)
	for _, rec := range s.identities {
		if strings.ToLower(rec.Email) == needle {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *identityStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.PasswordHash = hash
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *identityStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	t := at
	rec.LastLoginAt = &t
	return nil
}

func (s *identityStore) SetTwoFactor(_ context.Context, id, secret string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.TwoFactorSecret = secret
	rec.TwoFactorOn = enabled
	if !enabled && secret == "" {
		delete(s.backupCodes, id)
	}
	return nil
}

func (s *identityStore) ReplaceBackupCodes(_ context.Context, id string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[id]; !ok {
		return store.ErrNotFound
	}
	cp := make([]string, len(hashes))
	copy(cp, hashes)
	s.backupCodes[id] = cp
	return nil
}

func (s *identityStore) GetBackupCodes(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backupCodes[id]
	cp := make([]string, len(codes))
	copy(cp, codes)
	return cp, nil
}

func (s *identityStore) ConsumeBackupCode(_ context.Context, id, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backupCodes[id]
	for i, c := range codes {
		if c == hash {
			s.backupCodes[id] = append(codes[:i], codes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

/*
====================================
REFRESH TOKENS
====================================
*/

type refreshStore Store

func (s *refreshStore) Create(_ context.Context, rec *store.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.refresh[rec.ID]; exists {
		return store.ErrConflict
	}
	cp := *rec
	s.refresh[rec.ID] = &cp
	return nil
}

func (s *refreshStore) GetByID(_ context.Context, id string) (*store.RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *refreshStore) Rotate(_ context.Context, oldID string, next *store.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refresh[oldID]
	if !ok {
		return store.ErrNotFound
	}
	if old.RevokedAt != nil {
		return store.ErrConflict
	}
	if _, exists := s.refresh[next.ID]; exists {
		return store.ErrConflict
	}
	now := time.Now()
	old.RevokedAt = &now
	old.ReplacedBy = next.ID
	cp := *next
	s.refresh[next.ID] = &cp
	return nil
}

func (s *refreshStore) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.RevokedAt == nil {
		t := at
		rec.RevokedAt = &t
	}
	return nil
}

func (s *refreshStore) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.refresh {
		if rec.UserID == userID && rec.RevokedAt == nil {
			t := at
			rec.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *refreshStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.refresh {
		if rec.ExpiresAt.Before(before) {
			delete(s.refresh, id)
			n++
		}
	}
	return n, nil
}

/*
====================================
SESSIONS
====================================
*/

type sessionStore Store

func (s *sessionStore) Create(_ context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return store.ErrConflict
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *sessionStore) GetByID(_ context.Context, id string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *sessionStore) GetByToken(_ context.Context, token string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Token == token {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *sessionStore) ListActive(_ context.Context, userID string, now time.Time) ([]*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.ExpiresAt.After(now) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *sessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *sessionStore) DeleteAllForUser(_ context.Context, userID, keepToken string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.UserID != userID {
			continue
		}
		if keepToken != "" && sess.Token == keepToken {
			continue
		}
		delete(s.sessions, id)
		n++
	}
	return n, nil
}

func (s *sessionStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

/*
====================================
RBAC
====================================
*/

type rbacStore Store

func (s *rbacStore) CreateRole(_ context.Context, r *store.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == r.Name {
			return store.ErrConflict
		}
	}
	cp := *r
	s.roles[r.ID] = &cp
	return nil
}

func (s *rbacStore) GetRoleByName(_ context.Context, name string) (*store.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *rbacStore) ListRoles(_ context.Context) ([]*store.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Role, 0, len(s.roles))
	for _, r := range s.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *rbacStore) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.roles, id)
	delete(s.rolePerms, id)
	for _, roleSet := range s.userRoles {
		delete(roleSet, id)
	}
	return nil
}

func (s *rbacStore) CreatePermission(_ context.Context, p *store.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.permissions {
		if existing.Code == p.Code {
			return store.ErrConflict
		}
	}
	cp := *p
	s.permissions[p.ID] = &cp
	return nil
}

func (s *rbacStore) ListPermissions(_ context.Context) ([]*store.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *rbacStore) DeletePermission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.permissions, id)
	for _, permSet := range s.rolePerms {
		delete(permSet, id)
	}
	return nil
}

func (s *rbacStore) GrantPermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return store.ErrNotFound
	}
	set := s.rolePerms[roleID]
	if set == nil {
		set = make(map[string]bool)
		s.rolePerms[roleID] = set
	}
	if set[permissionID] {
		return store.ErrConflict
	}
	set[permissionID] = true
	return nil
}

func (s *rbacStore) RevokePermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.rolePerms[roleID]
	if set == nil || !set[permissionID] {
		return store.ErrNotFound
	}
	delete(set, permissionID)
	return nil
}

func (s *rbacStore) AssignRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return store.ErrNotFound
	}
	set := s.userRoles[userID]
	if set == nil {
		set = make(map[string]bool)
		s.userRoles[userID] = set
	}
	if set[roleID] {
		return store.ErrConflict
	}
	set[roleID] = true
	return nil
}

func (s *rbacStore) UnassignRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.userRoles[userID]
	if set == nil || !set[roleID] {
		return store.ErrNotFound
	}
	delete(set, roleID)
	return nil
}

func (s *rbacStore) UserPermissions(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for roleID := range s.userRoles[userID] {
		for permID := range s.rolePerms[roleID] {
			p, ok := s.permissions[permID]
			if !ok || seen[p.Code] {
				continue
			}
			seen[p.Code] = true
			out = append(out, p.Code)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *rbacStore) UsersWithRole(_ context.Context, roleID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for userID, set := range s.userRoles {
		if set[roleID] {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

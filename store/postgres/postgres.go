// Package postgres implements store.Store over database/sql using the
// pgx stdlib driver. Schema is in schema.sql.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dealerdesk/authkit/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store wraps a *sql.DB. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open connects with the pgx driver and applies conservative pool limits.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing handle. The caller keeps ownership of db.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

func (s *Store) Identities() store.IdentityStore        { return &identityStore{db: s.db} }
func (s *Store) RefreshTokens() store.RefreshTokenStore { return &refreshStore{db: s.db} }
func (s *Store) Sessions() store.SessionStore           { return &sessionStore{db: s.db} }
func (s *Store) RBAC() store.RBACStore                  { return &rbacStore{db: s.db} }

// mapError translates driver failures into the package sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return store.ErrConflict
		case pgForeignKeyViolation:
			return store.ErrNotFound
		}
	}
	return err
}

/*
====================================
IDENTITIES
====================================
*/

type identityStore struct {
	db *sql.DB
}

const identityColumns = `id, email, name, password_hash, role, active,
	COALESCE(two_factor_secret, ''), two_factor_enabled, last_login_at, created_at, updated_at`

func scanIdentity(row *sql.Row) (*store.Identity, error) {
	var rec store.Identity
	var lastLogin sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.Email, &rec.Name, &rec.PasswordHash, &rec.Role, &rec.Active,
		&rec.TwoFactorSecret, &rec.TwoFactorOn, &lastLogin, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		rec.LastLoginAt = &t
	}
	return &rec, nil
}

func (s *identityStore) GetByID(ctx context.Context, id string) (*store.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

func (s *identityStore) GetByEmail(ctx context.Context, email string) (*store.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, email)
	return scanIdentity(row)
}

func (s *identityStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.execOne(ctx,
		`UPDATE identities SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

func (s *identityStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx,
		`UPDATE identities SET last_login_at = $2 WHERE id = $1`, id, at)
}

func (s *identityStore) SetTwoFactor(ctx context.Context, id, secret string, enabled bool) error {
	return s.execOne(ctx,
		`UPDATE identities SET two_factor_secret = NULLIF($2, ''), two_factor_enabled = $3, updated_at = now()
		 WHERE id = $1`, id, secret, enabled)
}

func (s *identityStore) ReplaceBackupCodes(ctx context.Context, id string, hashes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = $1`, id); err != nil {
		return mapError(err)
	}
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (user_id, code_hash) VALUES ($1, $2)`, id, h); err != nil {
			return mapError(err)
		}
	}
	return mapError(tx.Commit())
}

func (s *identityStore) GetBackupCodes(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code_hash FROM backup_codes WHERE user_id = $1`, id)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, mapError(err)
		}
		out = append(out, h)
	}
	return out, mapError(rows.Err())
}

func (s *identityStore) ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error) {
	// Row-count discipline makes concurrent consumption single-winner.
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = $1 AND code_hash = $2`, id, hash)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err)
	}
	return n > 0, nil
}

func (s *identityStore) execOne(ctx context.Context, query string, args ...any) error {
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

/*
====================================
REFRESH TOKENS
====================================
*/

type refreshStore struct {
	db *sql.DB
}

func (s *refreshStore) Create(ctx context.Context, rec *store.RefreshRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, secret_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, rec.SecretHash, rec.ExpiresAt, rec.CreatedAt)
	return mapError(err)
}

func (s *refreshStore) GetByID(ctx context.Context, id string) (*store.RefreshRecord, error) {
	var rec store.RefreshRecord
	var revoked sql.NullTime
	var replacedBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, secret_hash, expires_at, revoked_at, replaced_by, created_at
		 FROM refresh_tokens WHERE id = $1`, id).
		Scan(&rec.ID, &rec.UserID, &rec.SecretHash, &rec.ExpiresAt, &revoked, &replacedBy, &rec.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if revoked.Valid {
		t := revoked.Time
		rec.RevokedAt = &t
	}
	rec.ReplacedBy = replacedBy.String
	return &rec, nil
}

func (s *refreshStore) Rotate(ctx context.Context, oldID string, next *store.RefreshRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	// The revoked_at IS NULL guard is the single-winner gate: the loser
	// of a concurrent rotation updates zero rows and backs out.
	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, oldID)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		if _, getErr := s.GetByID(ctx, oldID); errors.Is(getErr, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, secret_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		next.ID, next.UserID, next.SecretHash, next.ExpiresAt, next.CreatedAt); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET replaced_by = $2 WHERE id = $1`, oldID, next.ID); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

func (s *refreshStore) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return mapError(err)
	} else if n == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (s *refreshStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, at)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	return n, mapError(err)
}

func (s *refreshStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	return n, mapError(err)
}

/*
====================================
SESSIONS
====================================
*/

type sessionStore struct {
	db *sql.DB
}

const sessionColumns = `id, user_id, token, COALESCE(ip_address, ''), COALESCE(user_agent, ''), expires_at, created_at`

func (s *sessionStore) Create(ctx context.Context, sess *store.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token, ip_address, user_agent, expires_at, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)`,
		sess.ID, sess.UserID, sess.Token, sess.IPAddress, sess.UserAgent, sess.ExpiresAt, sess.CreatedAt)
	return mapError(err)
}

func (s *sessionStore) GetByID(ctx context.Context, id string) (*store.Session, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

func (s *sessionStore) GetByToken(ctx context.Context, token string) (*store.Session, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token))
}

func (s *sessionStore) scanOne(row *sql.Row) (*store.Session, error) {
	var sess store.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.IPAddress,
		&sess.UserAgent, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &sess, nil
}

func (s *sessionStore) ListActive(ctx context.Context, userID string, now time.Time) ([]*store.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND expires_at > $2
		 ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*store.Session
	for rows.Next() {
		var sess store.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.IPAddress,
			&sess.UserAgent, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, &sess)
	}
	return out, mapError(rows.Err())
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return mapError(err)
	} else if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *sessionStore) DeleteAllForUser(ctx context.Context, userID, keepToken string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if keepToken == "" {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE user_id = $1`, userID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE user_id = $1 AND token <> $2`, userID, keepToken)
	}
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	return n, mapError(err)
}

func (s *sessionStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	return n, mapError(err)
}

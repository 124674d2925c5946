package authkit

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dealerdesk/authkit/jwt"
	"github.com/dealerdesk/authkit/password"
	"github.com/dealerdesk/authkit/permission"
	"github.com/dealerdesk/authkit/refresh"
	"github.com/dealerdesk/authkit/session"
	"github.com/dealerdesk/authkit/store"
)

// Builder assembles an [Engine]. Only the store is mandatory; everything
// else falls back to defaults from [Config].
type Builder struct {
	config     Config
	configSet  bool
	store      store.Store
	hasher     Hasher
	auditSink  AuditSink
	redis      *redis.Client
	registerer prometheus.Registerer
	now        func() time.Time
}

// New starts a builder chain:
//
//	engine, err := authkit.New().
//		WithStore(st).
//		WithConfig(cfg).
//		Build()
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration wholesale. Zero-valued
// fields are NOT filled in; callers usually start from their own struct
// literal and set everything they care about.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	b.configSet = true
	return b
}

// WithStore supplies the persistence backend. Required.
func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

// WithHasher overrides the default Argon2id credential hasher.
func (b *Builder) WithHasher(h Hasher) *Builder {
	b.hasher = h
	return b
}

// WithAuditSink enables audit dispatch to the given sink. The sink is
// only used when Config.Audit.Enabled is also true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRedis enables cross-process permission-cache invalidation over
// redis pub/sub. Optional; single-process deployments skip it.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithMetricsRegisterer sets where engine counters are registered.
// Defaults to prometheus.DefaultRegisterer.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// WithClock overrides the time source. Tests use this to control token
// expiry and cache TTLs.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration, wires every component, and returns
// a ready engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.config
	if !b.configSet {
		cfg = defaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("authkit: store is required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Clock:         now,
	})
	if err != nil {
		return nil, err
	}

	hasher := b.hasher
	if hasher == nil {
		hasher, err = password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, err
		}
	}

	refreshMgr, err := refresh.NewManager(tokens, b.store.RefreshTokens(), cfg.JWT.RefreshTTL, refresh.WithClock(now))
	if err != nil {
		return nil, err
	}

	sessionTTL := cfg.Session.Lifetime
	if sessionTTL == 0 {
		sessionTTL = cfg.JWT.RefreshTTL
	}
	sessions, err := session.NewRegistry(b.store.Sessions(), sessionTTL, session.WithClock(now))
	if err != nil {
		return nil, err
	}

	src := &rbacSource{store: b.store}
	resolver, err := permission.NewResolver(src, cfg.Permission.CacheTTL,
		permission.WithClock(now),
		permission.WithBypassRole(cfg.Permission.BypassRole),
	)
	if err != nil {
		return nil, err
	}

	rbac, err := permission.NewManager(b.store.RBAC(), resolver)
	if err != nil {
		return nil, err
	}

	var broadcast *permission.Broadcaster
	if b.redis != nil {
		broadcast = permission.NewBroadcaster(b.redis, resolver, cfg.Permission.InvalidationChannel)
	}

	var audit *auditDispatcher
	if cfg.Audit.Enabled && b.auditSink != nil {
		audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	}

	var metrics *Metrics
	if cfg.Metrics.Enabled {
		metrics = NewMetrics(b.registerer)
	}

	return &Engine{
		config:    cfg,
		store:     b.store,
		tokens:    tokens,
		hasher:    hasher,
		totp:      newTOTPManager(cfg.TOTP),
		refresh:   refreshMgr,
		sessions:  sessions,
		resolver:  resolver,
		rbac:      rbac,
		broadcast: broadcast,
		audit:     audit,
		metrics:   metrics,
		now:       now,
	}, nil
}

// rbacSource adapts the persistence layer to the permission resolver.
type rbacSource struct {
	store store.Store
}

func (s *rbacSource) PermissionCodes(ctx context.Context, userID string) ([]string, error) {
	return s.store.RBAC().UserPermissions(ctx, userID)
}

func (s *rbacSource) RoleLabel(ctx context.Context, userID string) (string, error) {
	rec, err := s.store.Identities().GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return rec.Role, nil
}

package goPasscode

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/goPasscode/internal"
	internalaudit "github.com/MrEthical07/goPasscode/internal/audit"
	internalflows "github.com/MrEthical07/goPasscode/internal/flows"
	"github.com/MrEthical07/goPasscode/internal/logging"
	"github.com/MrEthical07/goPasscode/internal/scope"
	"github.com/MrEthical07/goPasscode/internal/stores"
	"github.com/MrEthical07/goPasscode/jwt"
	"github.com/MrEthical07/goPasscode/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be used for one Build call.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	identities IdentityStore
	auditSink  AuditSink
	logger     *slog.Logger
	clock      Clock
	isAdmin    AdminPredicate

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The builder keeps its own copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the code store and, unless WithIdentityStore is
// used, the identity store. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore replaces the built-in Redis identity store, for example with the
// postgres package.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for operator warnings. Nothing is logged by default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for code issuing, redemption and token signing.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithAdminPredicate replaces the role-based admin check used by reviewer grant and
// revoke.
func (b *Builder) WithAdminPredicate(p AdminPredicate) *Builder {
	b.isAdmin = p
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	logger := b.logger
	if logger == nil {
		logger = logging.Discard()
	}

	persistentForcedOff := false
	if cfg.Security.ProductionMode && cfg.PersistentOTP.Enabled {
		cfg.PersistentOTP.Enabled = false
		persistentForcedOff = true
		logger.Warn("persistent development code disabled in production mode")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		identities: b.identities,
		otpStore:   stores.NewOTPStore(b.redis, cfg.OTP.RedisPrefix),
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		clock:      b.clock,
		isAdmin:    b.isAdmin,
		scopes:     scope.NewCache(),
	}
	if engine.identities == nil {
		engine.identities = NewRedisIdentityStore(b.redis, cfg.Identity.RedisPrefix)
	}
	if engine.isAdmin == nil {
		engine.isAdmin = roleAdminPredicate(cfg.Reviewer.AdminRoles)
	}
	if cfg.Reviewer.Enabled {
		engine.reservedEmail = internal.NormalizeIdentityKey(cfg.Reviewer.Email)
	}

	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NewSlogSink(logger)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           engine.now,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.jwtManager = jm

	engine.flows = internalflows.New(engine.flowDeps())

	if err := engine.syncPersistent(context.Background()); err != nil {
		engine.Close()
		return nil, err
	}

	if persistentForcedOff {
		engine.emitAudit(context.Background(), auditEventPersistentOTPDisabled, true, "", PurposePersistent.String(), nil, func() map[string]string {
			return map[string]string{"reason": "production_mode"}
		})
	}
	if cfg.Sweep.Enabled {
		if err := engine.StartSweeper(context.Background()); err != nil {
			engine.Close()
			return nil, err
		}
	}

	b.built = true

	return engine, nil
}

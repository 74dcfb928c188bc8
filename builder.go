package authgate

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/travelmate/authgate/attempt"
	"github.com/travelmate/authgate/internal/dispatch"
	"github.com/travelmate/authgate/jwt"
	"github.com/travelmate/authgate/password"
	"github.com/travelmate/authgate/quota"
	"github.com/travelmate/authgate/session"
)

// Builder assembles an [Engine]. Without a Redis client or explicit stores,
// all state is kept in process memory.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	quotaStore   quota.Store
	attemptStore attempt.Store
	originStore  attempt.OriginStore
	lockoutStore attempt.LockoutStore
	sessionRepo  session.Repository

	principals   PrincipalProvider
	passwords    PasswordVerifier
	secondFactor SecondFactorVerifier
	notifier     Notifier
	locator      LocationResolver
	auditSink    AuditSink
	logger       *slog.Logger
	now          func() time.Time

	built bool
}

// New returns a builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis makes Redis the default backend for quotas, attempts, lockouts
// and sessions. The stores run multi-key Lua scripts, so client must talk to
// a single Redis node or a failover group; Build rejects a cluster client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithQuotaStore(s quota.Store) *Builder {
	b.quotaStore = s
	return b
}

func (b *Builder) WithAttemptStore(s attempt.Store) *Builder {
	b.attemptStore = s
	return b
}

func (b *Builder) WithOriginStore(s attempt.OriginStore) *Builder {
	b.originStore = s
	return b
}

func (b *Builder) WithLockoutStore(s attempt.LockoutStore) *Builder {
	b.lockoutStore = s
	return b
}

func (b *Builder) WithSessionRepository(r session.Repository) *Builder {
	b.sessionRepo = r
	return b
}

func (b *Builder) WithPrincipalProvider(p PrincipalProvider) *Builder {
	b.principals = p
	return b
}

func (b *Builder) WithPasswordVerifier(v PasswordVerifier) *Builder {
	b.passwords = v
	return b
}

func (b *Builder) WithSecondFactorVerifier(v SecondFactorVerifier) *Builder {
	b.secondFactor = v
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLocationResolver(r LocationResolver) *Builder {
	b.locator = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now across every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a ready engine. A builder
// can only be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.principals == nil {
		return nil, errors.New("principal provider required")
	}
	if _, ok := b.redis.(*redis.ClusterClient); ok {
		return nil, errors.New("redis cluster clients are not supported")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	jwtCfg := cfg.JWT
	if jwtCfg.Now == nil {
		jwtCfg.Now = now
	}
	tokens, err := jwt.NewManager(jwtCfg)
	if err != nil {
		return nil, err
	}

	b.defaultBackends(cfg.KeyPrefix)

	limiter := quota.NewLimiter(b.quotaStore, quota.WithClock(now))
	if err := limiter.Register(ScopeIP, cfg.Quota.IP); err != nil {
		return nil, err
	}
	if err := limiter.Register(ScopePrincipal, cfg.Quota.Principal); err != nil {
		return nil, err
	}
	for _, ep := range cfg.Quota.Endpoints {
		if err := limiter.Register(endpointScopePrefix+ep.Prefix, ep.Policy); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		config:       cfg,
		logger:       logger.With("component", "authgate"),
		now:          now,
		limiter:      limiter,
		endpoints:    newEndpointTable(cfg.Quota.Endpoints),
		guard:        attempt.NewGuard(b.attemptStore, b.originStore, cfg.Attempt, now),
		lockout:      attempt.NewLockout(b.lockoutStore, cfg.Lockout, now),
		tokens:       tokens,
		principals:   b.principals,
		passwords:    b.passwords,
		secondFactor: b.secondFactor,
		notifier:     b.notifier,
		locator:      b.locator,
		metrics:      NewMetrics(cfg.Metrics),
	}
	if e.passwords == nil {
		e.passwords = password.NewVerifier(password.DefaultArgon2Params())
	}
	if e.secondFactor == nil {
		e.secondFactor = password.NewTOTPVerifier(now)
	}
	e.sessions = session.NewStore(b.sessionRepo, session.MinterFunc(e.mintAccess), cfg.Session, now)

	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = NoOpSink{}
		}
		e.audit = dispatch.New[AuditEvent](dispatch.Config{
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink.Emit)
	}
	if e.notifier != nil {
		e.alerts = dispatch.New[AnomalyAlert](dispatch.Config{
			BufferSize: cfg.Notify.BufferSize,
			DropIfFull: true,
		}, e.deliverAlert)
	}

	b.built = true
	return e, nil
}

func (b *Builder) defaultBackends(prefix string) {
	var mem *attempt.MemoryStore
	memAttempts := func() *attempt.MemoryStore {
		if mem == nil {
			mem = attempt.NewMemoryStore()
		}
		return mem
	}

	if b.redis != nil {
		rs := attempt.NewRedisStore(b.redis, prefix+":att")
		if b.quotaStore == nil {
			b.quotaStore = quota.NewRedisStore(b.redis, prefix+":quota")
		}
		if b.attemptStore == nil {
			b.attemptStore = rs
		}
		if b.originStore == nil {
			b.originStore = rs
		}
		if b.lockoutStore == nil {
			b.lockoutStore = rs
		}
		if b.sessionRepo == nil {
			b.sessionRepo = session.NewRedisRepository(b.redis, prefix+":sess")
		}
		return
	}

	if b.quotaStore == nil {
		b.quotaStore = quota.NewMemoryStore()
	}
	if b.attemptStore == nil {
		b.attemptStore = memAttempts()
	}
	if b.originStore == nil {
		b.originStore = memAttempts()
	}
	if b.lockoutStore == nil {
		b.lockoutStore = memAttempts()
	}
	if b.sessionRepo == nil {
		b.sessionRepo = session.NewMemoryRepository()
	}
}

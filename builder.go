package sca

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	otellog "go.opentelemetry.io/otel/log"

	internalaudit "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/audit"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/logging"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/stores"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/store"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/token"
)

// Builder assembles an [Engine]. A Builder is single use.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	store  store.Store
	redis  redis.UniversalClient

	providers map[Method]ProofProvider
	delivery  DeliveryChannel

	subjects SubjectProvider
	history  TransactionHistory

	auditSink      AuditSink
	loggerProvider otellog.LoggerProvider
	metrics        *Metrics
	clock          func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config:    DefaultConfig(),
		providers: make(map[Method]ProofProvider),
	}
}

// WithConfig replaces the configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the shared challenge store. It takes precedence over
// [Builder.WithRedis].
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis backs the challenge store with client, namespaced by
// Config.Store.KeyPrefix at Build time.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithProvider registers the provider for a push or biometric method.
// One-time codes are configured with [Builder.WithDeliveryChannel].
func (b *Builder) WithProvider(m Method, p ProofProvider) *Builder {
	b.providers[m] = p
	return b
}

// WithDeliveryChannel enables the one-time-code method.
func (b *Builder) WithDeliveryChannel(ch DeliveryChannel) *Builder {
	b.delivery = ch
	return b
}

// WithSubjectProvider sets the subject profile source.
func (b *Builder) WithSubjectProvider(p SubjectProvider) *Builder {
	b.subjects = p
	return b
}

// WithTransactionHistory sets the transaction history source.
func (b *Builder) WithTransactionHistory(h TransactionHistory) *Builder {
	b.history = h
	return b
}

// WithAuditSink routes audit events through an async dispatcher to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLoggerProvider sets the OpenTelemetry logger provider. Without one the
// engine does not log.
func (b *Builder) WithLoggerProvider(p otellog.LoggerProvider) *Builder {
	b.loggerProvider = p
	return b
}

// WithMetrics shares m with other components, such as the security
// middleware. Without it the engine creates its own from Config.Metrics.
func (b *Builder) WithMetrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}

// WithClock overrides time.Now. Intended for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration and dependencies and returns the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend := b.store
	if backend == nil && b.redis != nil {
		backend = store.NewRedis(b.redis, cfg.Store.KeyPrefix)
	}
	if backend == nil {
		return nil, errors.New("challenge store required")
	}
	if b.subjects == nil {
		return nil, errors.New("subject provider required")
	}
	if b.history == nil {
		return nil, errors.New("transaction history required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	methods, err := buildMethods(cfg, b.providers, b.delivery, clock)
	if err != nil {
		return nil, err
	}

	tokenKey := deriveKey(cfg.Security.SigningKey, tokenKeyInfo)
	retired, err := cfg.Token.retiredKeys()
	if err != nil {
		return nil, err
	}
	var verifyKeys map[string][]byte
	if len(retired) > 0 {
		verifyKeys = map[string][]byte{cfg.Token.KeyID: tokenKey}
		for kid, key := range retired {
			verifyKeys[kid] = deriveKey(key, tokenKeyInfo)
		}
	}

	tokens, err := token.NewManager(token.Config{
		TTL:        cfg.Token.Expiry,
		SigningKey: tokenKey,
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		Leeway:     cfg.Token.Leeway,
		KeyID:      cfg.Token.KeyID,
		VerifyKeys: verifyKeys,
		Now:        clock,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	metrics := b.metrics
	if metrics == nil {
		metrics = NewMetrics(cfg.Metrics)
	}

	var dispatcher *internalaudit.Dispatcher
	if b.auditSink != nil {
		dispatcher = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Now:        clock,
		}, b.auditSink)
	}

	b.built = true

	return &Engine{
		config:       cfg,
		store:        backend,
		challenges:   stores.NewChallengeStore(backend, clock),
		tokens:       stores.NewTokenStore(backend),
		tokenManager: tokens,
		methods:      methods,
		subjects:     b.subjects,
		history:      b.history,
		audit:        dispatcher,
		metrics:      metrics,
		logger:       logging.New(b.loggerProvider, cfg.Logging.Level),
		now:          clock,
	}, nil
}

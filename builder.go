package formguard

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/redis/go-redis/v9"

	ratelimit "github.com/formguard/formguard/internal/rate"
	"github.com/formguard/formguard/internal/stores"
)

// Builder assembles a [Guard]. Every With method returns the builder for
// chaining; Build validates the configuration and wires the stores.
type Builder struct {
	config   *Config
	redis    redis.UniversalClient
	creds    CredentialProvider
	renderer CaptchaRenderer
	sink     AuditSink
	clock    Clock
	rand     io.Reader
}

// New returns a builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration. Zero-valued fields are
// filled from defaults during Build.
func (b *Builder) WithConfig(cfg *Config) *Builder {
	if cfg != nil {
		b.config = cloneConfig(cfg)
	}
	return b
}

// WithRedis sets the Redis client backing all guard state. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialProvider sets the store for TOTP secrets and backup codes.
// Required when TOTP or backup-code operations are used.
func (b *Builder) WithCredentialProvider(p CredentialProvider) *Builder {
	b.creds = p
	return b
}

// WithCaptchaRenderer sets the challenge renderer. Defaults to
// [PlainTextRenderer].
func (b *Builder) WithCaptchaRenderer(r CaptchaRenderer) *Builder {
	b.renderer = r
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithRandReader overrides the entropy source. Intended for tests.
func (b *Builder) WithRandReader(r io.Reader) *Builder {
	b.rand = r
	return b
}

// Build validates the configuration and returns a ready Guard.
func (b *Builder) Build() (*Guard, error) {
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}
	entropy := b.rand
	if entropy == nil {
		entropy = rand.Reader
	}
	renderer := b.renderer
	if renderer == nil {
		renderer = PlainTextRenderer{}
	}

	policies := make(map[string]ratelimit.Policy, len(cfg.RateLimit.Policies))
	for action, p := range cfg.RateLimit.Policies {
		policies[action] = ratelimit.Policy(p)
	}

	prefix := cfg.Store.RedisPrefix

	g := &Guard{
		config:   cfg,
		clock:    clock,
		rand:     entropy,
		nonces:   stores.NewNonceStore(b.redis, prefix),
		captchas: stores.NewCaptchaStore(b.redis, prefix),
		steps:    stores.NewStepStore(b.redis, prefix),
		limiter: ratelimit.New(b.redis, prefix, policies,
			ratelimit.Policy(cfg.RateLimit.DefaultPolicy), clock.Now),
		creds:    b.creds,
		renderer: renderer,
		totp:     newTOTPManager(cfg.TOTP, entropy),
		audit:    newAuditDispatcher(cfg.Audit, b.sink),
		metrics:  NewMetrics(cfg.Metrics),
	}

	return g, nil
}

package formguard

import (
	"errors"
	"fmt"
	"time"
)

// Config controls every guard subsystem. Zero values are filled from
// defaultConfig() during Build, so callers only set what they change.
type Config struct {
	TOTP       TOTPConfig
	Captcha    CaptchaConfig
	RateLimit  RateLimitConfig
	AntiReplay AntiReplayConfig
	Store      StoreConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

// TOTPConfig controls code generation and verification.
type TOTPConfig struct {
	// Issuer appears in the otpauth:// provisioning URI.
	Issuer string
	// Digits per code. 6 to 8.
	Digits int
	// Period is the step length. Default 30s.
	Period time.Duration
	// Skew is how many adjacent steps each side of now are accepted,
	// tolerating clock drift. Zero means the default of 1; use SkewNone to
	// accept only the current step. At most 2.
	Skew int

	// BackupCodeCount is how many codes one generation produces.
	BackupCodeCount int
	// BackupCodeLength is digits per code before grouping.
	BackupCodeLength int
	// BackupHashCost is the bcrypt cost for stored code hashes.
	BackupHashCost int
}

// CaptchaConfig controls challenge issuance.
type CaptchaConfig struct {
	Length  int
	Charset string
	TTL     time.Duration
	// FailOpen lets requests through when the challenge store is down
	// instead of denying them. Default false: a captcha outage should not
	// silently disable bot protection.
	FailOpen bool
}

// RatePolicy is one action's attempt budget. See [RateLimitConfig].
type RatePolicy struct {
	MaxAttempts    int
	Window         time.Duration
	ResetOnSuccess bool
}

// RateLimitConfig maps action names to policies. Actions without an entry use
// DefaultPolicy.
type RateLimitConfig struct {
	Policies      map[string]RatePolicy
	DefaultPolicy RatePolicy
}

// AntiReplayConfig controls form tokens, nonces and timing windows.
type AntiReplayConfig struct {
	// SigningKey signs form tokens (HMAC-SHA256). Minimum 32 bytes. No
	// default; Build fails without one when anti-replay is in use.
	SigningKey []byte
	// TokenTTL bounds how long an issued form token validates.
	TokenTTL time.Duration
	// NonceTTL bounds how long an issued nonce stays consumable.
	NonceTTL time.Duration
	// MinFormTime rejects submissions faster than a human could fill the
	// form. MaxFormTime rejects stale pages.
	MinFormTime time.Duration
	MaxFormTime time.Duration
	// SkipSessionBinding drops the token's session claim so validation no
	// longer requires the submitting session to match. Binding is on by
	// default.
	SkipSessionBinding bool
}

// StoreConfig controls the Redis keyspace and per-operation deadlines.
type StoreConfig struct {
	// RedisPrefix namespaces every key this module writes. Default "fg".
	RedisPrefix string
	// OpTimeout caps each store round trip. Applied on top of the caller's
	// context, never extending it.
	OpTimeout time.Duration
}

// AuditConfig controls the audit event pipeline. The pipeline runs by
// default; set Disabled to switch it off.
type AuditConfig struct {
	Disabled   bool
	BufferSize int
	// BlockIfFull makes emitters wait for buffer room instead of dropping
	// the event. The default drops and bumps the counter observable via
	// Guard.AuditDropped.
	BlockIfFull bool
}

// MetricsConfig controls the in-process counters. Counters run by default;
// set Disabled to switch them off.
type MetricsConfig struct {
	Disabled bool
	// EnableLatencyHistograms additionally records Authorize latency
	// buckets.
	EnableLatencyHistograms bool
}

// SkewNone configures TOTP verification to accept only the current step.
// The Skew field treats zero as "use the default", so turning drift
// tolerance off needs an explicit sentinel.
const SkewNone = -1

func defaultConfig() *Config {
	return &Config{
		TOTP: TOTPConfig{
			Issuer:           "formguard",
			Digits:           6,
			Period:           30 * time.Second,
			Skew:             1,
			BackupCodeCount:  8,
			BackupCodeLength: 8,
			BackupHashCost:   10,
		},
		Captcha: CaptchaConfig{
			Length: 5,
			// No 0/O/1/I, the usual transcription traps.
			Charset: "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
			TTL:     5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			DefaultPolicy: RatePolicy{
				MaxAttempts: 5,
				Window:      15 * time.Minute,
			},
		},
		AntiReplay: AntiReplayConfig{
			TokenTTL:    time.Hour,
			NonceTTL:    5 * time.Minute,
			MinFormTime: 2 * time.Second,
			MaxFormTime: 30 * time.Minute,
		},
		Store: StoreConfig{
			RedisPrefix: "fg",
			OpTimeout:   2 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 256,
		},
	}
}

// cloneConfig deep-copies cfg so the Guard owns its configuration after Build.
func cloneConfig(cfg *Config) *Config {
	out := *cfg
	if cfg.AntiReplay.SigningKey != nil {
		out.AntiReplay.SigningKey = make([]byte, len(cfg.AntiReplay.SigningKey))
		copy(out.AntiReplay.SigningKey, cfg.AntiReplay.SigningKey)
	}
	if cfg.RateLimit.Policies != nil {
		out.RateLimit.Policies = make(map[string]RatePolicy, len(cfg.RateLimit.Policies))
		for k, v := range cfg.RateLimit.Policies {
			out.RateLimit.Policies[k] = v
		}
	}
	return &out
}

// applyDefaults fills zero-valued fields from defaultConfig. Boolean knobs
// are all opt-out (Disabled, SkipSessionBinding, BlockIfFull) so their zero
// values already are the default; Skew uses the SkewNone sentinel for the
// same reason.
func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.TOTP.Issuer == "" {
		cfg.TOTP.Issuer = def.TOTP.Issuer
	}
	if cfg.TOTP.Skew == 0 {
		cfg.TOTP.Skew = def.TOTP.Skew
	}
	if cfg.TOTP.Digits == 0 {
		cfg.TOTP.Digits = def.TOTP.Digits
	}
	if cfg.TOTP.Period == 0 {
		cfg.TOTP.Period = def.TOTP.Period
	}
	if cfg.TOTP.BackupCodeCount == 0 {
		cfg.TOTP.BackupCodeCount = def.TOTP.BackupCodeCount
	}
	if cfg.TOTP.BackupCodeLength == 0 {
		cfg.TOTP.BackupCodeLength = def.TOTP.BackupCodeLength
	}
	if cfg.TOTP.BackupHashCost == 0 {
		cfg.TOTP.BackupHashCost = def.TOTP.BackupHashCost
	}
	if cfg.Captcha.Length == 0 {
		cfg.Captcha.Length = def.Captcha.Length
	}
	if cfg.Captcha.Charset == "" {
		cfg.Captcha.Charset = def.Captcha.Charset
	}
	if cfg.Captcha.TTL == 0 {
		cfg.Captcha.TTL = def.Captcha.TTL
	}
	if cfg.RateLimit.DefaultPolicy.MaxAttempts == 0 {
		cfg.RateLimit.DefaultPolicy = def.RateLimit.DefaultPolicy
	}
	if cfg.AntiReplay.TokenTTL == 0 {
		cfg.AntiReplay.TokenTTL = def.AntiReplay.TokenTTL
	}
	if cfg.AntiReplay.NonceTTL == 0 {
		cfg.AntiReplay.NonceTTL = def.AntiReplay.NonceTTL
	}
	if cfg.AntiReplay.MinFormTime == 0 {
		cfg.AntiReplay.MinFormTime = def.AntiReplay.MinFormTime
	}
	if cfg.AntiReplay.MaxFormTime == 0 {
		cfg.AntiReplay.MaxFormTime = def.AntiReplay.MaxFormTime
	}
	if cfg.Store.RedisPrefix == "" {
		cfg.Store.RedisPrefix = def.Store.RedisPrefix
	}
	if cfg.Store.OpTimeout == 0 {
		cfg.Store.OpTimeout = def.Store.OpTimeout
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = def.Audit.BufferSize
	}
}

// Validate rejects configurations that would weaken the guard or misbehave at
// runtime. Called by Build after defaults are applied.
func (c *Config) Validate() error {
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return fmt.Errorf("config: totp digits must be 6-8, got %d", c.TOTP.Digits)
	}
	if c.TOTP.Skew < SkewNone || c.TOTP.Skew > 2 {
		return fmt.Errorf("config: totp skew must be SkewNone or 1-2, got %d", c.TOTP.Skew)
	}
	if c.TOTP.Period < time.Second {
		return fmt.Errorf("config: totp period too short: %v", c.TOTP.Period)
	}
	if c.TOTP.BackupCodeLength < 8 || c.TOTP.BackupCodeLength > 16 {
		return fmt.Errorf("config: backup code length must be 8-16, got %d", c.TOTP.BackupCodeLength)
	}
	if len(c.AntiReplay.SigningKey) > 0 && len(c.AntiReplay.SigningKey) < 32 {
		return errors.New("config: anti-replay signing key must be at least 32 bytes")
	}
	if c.AntiReplay.MinFormTime >= c.AntiReplay.MaxFormTime {
		return fmt.Errorf("config: min form time %v must be below max form time %v",
			c.AntiReplay.MinFormTime, c.AntiReplay.MaxFormTime)
	}
	if c.Captcha.Length < 3 {
		return fmt.Errorf("config: captcha length must be at least 3, got %d", c.Captcha.Length)
	}
	if len(c.Captcha.Charset) < 2 {
		return errors.New("config: captcha charset too small")
	}
	if c.RateLimit.DefaultPolicy.MaxAttempts < 1 || c.RateLimit.DefaultPolicy.Window <= 0 {
		return errors.New("config: default rate policy requires positive attempts and window")
	}
	for action, p := range c.RateLimit.Policies {
		if p.MaxAttempts < 1 || p.Window <= 0 {
			return fmt.Errorf("config: rate policy for %q requires positive attempts and window", action)
		}
	}
	return nil
}

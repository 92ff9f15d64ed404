package formguard

import (
	"context"
	"time"
)

// Check identifies one guard stage. Checks compose into a [CheckSet]; the
// pipeline always runs them in a fixed order regardless of how the set was
// built.
type Check uint8

const (
	CheckNone Check = iota
	CheckAntiReplay
	CheckRateLimit
	CheckCaptcha
	CheckTOTP
)

// String returns the stable name used in verdicts and audit events.
func (c Check) String() string {
	switch c {
	case CheckAntiReplay:
		return "anti_replay"
	case CheckRateLimit:
		return "rate_limit"
	case CheckCaptcha:
		return "captcha"
	case CheckTOTP:
		return "totp"
	default:
		return "none"
	}
}

// CheckSet is a bitmask of guard stages to run for one request.
type CheckSet uint8

// Checks builds a CheckSet from individual checks.
func Checks(checks ...Check) CheckSet {
	var s CheckSet
	for _, c := range checks {
		if c == CheckNone {
			continue
		}
		s |= 1 << (c - 1)
	}
	return s
}

// Has reports whether the set contains the given check.
func (s CheckSet) Has(c Check) bool {
	if c == CheckNone {
		return false
	}
	return s&(1<<(c-1)) != 0
}

// Reason is a stable machine-readable denial cause carried on verdicts and
// audit events. Values are wire-safe strings, not display text.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonExpiredToken     Reason = "expired_token"
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonSessionMismatch  Reason = "session_mismatch"
	ReasonReplayedNonce    Reason = "replayed_nonce"
	ReasonTooFast          Reason = "too_fast"
	ReasonTooSlow          Reason = "too_slow"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonCaptchaInvalid   Reason = "captcha_invalid"
	ReasonCaptchaExpired   Reason = "captcha_expired"
	ReasonTOTPInvalid      Reason = "totp_invalid"
	ReasonTOTPReplayed     Reason = "totp_replayed"
	ReasonCodeMalformed    Reason = "code_malformed"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Request carries everything one authorization decision needs. Fields that a
// requested check does not use may stay zero.
type Request struct {
	// Identity keys the rate buckets, TOTP state and backup codes. Required
	// whenever CheckRateLimit or CheckTOTP is requested.
	Identity string
	// Action names the operation being guarded ("login", "register", ...).
	// Selects the rate policy.
	Action string
	// SessionID binds form tokens to a browser session. Compared against the
	// session claim inside the token when session binding is enabled.
	SessionID string

	FormToken string
	Nonce     string

	CaptchaID     string
	CaptchaAnswer string

	TOTPCode string
}

// Verdict is the outcome of one [Guard.Authorize] call.
type Verdict struct {
	OK bool
	// FailedCheck names the first stage that denied the request.
	FailedCheck Check
	Reason      Reason
	// RetryAfter is set on rate-limit denials: how long until the bucket
	// resets. Zero otherwise.
	RetryAfter time.Duration
}

// FormTokens is the pair handed to a page render: a signed token proving the
// form was issued by us, and a single-use nonce.
type FormTokens struct {
	Token    string
	Nonce    string
	IssuedAt time.Time
}

// TOTPEnrollment is returned by [Guard.EnrollTOTP]. Secret is the base32
// shared secret; URI is the otpauth:// provisioning URI for QR rendering.
// Neither is persisted as plaintext anywhere else, show them once.
type TOTPEnrollment struct {
	Secret string
	URI    string
}

// TOTPSecretRecord is the persisted TOTP state for one identity.
type TOTPSecretRecord struct {
	Secret string
	// Enabled flips to true when enrollment is confirmed with a valid code.
	// Unconfirmed secrets never satisfy VerifyTOTP.
	Enabled bool
}

// BackupCodeRecord is one stored backup code: a salted hash plus its
// consumption state. Plaintext codes exist only in the generation response.
type BackupCodeRecord struct {
	Hash   []byte
	Used   bool
	UsedAt time.Time
}

// CredentialProvider persists per-identity TOTP secrets and backup codes.
// Implementations decide the storage medium; [credstore] ships a Redis one.
//
// ConsumeBackupCode must be atomic: when two concurrent calls target the same
// hash, exactly one may observe consumed=true.
type CredentialProvider interface {
	TOTPSecret(ctx context.Context, identity string) (*TOTPSecretRecord, error)
	SaveTOTPSecret(ctx context.Context, identity string, record *TOTPSecretRecord) error
	DeleteTOTPSecret(ctx context.Context, identity string) error

	BackupCodes(ctx context.Context, identity string) ([]BackupCodeRecord, error)
	ReplaceBackupCodes(ctx context.Context, identity string, records []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, identity string, hash []byte) (consumed bool, err error)
}

// CaptchaChallenge is a rendered challenge handed to the client. The answer
// never leaves the server.
type CaptchaChallenge struct {
	ID        string
	Rendered  []byte
	MediaType string
	ExpiresAt time.Time
}

// CaptchaRenderer turns a plaintext answer into the artifact shown to the
// user. The default renderer emits the answer as text/plain; production
// deployments plug in an image or audio renderer.
type CaptchaRenderer interface {
	Render(answer string) (rendered []byte, mediaType string, err error)
}

// Clock abstracts time for tests. Production uses the real clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

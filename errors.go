package formguard

import "errors"

var (
	// ErrGuardNotReady is returned when an operation is invoked on a Guard
	// that was not constructed through [Builder.Build].
	ErrGuardNotReady = errors.New("guard not initialized")
	// ErrIdentityRequired is returned when a stateful operation is called
	// without a principal key.
	ErrIdentityRequired = errors.New("identity required")
	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached or times out. It is the only failure surfaced as a system
	// fault; the accompanying verdict still denies the request.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrCodeMalformed is returned for submissions that fail format checks
	// (wrong length, non-numeric TOTP digits). Rejected before any stateful
	// check runs.
	ErrCodeMalformed = errors.New("malformed code")
	// ErrTOTPNotEnrolled is returned when no secret record exists for the
	// identity.
	ErrTOTPNotEnrolled = errors.New("totp not enrolled")
	// ErrTOTPNotEnabled is returned when a secret exists but enrollment was
	// never confirmed.
	ErrTOTPNotEnabled = errors.New("totp enrollment not confirmed")
	// ErrTOTPInvalid is returned when a well-formed code matches no step in
	// the drift window.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrTOTPReplayed is returned when a code matches a step that has
	// already validated. Logged distinctly from ErrTOTPInvalid; callers may
	// collapse the two in user-facing output.
	ErrTOTPReplayed = errors.New("totp code replayed")

	// ErrBackupCodeInvalid is returned when a backup code matches no unused
	// hash for the identity.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrBackupCodeReplayed is returned when a backup code matches a hash
	// that is already consumed.
	ErrBackupCodeReplayed = errors.New("backup code already used")
	// ErrBackupCodesNotConfigured is returned when the identity has no
	// backup codes on record.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")

	// ErrCaptchaExpired is returned when a challenge id is unknown, already
	// consumed, or past its deadline.
	ErrCaptchaExpired = errors.New("captcha challenge expired or unknown")
	// ErrCaptchaInvalid is returned when the challenge existed but the
	// submitted answer did not match. The challenge is burned either way.
	ErrCaptchaInvalid = errors.New("captcha answer mismatch")

	// ErrRateLimited is returned when the (identity, action) bucket is over
	// its threshold.
	ErrRateLimited = errors.New("rate limited")

	// ErrTokenExpired is returned when the form token's validity window has
	// elapsed.
	ErrTokenExpired = errors.New("form token expired")
	// ErrTokenInvalid is returned when the form token fails signature or
	// structural checks.
	ErrTokenInvalid = errors.New("invalid form token")
	// ErrTokenSessionMismatch is returned when a session-bound token is
	// submitted under a different session.
	ErrTokenSessionMismatch = errors.New("form token session mismatch")
	// ErrNonceReplayed is returned when the request nonce is absent from
	// the issued set: spent, expired, or never issued.
	ErrNonceReplayed = errors.New("request nonce replayed")
	// ErrFormTooFast is returned when the submission arrives before the
	// minimum form-fill time. Treated as automated.
	ErrFormTooFast = errors.New("form submitted too fast")
	// ErrFormTooSlow is returned when the submission arrives after the
	// maximum form-fill time. Treated as stale.
	ErrFormTooSlow = errors.New("form submitted too slow")
)

// Package formguard is a transport-agnostic request-authentication guard for
// form-driven endpoints: TOTP second factor with backup codes, captcha
// challenges, per-identity rate limiting, and anti-replay protection built
// from signed form tokens, single-use nonces and form-timing windows.
//
// The [Guard] façade composes the four engines behind one
// [Guard.Authorize] call; each engine is also usable on its own
// (IssueCaptcha/ValidateCaptcha, IssueFormTokens/ValidateFormTokens,
// EnrollTOTP/VerifyTOTP, GenerateBackupCodes/ConsumeBackupCode). All shared
// state lives in Redis so multiple instances of the embedding application
// see the same nonces, counters and watermarks.
//
// # Architecture boundaries
//
// formguard is a library, not a service. It owns decisions, not transport:
//
//   - No HTTP handlers, middleware or routing. Callers extract the relevant
//     request fields and pass them in a [Request].
//   - No user database. TOTP secrets and backup codes are persisted through
//     the caller-supplied [CredentialProvider]; credstore ships a Redis
//     reference implementation.
//   - No response rendering. Verdicts carry machine-readable reasons; how
//     they surface to end users is the caller's concern.
//
// # Failure posture
//
// Store outages deny by default. The anti-replay and rate-limit stages
// always fail closed; the captcha stage fails closed unless
// [CaptchaConfig].FailOpen is set. Denials caused by an outage carry the
// store_unavailable reason so operators can tell them from policy denials.
package formguard

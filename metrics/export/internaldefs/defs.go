package internaldefs

import (
	"github.com/formguard/formguard"
)

// CounterDef maps one core counter to its exported name.
type CounterDef struct {
	ID   formguard.MetricID
	Name string
	Help string
}

// HistogramDef maps one core histogram to its exported name.
type HistogramDef struct {
	ID   formguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: formguard.MetricAuthorizeAllowed, Name: "formguard_authorize_allowed_total", Help: "Authorize calls that passed every requested check."},
	{ID: formguard.MetricAuthorizeDenied, Name: "formguard_authorize_denied_total", Help: "Authorize calls denied by any check."},
	{ID: formguard.MetricAntiReplayIssued, Name: "formguard_anti_replay_issued_total", Help: "Issued form token and nonce pairs."},
	{ID: formguard.MetricAntiReplayRejected, Name: "formguard_anti_replay_rejected_total", Help: "Submissions rejected by the anti-replay stage."},
	{ID: formguard.MetricNonceReplayDetected, Name: "formguard_nonce_replay_detected_total", Help: "Submissions that reused a spent or unknown nonce."},
	{ID: formguard.MetricRateLimitHit, Name: "formguard_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: formguard.MetricCaptchaIssued, Name: "formguard_captcha_issued_total", Help: "Issued captcha challenges."},
	{ID: formguard.MetricCaptchaSolved, Name: "formguard_captcha_solved_total", Help: "Captcha challenges solved correctly."},
	{ID: formguard.MetricCaptchaFailed, Name: "formguard_captcha_failed_total", Help: "Captcha validations that failed."},
	{ID: formguard.MetricTOTPSuccess, Name: "formguard_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: formguard.MetricTOTPFailure, Name: "formguard_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: formguard.MetricTOTPReplayDetected, Name: "formguard_totp_replay_detected_total", Help: "TOTP codes rejected as already consumed."},
	{ID: formguard.MetricBackupCodeUsed, Name: "formguard_backup_code_used_total", Help: "Successful backup-code consumptions."},
	{ID: formguard.MetricBackupCodeFailed, Name: "formguard_backup_code_failed_total", Help: "Failed backup-code submissions."},
	{ID: formguard.MetricBackupCodeReplayDetected, Name: "formguard_backup_code_replay_detected_total", Help: "Backup codes resubmitted after consumption."},
	{ID: formguard.MetricBackupCodeRegenerated, Name: "formguard_backup_code_regenerated_total", Help: "Backup-code regeneration operations."},
	{ID: formguard.MetricStoreFault, Name: "formguard_store_fault_total", Help: "Backing store failures observed by any stage."},
}

// HistogramDefs lists every exported histogram in a stable order.
var HistogramDefs = []HistogramDef{
	{ID: formguard.MetricAuthorizeLatency, Name: "formguard_authorize_latency_seconds", Help: "Authorize latency histogram."},
}

// HistogramBounds are the upper bounds of the core latency buckets, in
// seconds, as rendered in the Prometheus exposition.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are the bound labels in instrument-name-safe form.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed width.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form both
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

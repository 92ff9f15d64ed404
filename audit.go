package formguard

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event types emitted by the guard.
const (
	AuditAuthorizeAllowed = "authorize_allowed"
	AuditAuthorizeDenied  = "authorize_denied"

	AuditAntiReplayIssued   = "anti_replay_issued"
	AuditAntiReplayRejected = "anti_replay_rejected"

	AuditRateLimitTriggered = "rate_limit_triggered"

	AuditCaptchaIssued = "captcha_issued"
	AuditCaptchaSolved = "captcha_solved"
	AuditCaptchaFailed = "captcha_failed"

	AuditTOTPEnrolled  = "totp_enrolled"
	AuditTOTPConfirmed = "totp_confirmed"
	AuditTOTPDisabled  = "totp_disabled"
	AuditTOTPVerified  = "totp_verified"
	AuditTOTPRejected  = "totp_rejected"
	AuditTOTPReplay    = "totp_replay_detected"

	AuditBackupCodesGenerated = "backup_codes_generated"
	AuditBackupCodeUsed       = "backup_code_used"
	AuditBackupCodeFailed     = "backup_code_failed"
	AuditBackupCodeReplay     = "backup_code_replay_detected"

	AuditStoreFault = "store_fault"
)

// AuditEvent is one structured guard event. Events never contain secrets,
// codes, or captcha answers.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Identity  string            `json:"identity,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Action    string            `json:"action,omitempty"`
	Success   bool              `json:"success"`
	Reason    Reason            `json:"reason,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives guard events. Emit runs on the dispatcher goroutine, so
// a slow sink delays delivery but never the hot path.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel for external consumers.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to the given writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

package formguard

import (
	"context"
	"io"
	"time"

	"github.com/formguard/formguard/internal/rate"
	"github.com/formguard/formguard/internal/stores"
)

// Guard is the façade over every check engine. Construct one with [Builder];
// the zero value is not usable. All methods are safe for concurrent use.
type Guard struct {
	config *Config
	clock  Clock
	rand   io.Reader

	nonces   *stores.NonceStore
	captchas *stores.CaptchaStore
	steps    *stores.StepStore
	limiter  *rate.Limiter

	creds    CredentialProvider
	renderer CaptchaRenderer
	totp     *totpManager

	audit   *auditDispatcher
	metrics *Metrics
}

// Close flushes and stops the audit dispatcher. The guard must not be used
// after Close.
func (g *Guard) Close() {
	if g == nil {
		return
	}
	g.audit.Close()
}

// MetricsSnapshot returns a point-in-time copy of the guard's counters.
func (g *Guard) MetricsSnapshot() MetricsSnapshot {
	if g == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return g.metrics.Snapshot()
}

// AuditDropped returns how many audit events were discarded under
// backpressure.
func (g *Guard) AuditDropped() uint64 {
	if g == nil {
		return 0
	}
	return g.audit.Dropped()
}

// storeCtx bounds one store round trip with the configured operation
// timeout, on top of whatever deadline the caller already set.
func (g *Guard) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.config.Store.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.config.Store.OpTimeout)
}

// emitAudit enriches the event with request-scoped context values and hands
// it to the dispatcher. Cheap no-op when auditing is disabled.
func (g *Guard) emitAudit(ctx context.Context, event AuditEvent) {
	if g.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = g.clock.Now()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	g.audit.Emit(ctx, event)
}

func (g *Guard) now() time.Time {
	return g.clock.Now()
}

package formguard

import (
	"context"
	"errors"
	"fmt"
)

// Authorize runs the requested checks against one request and returns a
// verdict. Checks always execute in a fixed order regardless of how the set
// was built: anti-replay, rate limit, captcha, TOTP. The first failing check
// short-circuits the rest.
//
// Policy denials return a non-OK verdict and a nil error; the error is
// non-nil only for caller mistakes and store faults. Store faults on the
// anti-replay and rate-limit stages always deny (fail closed); the captcha
// stage can be configured to fail open instead.
func (g *Guard) Authorize(ctx context.Context, req Request, checks CheckSet) (*Verdict, error) {
	if g == nil {
		return nil, ErrGuardNotReady
	}
	if checks == 0 {
		return &Verdict{OK: true}, nil
	}
	if (checks.Has(CheckRateLimit) || checks.Has(CheckTOTP)) && req.Identity == "" {
		return nil, ErrIdentityRequired
	}

	start := g.now()
	verdict, err := g.runChecks(ctx, req, checks)
	g.metrics.Observe(MetricAuthorizeLatency, g.now().Sub(start))

	if verdict.OK {
		g.metrics.Inc(MetricAuthorizeAllowed)
		g.emitAudit(ctx, AuditEvent{
			EventType: AuditAuthorizeAllowed,
			Identity:  req.Identity,
			SessionID: req.SessionID,
			Action:    req.Action,
			Success:   true,
		})
	} else {
		g.metrics.Inc(MetricAuthorizeDenied)
		event := AuditEvent{
			EventType: AuditAuthorizeDenied,
			Identity:  req.Identity,
			SessionID: req.SessionID,
			Action:    req.Action,
			Reason:    verdict.Reason,
			Metadata:  map[string]string{"failed_check": verdict.FailedCheck.String()},
		}
		if err != nil {
			event.Error = err.Error()
		}
		g.emitAudit(ctx, event)
	}

	return verdict, err
}

func (g *Guard) runChecks(ctx context.Context, req Request, checks CheckSet) (*Verdict, error) {
	recordRate := checks.Has(CheckRateLimit) && req.Identity != ""

	if checks.Has(CheckAntiReplay) {
		reason, err := g.validateAntiReplay(ctx, req.FormToken, req.Nonce, req.SessionID)
		if err != nil {
			g.metrics.Inc(MetricAntiReplayRejected)
			g.emitAudit(ctx, AuditEvent{
				EventType: AuditAntiReplayRejected,
				Identity:  req.Identity,
				SessionID: req.SessionID,
				Action:    req.Action,
				Reason:    reason,
			})
			// A rejected submission still costs an attempt: replay probes
			// must not be free just because they fail before the rate stage.
			if recordRate {
				g.recordAttempt(ctx, req, false)
			}
			v := &Verdict{FailedCheck: CheckAntiReplay, Reason: reason}
			if reason == ReasonStoreUnavailable {
				return v, err
			}
			return v, nil
		}
	}

	if checks.Has(CheckRateLimit) {
		sctx, cancel := g.storeCtx(ctx)
		decision, err := g.limiter.Check(sctx, req.Identity, req.Action)
		cancel()
		if err != nil {
			g.metrics.Inc(MetricStoreFault)
			return &Verdict{FailedCheck: CheckRateLimit, Reason: ReasonStoreUnavailable},
				fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !decision.Allowed {
			g.metrics.Inc(MetricRateLimitHit)
			g.emitAudit(ctx, AuditEvent{
				EventType: AuditRateLimitTriggered,
				Identity:  req.Identity,
				Action:    req.Action,
				Reason:    ReasonRateLimited,
			})
			v := &Verdict{FailedCheck: CheckRateLimit, Reason: ReasonRateLimited}
			if !decision.ResetAt.IsZero() {
				if d := decision.ResetAt.Sub(g.now()); d > 0 {
					v.RetryAfter = d
				}
			}
			return v, nil
		}
	}

	if checks.Has(CheckCaptcha) {
		err := g.ValidateCaptcha(ctx, req.CaptchaID, req.CaptchaAnswer)
		switch {
		case err == nil:
		case errors.Is(err, ErrStoreUnavailable):
			if !g.config.Captcha.FailOpen {
				return &Verdict{FailedCheck: CheckCaptcha, Reason: ReasonStoreUnavailable}, err
			}
			// Fail-open: the challenge store is down and the operator chose
			// availability over bot resistance for this stage.
		case errors.Is(err, ErrCaptchaExpired):
			if recordRate {
				g.recordAttempt(ctx, req, false)
			}
			return &Verdict{FailedCheck: CheckCaptcha, Reason: ReasonCaptchaExpired}, nil
		default:
			if recordRate {
				g.recordAttempt(ctx, req, false)
			}
			return &Verdict{FailedCheck: CheckCaptcha, Reason: ReasonCaptchaInvalid}, nil
		}
	}

	if checks.Has(CheckTOTP) {
		err := g.VerifyTOTP(ctx, req.Identity, req.TOTPCode)
		switch {
		case err == nil:
		case errors.Is(err, ErrCodeMalformed):
			// Malformed input never reaches the secret or the watermark, so
			// it does not consume an attempt either.
			return &Verdict{FailedCheck: CheckTOTP, Reason: ReasonCodeMalformed}, nil
		case errors.Is(err, ErrTOTPReplayed):
			if recordRate {
				g.recordAttempt(ctx, req, false)
			}
			return &Verdict{FailedCheck: CheckTOTP, Reason: ReasonTOTPReplayed}, nil
		case errors.Is(err, ErrStoreUnavailable):
			return &Verdict{FailedCheck: CheckTOTP, Reason: ReasonStoreUnavailable}, err
		case errors.Is(err, ErrTOTPNotEnrolled), errors.Is(err, ErrTOTPNotEnabled):
			return &Verdict{FailedCheck: CheckTOTP, Reason: ReasonTOTPInvalid}, err
		default:
			if recordRate {
				g.recordAttempt(ctx, req, false)
			}
			return &Verdict{FailedCheck: CheckTOTP, Reason: ReasonTOTPInvalid}, nil
		}
	}

	if recordRate {
		g.recordAttempt(ctx, req, true)
	}
	return &Verdict{OK: true}, nil
}

// recordAttempt accounts one attempt outcome. Recording failures are counted
// as store faults but never flip an already-made decision.
func (g *Guard) recordAttempt(ctx context.Context, req Request, success bool) {
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	if err := g.limiter.RecordAttempt(sctx, req.Identity, req.Action, success); err != nil {
		g.metrics.Inc(MetricStoreFault)
	}
}

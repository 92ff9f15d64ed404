package formguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/formguard/formguard/internal"
	"github.com/formguard/formguard/internal/stores"
)

// IssueCaptcha creates a challenge, stores its answer digest server-side and
// returns the rendered artifact. The plaintext answer leaves the server only
// inside the rendered challenge.
func (g *Guard) IssueCaptcha(ctx context.Context) (*CaptchaChallenge, error) {
	if g == nil {
		return nil, ErrGuardNotReady
	}

	now := g.now()

	answer, err := internal.RandomString(g.rand, g.config.Captcha.Charset, g.config.Captcha.Length)
	if err != nil {
		return nil, fmt.Errorf("generate captcha answer: %w", err)
	}

	rendered, mediaType, err := g.renderer.Render(answer)
	if err != nil {
		return nil, fmt.Errorf("render captcha: %w", err)
	}

	id := uuid.NewString()
	expiresAt := now.Add(g.config.Captcha.TTL)
	digest := internal.HashAnswer(internal.NormalizeCode(answer))

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	err = g.captchas.Save(sctx, id, &stores.CaptchaRecord{
		AnswerHash: digest,
		IssuedAt:   now.Unix(),
		ExpiresAt:  expiresAt.Unix(),
	})
	if err != nil {
		g.metrics.Inc(MetricStoreFault)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	g.metrics.Inc(MetricCaptchaIssued)
	g.emitAudit(ctx, AuditEvent{
		Timestamp: now,
		EventType: AuditCaptchaIssued,
		Success:   true,
		Metadata:  map[string]string{"challenge_id": id},
	})

	return &CaptchaChallenge{
		ID:        id,
		Rendered:  rendered,
		MediaType: mediaType,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateCaptcha consumes the challenge and compares the submitted answer.
// The challenge burns on first use whatever the outcome, so a wrong guess
// cannot be retried against the same challenge. Matching is case-insensitive.
func (g *Guard) ValidateCaptcha(ctx context.Context, challengeID, answer string) error {
	if g == nil {
		return ErrGuardNotReady
	}

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	record, err := g.captchas.Consume(sctx, challengeID, g.now())
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound),
			errors.Is(err, stores.ErrChallengeExpired):
			g.metrics.Inc(MetricCaptchaFailed)
			g.emitAudit(ctx, AuditEvent{
				EventType: AuditCaptchaFailed,
				Reason:    ReasonCaptchaExpired,
				Metadata:  map[string]string{"challenge_id": challengeID},
			})
			return ErrCaptchaExpired
		default:
			g.metrics.Inc(MetricStoreFault)
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	submitted := internal.HashAnswer(internal.NormalizeCode(answer))
	if !internal.DigestsEqual(record.AnswerHash, submitted) {
		g.metrics.Inc(MetricCaptchaFailed)
		g.emitAudit(ctx, AuditEvent{
			EventType: AuditCaptchaFailed,
			Reason:    ReasonCaptchaInvalid,
			Metadata:  map[string]string{"challenge_id": challengeID},
		})
		return ErrCaptchaInvalid
	}

	g.metrics.Inc(MetricCaptchaSolved)
	g.emitAudit(ctx, AuditEvent{
		EventType: AuditCaptchaSolved,
		Success:   true,
		Metadata:  map[string]string{"challenge_id": challengeID},
	})
	return nil
}

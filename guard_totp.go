package formguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/formguard/formguard/internal/stores"
)

// EnrollTOTP provisions a new TOTP secret for the identity. The secret is
// stored disabled; codes only verify after [Guard.ConfirmTOTPEnrollment]
// proves the authenticator was set up. Re-enrolling over an unconfirmed
// secret replaces it; re-enrolling over a confirmed one fails.
func (g *Guard) EnrollTOTP(ctx context.Context, identity string) (*TOTPEnrollment, error) {
	if g == nil {
		return nil, ErrGuardNotReady
	}
	if identity == "" {
		return nil, ErrIdentityRequired
	}
	if g.creds == nil {
		return nil, errors.New("credential provider required")
	}

	existing, err := g.creds.TOTPSecret(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if existing != nil && existing.Enabled {
		return nil, errors.New("totp already enabled")
	}

	secret, uri, err := g.totp.generate(identity)
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	if err := g.creds.SaveTOTPSecret(ctx, identity, &TOTPSecretRecord{Secret: secret}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	g.emitAudit(ctx, AuditEvent{
		EventType: AuditTOTPEnrolled,
		Identity:  identity,
		Success:   true,
	})

	return &TOTPEnrollment{Secret: secret, URI: uri}, nil
}

// ConfirmTOTPEnrollment flips the pending secret to enabled once the user
// proves possession with a valid current code. The confirming step is
// consumed like any other so it cannot be replayed as the first login.
func (g *Guard) ConfirmTOTPEnrollment(ctx context.Context, identity, code string) error {
	if g == nil {
		return ErrGuardNotReady
	}
	if identity == "" {
		return ErrIdentityRequired
	}

	record, err := g.requireSecret(ctx, identity)
	if err != nil {
		return err
	}
	if record.Enabled {
		return nil
	}

	if _, err := g.verifyAndConsume(ctx, identity, record.Secret, code); err != nil {
		return err
	}

	record.Enabled = true
	if err := g.creds.SaveTOTPSecret(ctx, identity, record); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	g.emitAudit(ctx, AuditEvent{
		EventType: AuditTOTPConfirmed,
		Identity:  identity,
		Success:   true,
	})
	return nil
}

// DisableTOTP removes the identity's TOTP secret and backup codes.
func (g *Guard) DisableTOTP(ctx context.Context, identity string) error {
	if g == nil {
		return ErrGuardNotReady
	}
	if identity == "" {
		return ErrIdentityRequired
	}
	if g.creds == nil {
		return errors.New("credential provider required")
	}

	if err := g.creds.DeleteTOTPSecret(ctx, identity); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := g.creds.ReplaceBackupCodes(ctx, identity, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	g.emitAudit(ctx, AuditEvent{
		EventType: AuditTOTPDisabled,
		Identity:  identity,
		Success:   true,
	})
	return nil
}

// VerifyTOTP checks a submitted code against the identity's confirmed secret.
// A code is accepted at most once: the matched step must strictly exceed the
// per-identity watermark, so resubmitting the same code fails even inside
// the drift window.
func (g *Guard) VerifyTOTP(ctx context.Context, identity, code string) error {
	if g == nil {
		return ErrGuardNotReady
	}
	if identity == "" {
		return ErrIdentityRequired
	}

	record, err := g.requireSecret(ctx, identity)
	if err != nil {
		return err
	}
	if !record.Enabled {
		return ErrTOTPNotEnabled
	}

	step, err := g.verifyAndConsume(ctx, identity, record.Secret, code)
	if err != nil {
		return err
	}

	g.metrics.Inc(MetricTOTPSuccess)
	g.emitAudit(ctx, AuditEvent{
		EventType: AuditTOTPVerified,
		Identity:  identity,
		Success:   true,
		Metadata:  map[string]string{"step": fmt.Sprintf("%d", step)},
	})
	return nil
}

func (g *Guard) requireSecret(ctx context.Context, identity string) (*TOTPSecretRecord, error) {
	if g.creds == nil {
		return nil, errors.New("credential provider required")
	}
	record, err := g.creds.TOTPSecret(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record == nil {
		return nil, ErrTOTPNotEnrolled
	}
	return record, nil
}

// verifyAndConsume matches the code inside the drift window, then advances
// the step watermark. Malformed codes are rejected before any store access.
func (g *Guard) verifyAndConsume(ctx context.Context, identity, secret, code string) (int64, error) {
	if !g.totp.validFormat(code) {
		return 0, ErrCodeMalformed
	}

	step, ok := g.totp.matchCode(secret, code, g.now())
	if !ok {
		g.metrics.Inc(MetricTOTPFailure)
		g.emitAudit(ctx, AuditEvent{
			EventType: AuditTOTPRejected,
			Identity:  identity,
			Reason:    ReasonTOTPInvalid,
		})
		return 0, ErrTOTPInvalid
	}

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	if err := g.steps.Advance(sctx, identity, step, g.totp.stepTTL()); err != nil {
		if errors.Is(err, stores.ErrStepNotAdvanced) {
			g.metrics.Inc(MetricTOTPReplayDetected)
			g.emitAudit(ctx, AuditEvent{
				EventType: AuditTOTPReplay,
				Identity:  identity,
				Reason:    ReasonTOTPReplayed,
			})
			return 0, ErrTOTPReplayed
		}
		g.metrics.Inc(MetricStoreFault)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return step, nil
}

package formguard

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/formguard/formguard/internal"
)

// GenerateBackupCodes mints a fresh set of recovery codes for the identity,
// replacing any previous set. Plaintext codes are returned exactly once;
// only salted hashes are persisted.
func (g *Guard) GenerateBackupCodes(ctx context.Context, identity string) ([]string, error) {
	if g == nil {
		return nil, ErrGuardNotReady
	}
	if identity == "" {
		return nil, ErrIdentityRequired
	}
	if g.creds == nil {
		return nil, errors.New("credential provider required")
	}

	count := g.config.TOTP.BackupCodeCount
	codes := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)

	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(g.rand, g.config.TOTP.BackupCodeLength)
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}

		hash, err := bcrypt.GenerateFromPassword(
			[]byte(internal.NormalizeCode(code)), g.config.TOTP.BackupHashCost)
		if err != nil {
			return nil, fmt.Errorf("hash backup code: %w", err)
		}

		codes = append(codes, code)
		records = append(records, BackupCodeRecord{Hash: hash})
	}

	if err := g.creds.ReplaceBackupCodes(ctx, identity, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	g.metrics.Inc(MetricBackupCodeRegenerated)
	g.emitAudit(ctx, AuditEvent{
		EventType: AuditBackupCodesGenerated,
		Identity:  identity,
		Success:   true,
		Metadata:  map[string]string{"count": fmt.Sprintf("%d", count)},
	})

	return codes, nil
}

// ConsumeBackupCode validates a recovery code and marks it used. Each code is
// consumable at most once; under concurrent submission of the same code
// exactly one caller succeeds. A code that matches an already-consumed hash
// is logged as a replay but the caller sees the same generic failure as an
// unknown code.
func (g *Guard) ConsumeBackupCode(ctx context.Context, identity, code string) error {
	if g == nil {
		return ErrGuardNotReady
	}
	if identity == "" {
		return ErrIdentityRequired
	}
	if g.creds == nil {
		return errors.New("credential provider required")
	}

	normalized := internal.NormalizeCode(code)
	if !internal.IsNumericString(normalized) {
		return ErrCodeMalformed
	}

	records, err := g.creds.BackupCodes(ctx, identity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(records) == 0 {
		return ErrBackupCodesNotConfigured
	}

	for _, r := range records {
		if r.Used {
			continue
		}
		if bcrypt.CompareHashAndPassword(r.Hash, []byte(normalized)) != nil {
			continue
		}

		// The claim below is the atomic step: the scan above only picks the
		// candidate hash. Losing the race means a concurrent request spent
		// this exact code first, which is a replay from this caller's side;
		// the stale records slice still shows it unused, so the fallthrough
		// scan would misreport it as a plain failure.
		consumed, err := g.creds.ConsumeBackupCode(ctx, identity, r.Hash)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !consumed {
			g.metrics.Inc(MetricBackupCodeReplayDetected)
			g.emitAudit(ctx, AuditEvent{
				EventType: AuditBackupCodeReplay,
				Identity:  identity,
			})
			return ErrBackupCodeInvalid
		}

		g.metrics.Inc(MetricBackupCodeUsed)
		g.emitAudit(ctx, AuditEvent{
			EventType: AuditBackupCodeUsed,
			Identity:  identity,
			Success:   true,
		})
		return nil
	}

	// Distinguish a replayed code from a wrong one in audit only. The error
	// stays generic so responses do not leak which codes were ever valid.
	for _, r := range records {
		if !r.Used {
			continue
		}
		if bcrypt.CompareHashAndPassword(r.Hash, []byte(normalized)) == nil {
			g.metrics.Inc(MetricBackupCodeReplayDetected)
			g.emitAudit(ctx, AuditEvent{
				EventType: AuditBackupCodeReplay,
				Identity:  identity,
			})
			return ErrBackupCodeInvalid
		}
	}

	g.metrics.Inc(MetricBackupCodeFailed)
	g.emitAudit(ctx, AuditEvent{
		EventType: AuditBackupCodeFailed,
		Identity:  identity,
	})
	return ErrBackupCodeInvalid
}

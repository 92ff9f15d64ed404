package formguard

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func enrollAndConfirm(t *testing.T, guard *Guard, clock *fakeClock, identity string) string {
	t.Helper()

	enrollment, err := guard.EnrollTOTP(context.Background(), identity)
	if err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}

	code := codeAt(t, enrollment.Secret, clock.Now(), guard.config.TOTP)
	if err := guard.ConfirmTOTPEnrollment(context.Background(), identity, code); err != nil {
		t.Fatalf("ConfirmTOTPEnrollment failed: %v", err)
	}
	return enrollment.Secret
}

func TestEnrollTOTPReturnsSecretAndURI(t *testing.T) {
	guard, _, creds, _ := newTestGuard(t, nil)

	enrollment, err := guard.EnrollTOTP(context.Background(), "u1")
	if err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}
	if enrollment.Secret == "" {
		t.Fatal("expected non-empty secret")
	}
	if !strings.HasPrefix(enrollment.URI, "otpauth://totp/") {
		t.Fatalf("expected otpauth uri, got %s", enrollment.URI)
	}

	record, err := creds.TOTPSecret(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TOTPSecret failed: %v", err)
	}
	if record == nil || record.Enabled {
		t.Fatal("expected stored secret to remain disabled before confirmation")
	}
}

func TestVerifyTOTPRequiresConfirmedEnrollment(t *testing.T) {
	guard, _, _, clock := newTestGuard(t, nil)

	if err := guard.VerifyTOTP(context.Background(), "u1", "123456"); !errors.Is(err, ErrTOTPNotEnrolled) {
		t.Fatalf("expected ErrTOTPNotEnrolled, got %v", err)
	}

	enrollment, err := guard.EnrollTOTP(context.Background(), "u1")
	if err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}

	code := codeAt(t, enrollment.Secret, clock.Now(), guard.config.TOTP)
	if err := guard.VerifyTOTP(context.Background(), "u1", code); !errors.Is(err, ErrTOTPNotEnabled) {
		t.Fatalf("expected ErrTOTPNotEnabled before confirmation, got %v", err)
	}
}

func TestVerifyTOTPAcceptsCurrentCode(t *testing.T) {
	guard, _, _, clock := newTestGuard(t, nil)
	secret := enrollAndConfirm(t, guard, clock, "u1")

	// The confirmation consumed the current step; move to the next one.
	clock.Advance(guard.config.TOTP.Period)

	code := codeAt(t, secret, clock.Now(), guard.config.TOTP)
	if err := guard.VerifyTOTP(context.Background(), "u1", code); err != nil {
		t.Fatalf("VerifyTOTP failed: %v", err)
	}
}

func TestVerifyTOTPRejectsReplayedCode(t *testing.T) {
	guard, _, _, clock := newTestGuard(t, nil)
	secret := enrollAndConfirm(t, guard, clock, "u1")

	clock.Advance(guard.config.TOTP.Period)
	code := codeAt(t, secret, clock.Now(), guard.config.TOTP)

	if err := guard.VerifyTOTP(context.Background(), "u1", code); err != nil {
		t.Fatalf("first VerifyTOTP failed: %v", err)
	}

	// Same code inside the same step window: still cryptographically valid,
	// still rejected.
	if err := guard.VerifyTOTP(context.Background(), "u1", code); !errors.Is(err, ErrTOTPReplayed) {
		t.Fatalf("expected ErrTOTPReplayed, got %v", err)
	}
}

func TestVerifyTOTPRejectsOlderStepAfterNewer(t *testing.T) {
	guard, _, _, clock := newTestGuard(t, nil)
	secret := enrollAndConfirm(t, guard, clock, "u1")

	clock.Advance(2 * guard.config.TOTP.Period)
	current := codeAt(t, secret, clock.Now(), guard.config.TOTP)
	previous := codeAt(t, secret, clock.Now().Add(-guard.config.TOTP.Period), guard.config.TOTP)

	if err := guard.VerifyTOTP(context.Background(), "u1", current); err != nil {
		t.Fatalf("VerifyTOTP failed: %v", err)
	}

	// The previous step is inside the drift window but below the watermark.
	if err := guard.VerifyTOTP(context.Background(), "u1", previous); !errors.Is(err, ErrTOTPReplayed) {
		t.Fatalf("expected ErrTOTPReplayed for older step, got %v", err)
	}
}

func TestVerifyTOTPAcceptsDriftWindow(t *testing.T) {
	guard, _, _, clock := newTestGuard(t, nil)
	period := guard.config.TOTP.Period

	secretA := enrollAndConfirm(t, guard, clock, "drift-behind")
	secretB := enrollAndConfirm(t, guard, clock, "drift-ahead")

	clock.Advance(3 * period)

	// A client one step behind the server.
	behind := codeAt(t, secretA, clock.Now().Add(-period), guard.config.TOTP)
	if err := guard.VerifyTOTP(context.Background(), "drift-behind", behind); err != nil {
		t.Fatalf("expected one-step-behind code to pass, got %v", err)
	}

	// A client one step ahead of the server.
	ahead := codeAt(t, secretB, clock.Now().Add(period), guard.config.TOTP)
	if err := guard.VerifyTOTP(context.Background(), "drift-ahead", ahead); err != nil {
		t.Fatalf("expected one-step-ahead code to pass, got %v", err)
	}
}

func TestVerifyTOTPRejectsOutsideDriftWindow(t *testing.T) {
	guard, _, _, clock := newTestGuard(t, nil)
	period := guard.config.TOTP.Period
	secret := enrollAndConfirm(t, guard, clock, "u1")

	clock.Advance(5 * period)

	stale := codeAt(t, secret, clock.Now().Add(-2*period), guard.config.TOTP)
	if err := guard.VerifyTOTP(context.Background(), "u1", stale); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("expected ErrTOTPInvalid two steps behind, got %v", err)
	}
}

func TestVerifyTOTPRejectsMalformedCode(t *testing.T) {
	guard, _, _, clock := newTestGuard(t, nil)
	enrollAndConfirm(t, guard, clock, "u1")

	for _, code := range []string{"", "12345", "1234567", "12345a", "      "} {
		if err := guard.VerifyTOTP(context.Background(), "u1", code); !errors.Is(err, ErrCodeMalformed) {
			t.Fatalf("expected ErrCodeMalformed for %q, got %v", code, err)
		}
	}
}

func TestDisableTOTPRemovesSecretAndBackupCodes(t *testing.T) {
	guard, _, creds, clock := newTestGuard(t, nil)
	enrollAndConfirm(t, guard, clock, "u1")

	if _, err := guard.GenerateBackupCodes(context.Background(), "u1"); err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}

	if err := guard.DisableTOTP(context.Background(), "u1"); err != nil {
		t.Fatalf("DisableTOTP failed: %v", err)
	}

	record, err := creds.TOTPSecret(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TOTPSecret failed: %v", err)
	}
	if record != nil {
		t.Fatal("expected secret removed")
	}

	records, err := creds.BackupCodes(context.Background(), "u1")
	if err != nil {
		t.Fatalf("BackupCodes failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatal("expected backup codes removed")
	}
}

func TestEnrollTOTPRejectsWhenAlreadyEnabled(t *testing.T) {
	guard, _, _, clock := newTestGuard(t, nil)
	enrollAndConfirm(t, guard, clock, "u1")

	if _, err := guard.EnrollTOTP(context.Background(), "u1"); err == nil {
		t.Fatal("expected re-enrollment over an enabled secret to fail")
	}
}

func TestVerifyTOTPStepWatermarkSurvivesAcrossWindows(t *testing.T) {
	guard, _, _, clock := newTestGuard(t, nil)
	period := guard.config.TOTP.Period
	secret := enrollAndConfirm(t, guard, clock, "u1")

	clock.Advance(period)
	code := codeAt(t, secret, clock.Now(), guard.config.TOTP)
	if err := guard.VerifyTOTP(context.Background(), "u1", code); err != nil {
		t.Fatalf("VerifyTOTP failed: %v", err)
	}

	// One period later the same code is still inside the ±1 drift window.
	clock.Advance(period)
	if err := guard.VerifyTOTP(context.Background(), "u1", code); !errors.Is(err, ErrTOTPReplayed) {
		t.Fatalf("expected ErrTOTPReplayed across windows, got %v", err)
	}

	// Outside the drift window the code fails verification outright.
	clock.Advance(2 * period)
	if err := guard.VerifyTOTP(context.Background(), "u1", code); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("expected ErrTOTPInvalid outside window, got %v", err)
	}
}

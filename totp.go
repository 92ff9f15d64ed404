package formguard

import (
	"crypto/subtle"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/formguard/formguard/internal"
)

// totpManager wraps the otp library with the guard's drift-window policy.
// Verification reports which step matched so the caller can enforce the
// step watermark; the library alone only answers yes or no.
type totpManager struct {
	cfg  TOTPConfig
	rand io.Reader
}

func newTOTPManager(cfg TOTPConfig, rand io.Reader) *totpManager {
	// SkewNone survives validation as -1; resolve it here so the window
	// arithmetic below only ever sees the real step count.
	if cfg.Skew < 0 {
		cfg.Skew = 0
	}
	return &totpManager{cfg: cfg, rand: rand}
}

// generate creates a fresh secret and its provisioning URI for one account.
func (t *totpManager) generate(account string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.cfg.Issuer,
		AccountName: account,
		Period:      uint(t.cfg.Period / time.Second),
		SecretSize:  20,
		Digits:      otp.Digits(t.cfg.Digits),
		Algorithm:   otp.AlgorithmSHA1,
		Rand:        t.rand,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// validFormat reports whether code has the configured digit count and is all
// digits. Checked before any store access so malformed input stays cheap.
func (t *totpManager) validFormat(code string) bool {
	return len(code) == t.cfg.Digits && internal.IsNumericString(code)
}

// matchCode checks code against every step in the drift window and returns
// the index of the step that matched. Each candidate step is verified with
// zero skew so the match pins to exactly one step; without that, replaying a
// code one step later would still validate.
func (t *totpManager) matchCode(secret, code string, now time.Time) (step int64, ok bool) {
	opts := totp.ValidateOpts{
		Period:    uint(t.cfg.Period / time.Second),
		Skew:      0,
		Digits:    otp.Digits(t.cfg.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}

	for offset := -t.cfg.Skew; offset <= t.cfg.Skew; offset++ {
		at := now.Add(time.Duration(offset) * t.cfg.Period)
		expected, err := totp.GenerateCodeCustom(secret, at, opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return at.Unix() / int64(t.cfg.Period/time.Second), true
		}
	}
	return 0, false
}

// stepTTL is how long a consumed step watermark must survive: the drift
// window plus one period of slack.
func (t *totpManager) stepTTL() time.Duration {
	return time.Duration(2*t.cfg.Skew+2) * t.cfg.Period
}

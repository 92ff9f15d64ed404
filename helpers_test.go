package formguard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	// Anchored near real time so Redis TTLs derived from wall deadlines stay
	// positive.
	return &fakeClock{t: time.Now().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memCreds is an in-memory CredentialProvider with the same consume-once
// guarantee the Redis implementation gives.
type memCreds struct {
	mu      sync.Mutex
	secrets map[string]TOTPSecretRecord
	codes   map[string][]BackupCodeRecord
}

func newMemCreds() *memCreds {
	return &memCreds{
		secrets: make(map[string]TOTPSecretRecord),
		codes:   make(map[string][]BackupCodeRecord),
	}
}

func (m *memCreds) TOTPSecret(_ context.Context, identity string) (*TOTPSecretRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.secrets[identity]
	if !ok {
		return nil, nil
	}
	return &TOTPSecretRecord{Secret: rec.Secret, Enabled: rec.Enabled}, nil
}

func (m *memCreds) SaveTOTPSecret(_ context.Context, identity string, record *TOTPSecretRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[identity] = *record
	return nil
}

func (m *memCreds) DeleteTOTPSecret(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, identity)
	return nil
}

func (m *memCreds) BackupCodes(_ context.Context, identity string) ([]BackupCodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BackupCodeRecord, len(m.codes[identity]))
	copy(out, m.codes[identity])
	return out, nil
}

func (m *memCreds) ReplaceBackupCodes(_ context.Context, identity string, records []BackupCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(records) == 0 {
		delete(m.codes, identity)
		return nil
	}
	stored := make([]BackupCodeRecord, len(records))
	copy(stored, records)
	m.codes[identity] = stored
	return nil
}

func (m *memCreds) ConsumeBackupCode(_ context.Context, identity string, hash []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.codes[identity]
	for i := range records {
		if records[i].Used {
			continue
		}
		if string(records[i].Hash) == string(hash) {
			records[i].Used = true
			records[i].UsedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func guardTestConfig() *Config {
	cfg := defaultConfig()
	cfg.AntiReplay.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	// MinCost keeps the bcrypt work factor out of the test runtime.
	cfg.TOTP.BackupHashCost = bcrypt.MinCost
	cfg.Audit.Disabled = true
	return cfg
}

func newTestGuard(t *testing.T, cfg *Config) (*Guard, *miniredis.Miniredis, *memCreds, *fakeClock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if cfg == nil {
		cfg = guardTestConfig()
	}
	clock := newFakeClock()
	creds := newMemCreds()

	guard, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialProvider(creds).
		WithClock(clock).
		Build()
	if err != nil {
		t.Fatalf("guard build failed: %v", err)
	}
	t.Cleanup(guard.Close)

	return guard, mr, creds, clock
}

func codeAt(t *testing.T, secret string, at time.Time, cfg TOTPConfig) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    uint(cfg.Period / time.Second),
		Skew:      0,
		Digits:    otp.Digits(cfg.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate code failed: %v", err)
	}
	return code
}

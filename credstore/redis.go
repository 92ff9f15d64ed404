// Package credstore ships a Redis-backed [formguard.CredentialProvider].
// Applications with an existing user database usually implement the
// interface against that instead; this implementation suits deployments
// where Redis is already the only stateful dependency.
package credstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/formguard/formguard"
)

// ErrBackend is returned when Redis is unreachable.
var ErrBackend = errors.New("credential backend unavailable")

// Store persists TOTP secrets and backup codes in Redis. Records have no
// TTL; they live until explicitly deleted or replaced.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for UsedAt stamps. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a credential store using the given key prefix.
func New(client redis.UniversalClient, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = "fg"
	}
	s := &Store{redis: client, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) totpKey(identity string) string {
	return s.prefix + ":cred:totp:" + identity
}

func (s *Store) backupKey(identity string) string {
	return s.prefix + ":cred:backup:" + identity
}

type totpRecord struct {
	Secret  string `json:"secret"`
	Enabled bool   `json:"enabled"`
}

type backupRecord struct {
	Hash   []byte `json:"hash"`
	Used   bool   `json:"used"`
	UsedAt int64  `json:"used_at,omitempty"`
}

// TOTPSecret returns the identity's secret record, or nil when none exists.
func (s *Store) TOTPSecret(ctx context.Context, identity string) (*formguard.TOTPSecretRecord, error) {
	data, err := s.redis.Get(ctx, s.totpKey(identity)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	var rec totpRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode totp record: %w", err)
	}
	return &formguard.TOTPSecretRecord{Secret: rec.Secret, Enabled: rec.Enabled}, nil
}

func (s *Store) SaveTOTPSecret(ctx context.Context, identity string, record *formguard.TOTPSecretRecord) error {
	if record == nil {
		return errors.New("nil totp record")
	}
	data, err := json.Marshal(totpRecord{Secret: record.Secret, Enabled: record.Enabled})
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.totpKey(identity), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *Store) DeleteTOTPSecret(ctx context.Context, identity string) error {
	if err := s.redis.Del(ctx, s.totpKey(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// BackupCodes returns the identity's backup code records, including consumed
// ones. Missing keys return an empty slice.
func (s *Store) BackupCodes(ctx context.Context, identity string) ([]formguard.BackupCodeRecord, error) {
	data, err := s.redis.Get(ctx, s.backupKey(identity)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	records, err := decodeBackupSet(data)
	if err != nil {
		return nil, err
	}

	out := make([]formguard.BackupCodeRecord, len(records))
	for i, r := range records {
		out[i] = formguard.BackupCodeRecord{Hash: r.Hash, Used: r.Used}
		if r.UsedAt != 0 {
			out[i].UsedAt = time.Unix(r.UsedAt, 0)
		}
	}
	return out, nil
}

// ReplaceBackupCodes overwrites the identity's backup code set. A nil or
// empty slice deletes it.
func (s *Store) ReplaceBackupCodes(ctx context.Context, identity string, records []formguard.BackupCodeRecord) error {
	if len(records) == 0 {
		if err := s.redis.Del(ctx, s.backupKey(identity)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return nil
	}

	encoded := make([]backupRecord, len(records))
	for i, r := range records {
		encoded[i] = backupRecord{Hash: r.Hash, Used: r.Used}
		if !r.UsedAt.IsZero() {
			encoded[i].UsedAt = r.UsedAt.Unix()
		}
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.backupKey(identity), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// ConsumeBackupCode marks the record with the given hash as used. The mark
// is a compare-and-set over the whole set: under concurrent submission of
// the same code exactly one caller observes consumed=true.
func (s *Store) ConsumeBackupCode(ctx context.Context, identity string, hash []byte) (bool, error) {
	const maxRetries = 4
	key := s.backupKey(identity)

	consumed := false
	for i := 0; i < maxRetries; i++ {
		consumed = false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return err
			}
			records, err := decodeBackupSet(data)
			if err != nil {
				return err
			}

			idx := -1
			for j, r := range records {
				if !r.Used && bytes.Equal(r.Hash, hash) {
					idx = j
					break
				}
			}
			if idx < 0 {
				return nil
			}

			records[idx].Used = true
			records[idx].UsedAt = s.now().Unix()
			updated, err := json.Marshal(records)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			if err == nil {
				consumed = true
			}
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return consumed, nil
	}

	// Retries exhausted: another writer kept winning the race. Whoever won
	// consumed the code, this caller did not.
	return false, nil
}

func decodeBackupSet(data []byte) ([]backupRecord, error) {
	var records []backupRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode backup code set: %w", err)
	}
	return records, nil
}

var _ formguard.CredentialProvider = (*Store)(nil)

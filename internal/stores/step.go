package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStepNotAdvanced is returned when the submitted step index does not
	// exceed the last consumed one: the code was already used within the
	// drift window.
	ErrStepNotAdvanced = errors.New("totp step already consumed")
	// ErrStepBackend is returned when Redis is unreachable. Callers must
	// fail closed.
	ErrStepBackend = errors.New("totp step backend unavailable")
)

// StepStore records, per identity, the highest TOTP step index that has
// successfully validated. Advancing the watermark is a compare-and-set: a
// code matching a step at or below the watermark is a replay no matter how
// many drift-window steps it would otherwise satisfy.
type StepStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStepStore creates a TOTP step watermark store using the given key prefix.
func NewStepStore(redisClient redis.UniversalClient, prefix string) *StepStore {
	if prefix == "" {
		prefix = "fg"
	}
	return &StepStore{redis: redisClient, prefix: prefix}
}

func (s *StepStore) key(identity string) string {
	return s.prefix + ":step:" + identity
}

// Advance atomically moves the watermark for identity up to step. Returns
// ErrStepNotAdvanced when step is not strictly greater than the stored
// watermark. The TTL only needs to outlive the drift window; once wall time
// moves past it, old codes fail verification before reaching this store.
func (s *StepStore) Advance(ctx context.Context, identity string, step int64, ttl time.Duration) error {
	const maxRetries = 4
	key := s.key(identity)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && step <= current {
				return ErrStepNotAdvanced
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, strconv.FormatInt(step, 10), ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, ErrStepNotAdvanced) {
			return err
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStepBackend, err)
		}
		return nil
	}

	// Persistent contention on one identity's key means another submission
	// is racing us with the same or a newer step.
	return ErrStepNotAdvanced
}

// Last returns the current watermark, or -1 when none is recorded.
func (s *StepStore) Last(ctx context.Context, identity string) (int64, error) {
	current, err := s.redis.Get(ctx, s.key(identity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return -1, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStepBackend, err)
	}
	return current, nil
}

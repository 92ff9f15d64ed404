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
	// ErrNonceSpent is returned when a nonce is absent from the issued set:
	// never issued, already consumed, or expired and purged. All three cases
	// are rejections.
	ErrNonceSpent = errors.New("nonce not found or already spent")
	// ErrNonceBackend is returned when Redis is unreachable. Callers must
	// fail closed.
	ErrNonceBackend = errors.New("nonce backend unavailable")
)

// NonceStore tracks issued single-use nonces. A nonce is registered at form
// render time and consumed exactly once at submission time; consumption of an
// unknown value fails. Expired entries are garbage-collected by the Redis TTL.
type NonceStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewNonceStore creates a nonce store using the given key prefix.
func NewNonceStore(redisClient redis.UniversalClient, prefix string) *NonceStore {
	if prefix == "" {
		prefix = "fg"
	}
	return &NonceStore{redis: redisClient, prefix: prefix}
}

func (s *NonceStore) key(nonce string) string {
	return s.prefix + ":nonce:" + nonce
}

// Register records a freshly issued nonce with its expiry deadline. The TTL
// bounds replay-detection storage; the deadline is also stored explicitly so
// Consume can re-check it against the caller's clock.
func (s *NonceStore) Register(ctx context.Context, nonce string, expiresAt time.Time) error {
	value := strconv.FormatInt(expiresAt.Unix(), 10)
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.redis.Set(ctx, s.key(nonce), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNonceBackend, err)
	}
	return nil
}

// Consume atomically removes the nonce from the issued set. Exactly one
// concurrent caller observes success; every later submission of the same
// value gets ErrNonceSpent. A nonce whose stored deadline has passed is
// treated as spent even if the TTL has not fired yet.
func (s *NonceStore) Consume(ctx context.Context, nonce string, now time.Time) error {
	if nonce == "" {
		return ErrNonceSpent
	}

	value, err := s.redis.GetDel(ctx, s.key(nonce)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNonceSpent
		}
		return fmt.Errorf("%w: %v", ErrNonceBackend, err)
	}

	expiresAt, err := strconv.ParseInt(value, 10, 64)
	if err != nil || now.Unix() > expiresAt {
		return ErrNonceSpent
	}
	return nil
}

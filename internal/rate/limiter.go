package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy holds the attempt budget for one action type.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	// ResetOnSuccess clears the failure counter when an attempt succeeds.
	// Deliberately opt-in per action: a login bucket usually wants it, a
	// registration bucket usually does not.
	ResetOnSuccess bool
}

// Decision is the outcome of a bucket check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces per-(identity, action) attempt budgets using Redis
// counters. Each action type carries its own policy; unknown actions fall
// back to the default policy.
type Limiter struct {
	redis    redis.UniversalClient
	prefix   string
	policies map[string]Policy
	fallback Policy
	now      func() time.Time
}

// New creates a rate [Limiter] backed by the given Redis client. The now
// function supplies the clock used to derive ResetAt; nil means time.Now.
func New(redisClient redis.UniversalClient, prefix string, policies map[string]Policy, fallback Policy, now func() time.Time) *Limiter {
	if prefix == "" {
		prefix = "fg"
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		redis:    redisClient,
		prefix:   prefix,
		policies: policies,
		fallback: fallback,
		now:      now,
	}
}

func (l *Limiter) key(identity, action string) string {
	return l.prefix + ":rl:" + action + ":" + identity
}

func (l *Limiter) policy(action string) Policy {
	if p, ok := l.policies[action]; ok {
		return p
	}
	return l.fallback
}

// Check reports whether the bucket still has budget. A bucket at or over its
// threshold denies until the window elapses; ResetAt tells the caller when.
func (l *Limiter) Check(ctx context.Context, identity, action string) (Decision, error) {
	p := l.policy(action)
	key := l.key(identity, action)

	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Decision{Allowed: true, Remaining: p.MaxAttempts}, nil
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// A counter without a TTL is an orphan from a crash between the
	// increment and the expire of a first attempt. Left alone it would deny
	// forever with no ResetAt, so drop it and start a fresh window.
	if ttl < 0 {
		if err := l.redis.Del(ctx, key).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return Decision{Allowed: true, Remaining: p.MaxAttempts}, nil
	}

	d := Decision{
		Allowed:   count < int64(p.MaxAttempts),
		Remaining: p.MaxAttempts - int(count),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if ttl > 0 {
		d.ResetAt = l.now().Add(ttl)
	}
	return d, nil
}

// RecordAttempt accounts one attempt against the bucket. Failures increment
// the counter; successes never do, and clear the bucket only when the
// action's policy sets ResetOnSuccess.
func (l *Limiter) RecordAttempt(ctx context.Context, identity, action string, success bool) error {
	p := l.policy(action)
	key := l.key(identity, action)

	if success {
		if !p.ResetOnSuccess {
			return nil
		}
		if err := l.redis.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil
	}

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Fixed-window semantics: the TTL is set only for the first hit, so the
	// window is anchored at the first attempt.
	if count == 1 {
		if err := l.redis.PExpire(ctx, key, p.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	return nil
}

// Attempts returns the current counter for a bucket. Missing buckets return
// zero.
func (l *Limiter) Attempts(ctx context.Context, identity, action string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(identity, action)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

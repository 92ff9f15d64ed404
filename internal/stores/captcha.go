package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const captchaRecordVersion1 = 1

var (
	// ErrChallengeNotFound is returned when a challenge id is unknown,
	// already consumed, or expired and purged.
	ErrChallengeNotFound = errors.New("captcha challenge not found")
	// ErrChallengeExpired is returned when the record is present but its
	// deadline has passed.
	ErrChallengeExpired = errors.New("captcha challenge expired")
	// ErrChallengeBackend is returned when Redis is unreachable.
	ErrChallengeBackend = errors.New("captcha challenge backend unavailable")
)

// CaptchaRecord is the server-side half of an issued challenge. Only the
// answer digest is stored; the plaintext answer exists solely in the rendered
// challenge sent to the client.
type CaptchaRecord struct {
	AnswerHash [32]byte
	IssuedAt   int64
	ExpiresAt  int64
}

// CaptchaStore persists issued challenges keyed by challenge id. A challenge
// is consumed on its first validation attempt regardless of the outcome, so a
// wrong guess burns it.
type CaptchaStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewCaptchaStore creates a captcha challenge store using the given key prefix.
func NewCaptchaStore(redisClient redis.UniversalClient, prefix string) *CaptchaStore {
	if prefix == "" {
		prefix = "fg"
	}
	return &CaptchaStore{redis: redisClient, prefix: prefix}
}

func (s *CaptchaStore) key(challengeID string) string {
	return s.prefix + ":captcha:" + challengeID
}

// Save stores a freshly issued challenge record under its id.
func (s *CaptchaStore) Save(ctx context.Context, challengeID string, record *CaptchaRecord) error {
	encoded, err := encodeCaptchaRecord(record)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(record.ExpiresAt, 0))
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Consume atomically removes and returns the challenge record. The removal
// happens before the caller compares answers, so both correct and incorrect
// submissions burn the challenge and a second call always fails.
func (s *CaptchaStore) Consume(ctx context.Context, challengeID string, now time.Time) (*CaptchaRecord, error) {
	if challengeID == "" {
		return nil, ErrChallengeNotFound
	}

	data, err := s.redis.GetDel(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeCaptchaRecord(data)
	if err != nil {
		return nil, err
	}
	if now.Unix() > record.ExpiresAt {
		return nil, ErrChallengeExpired
	}
	return record, nil
}

func encodeCaptchaRecord(record *CaptchaRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(captchaRecordVersion1)
	buf.Write(record.AnswerHash[:])

	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCaptchaRecord(data []byte) (*CaptchaRecord, error) {
	if len(data) != 1+32+8+8 {
		return nil, errors.New("invalid captcha record size")
	}
	if data[0] != captchaRecordVersion1 {
		return nil, errors.New("unsupported captcha record version")
	}

	record := &CaptchaRecord{}
	copy(record.AnswerHash[:], data[1:33])
	record.IssuedAt = int64(binary.BigEndian.Uint64(data[33:41]))
	record.ExpiresAt = int64(binary.BigEndian.Uint64(data[41:49]))
	return record, nil
}

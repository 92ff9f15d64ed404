package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"math/big"
	"strings"
)

const nonceSize = 32

// NewNonce returns a fresh single-use nonce encoded as base64url without
// padding. The reader defaults to crypto/rand when nil.
func NewNonce(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}

	var raw [nonceSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// RandomString draws length characters from charset using the given reader.
// Used for captcha answers; the charset is expected to exclude ambiguous
// glyphs (0/O, 1/I/L).
func RandomString(r io.Reader, charset string, length int) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	if charset == "" || length <= 0 {
		return "", errors.New("invalid charset or length")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(charset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(charset[n.Int64()])
	}

	return b.String(), nil
}

// NewBackupCode generates a numeric recovery code of the given digit count,
// grouped in blocks of four for readability ("4821-0937").
func NewBackupCode(r io.Reader, digits int) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	if digits < 8 || digits > 16 {
		return "", errors.New("invalid backup code length")
	}

	var b strings.Builder
	b.Grow(digits + digits/4)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		n, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// NormalizeCode strips separators and whitespace and uppercases the
// remainder, so user input matches generated codes and captcha answers
// regardless of formatting.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

// HashAnswer digests a normalized answer for server-side storage. The raw
// answer never reaches the challenge store.
func HashAnswer(answer string) [32]byte {
	return sha256.Sum256([]byte(answer))
}

// DigestsEqual compares two answer digests in constant time.
func DigestsEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// IsNumericString reports whether s consists solely of ASCII digits.
func IsNumericString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Package internal contains helper utilities that are intentionally private to
// formguard, including secure random generation for nonces, captcha answers,
// and backup codes.
//
// # Sub-packages
//
//   - rate: Redis-backed per-(identity, action) attempt buckets
//   - stores: Redis-backed single-use record stores (nonces, captcha
//     challenges, TOTP step state)
//
// # What this package must NOT do
//
//   - Export types that appear in the public formguard API.
//   - Be imported by any package outside the formguard module.
package internal

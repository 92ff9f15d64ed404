// Package stores provides Redis-backed, short-lived record stores for the
// request-authentication engine: issued form nonces, captcha challenges, and
// per-identity TOTP step state.
//
// # Design
//
// Each store persists a small record in Redis with a TTL matching its
// validity window. Single-use consumption is atomic (GETDEL); monotonic
// updates (the TOTP step watermark) use WATCH/MULTI optimistic transactions
// with automatic retry on contention. Expiry is enforced twice: by the Redis
// TTL and by an explicit deadline carried in the record, so an injected test
// clock observes the same semantics as wall time.
//
// # What this package must NOT do
//
//   - Import formguard or any sibling internal package.
//   - Store plaintext answers or secrets (only digests).
//   - Treat a missing record as valid: absence always means reject.
package stores

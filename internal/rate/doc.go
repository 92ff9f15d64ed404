// Package rate provides Redis-backed attempt buckets keyed by
// (identity, action) with per-action policies.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional PEXPIRE on the first hit in the
// window. The bucket's reset time is derived from the key's remaining TTL,
// so expired buckets are garbage-collected lazily by Redis without a sweeper.
// Key layout: rl:<action>:<identity>.
//
// # What this package must NOT do
//
//   - Decide which actions require limiting (the orchestrator does).
//   - Be imported outside the formguard module.
package rate

// Package opticache implements a value-optimization and resilience engine in
// front of an arbitrary key-value store. Per value, it decides whether and
// how to transform before storage (compression, chunking) and reverses the
// transformation on read. Freshness controllers, a circuit breaker, and
// stampede guards wrap compute-and-cache calls around the same store port,
// orthogonal to the transformation path.
//
// Components:
//   - store.Store: the key-value port (get/put/forget/has/increment/lock).
//     Memory by default; Redis, BigCache, and Ristretto adapters included.
//   - Strategy: pluggable transformer {ShouldApply, Optimize, Restore,
//     Identifier}. Compression and chunking ship by default; an ordered,
//     constructor-supplied list decides priority.
//   - Envelope: tagged wrapper (none | compressed | chunked) carried as a
//     plain map so the store's own serialization can represent it. At most
//     one strategy ever wraps a value; envelopes are never chained.
//   - Chunk registry + orphan sweeper: tracks multi-part values and reclaims
//     parts whose parent has vanished.
//   - freshness, breaker, ratelimit, cost: resilience subpackages over the
//     same store port.
//
// Reconstruction is all-or-nothing: if any chunk of a multi-part value is
// gone, Get reports an ordinary miss, never a truncated structure. Values
// the engine does not recognize as envelopes pass through unchanged, so
// foreign data sharing the same key space is tolerated.
package opticache

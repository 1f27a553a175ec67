// Package store defines the key-value port the opticache engine drives.
//
// Implementations MUST be value-transparent: Get must return a value that is
// equal (under the backend's serialization) to the value previously passed to
// Put for the same key. Backends that persist bytes serialize through a
// codec.Codec; in-process backends may hold values directly.
//
// The engine owns the reserved keyspaces "<key>:chunk:<n>" for chunk parts
// and the registry/metadata keys it documents. External code must not write
// under these keys.
package store

import (
	"context"
	"time"
)

// Store is a minimal key-value port with TTLs, counters, and advisory locks.
// Must be safe for concurrent use.
type Store interface {
	// Name identifies the backend ("redis", "memcached", "memory", ...).
	// The engine uses it for per-backend policy such as value-size limits
	// and strategy overrides.
	Name() string

	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// IO/remote errors return (nil, false, err).
	Get(ctx context.Context, key string) (any, bool, error)

	// Put stores value with the given TTL (ttl <= 0 means no expiry).
	// Returns ok=false when the backend rejected the write under pressure.
	Put(ctx context.Context, key string, value any, ttl time.Duration) (ok bool, err error)

	// Forget removes a key. Returns true when an entry was present.
	Forget(ctx context.Context, key string) (bool, error)

	// Has reports whether a live entry exists for key.
	Has(ctx context.Context, key string) (bool, error)

	// Increment adds delta to an integer counter and returns the new value.
	// Missing counters start at zero. Increment does not touch the TTL of
	// an existing counter.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// Lock returns an advisory lock handle. The lock is not acquired until
	// Acquire is called. If owner is empty the implementation assigns one.
	Lock(name string, hold time.Duration, owner string) Lock

	// Close releases resources.
	Close(ctx context.Context) error
}

// Lock is an advisory, owner-scoped lock over the store.
type Lock interface {
	// Acquire attempts to take the lock. Returns false without error when
	// another owner holds it.
	Acquire(ctx context.Context) (bool, error)

	// Release frees the lock if this handle's owner still holds it.
	Release(ctx context.Context) (bool, error)

	// Owner returns the owner token for this handle.
	Owner() string
}

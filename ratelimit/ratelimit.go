// Package ratelimit provides fixed-window throttling over the store port
// and XFetch probabilistic early refresh for stampede avoidance.
package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/unkn0wn-root/opticache/store"
)

const counterPrefix = "opticache:ratelimit:"

// Limiter is a fixed-window counter over the store port. The counter key
// gets TTL = window when the window opens; the store expires it and the
// next attempt opens a fresh window.
type Limiter struct {
	store store.Store
}

func NewLimiter(s store.Store) *Limiter {
	return &Limiter{store: s}
}

// Attempt consumes one slot for key. Returns false once the window's
// counter has reached max.
func (l *Limiter) Attempt(ctx context.Context, key string, max int64, window time.Duration) (bool, error) {
	k := counterPrefix + key
	exists, err := l.store.Has(ctx, k)
	if err != nil {
		return false, err
	}
	if !exists {
		// Seed so the counter carries the window TTL; Increment alone
		// would create an unexpiring counter.
		if _, err := l.store.Put(ctx, k, int64(0), window); err != nil {
			return false, err
		}
	}
	n, err := l.store.Increment(ctx, k, 1)
	if err != nil {
		return false, err
	}
	return n <= max, nil
}

// Remaining reports the slots left in the current window (best-effort
// snapshot; concurrent attempts may consume them first).
func (l *Limiter) Remaining(ctx context.Context, key string, max int64) (int64, error) {
	raw, ok, err := l.store.Get(ctx, counterPrefix+key)
	if err != nil || !ok {
		return max, err
	}
	used, _ := asCount(raw)
	left := max - used
	if left < 0 {
		left = 0
	}
	return left, nil
}

func asCount(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// XFetch decides probabilistic early refresh: the refresh probability
// rises monotonically toward 1 as expiry approaches, spreading
// recomputation ahead of a hard deadline so expiry never synchronizes a
// thundering herd.
type XFetch struct {
	beta float64
	now  func() time.Time
	rand func() float64 // uniform [0,1); injectable for tests
}

// NewXFetch builds a guard with tuning parameter beta. beta <= 0 => 1.0;
// larger beta refreshes earlier.
func NewXFetch(beta float64) *XFetch {
	if beta <= 0 {
		beta = 1.0
	}
	return &XFetch{
		beta: beta,
		now:  time.Now,
		rand: rand.Float64,
	}
}

// ShouldRefresh reports whether the caller should regenerate now. Always
// true once the entry is past expiry; otherwise true with probability
// exp(-remaining / (beta·ttl)).
func (x *XFetch) ShouldRefresh(createdAt time.Time, ttl time.Duration) bool {
	remaining := createdAt.Add(ttl).Sub(x.now())
	if remaining <= 0 {
		return true
	}
	p := math.Exp(-float64(remaining) / (x.beta * float64(ttl)))
	return x.rand() < p
}

// Package freshness implements the compute-and-cache state machines:
// stale-while-revalidate, stale-serving, refresh-ahead, and flexible
// duration caching over the engine's store port.
//
// Band contract: STALE and REFRESH-WINDOW bands always return the
// pre-refresh snapshot to the triggering caller and write the recomputed
// value for subsequent callers. Recompute runs inline within the triggering
// call; there is no background execution.
package freshness

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/opticache"
	"github.com/unkn0wn-root/opticache/store"
)

// ComputeFunc regenerates the value on demand.
type ComputeFunc func(ctx context.Context) (any, error)

// Config tunes a Controller. Only Store is required.
type Config struct {
	Store    store.Store
	Logger   opticache.Logger
	LockHold time.Duration    // hold for the SWR refresh lock; 0 => 10s
	Now      func() time.Time // injectable clock; nil => time.Now
}

// Controller runs the freshness state machines. One Controller may serve
// many keys; it holds no per-key state outside the store.
type Controller struct {
	store    store.Store
	log      opticache.Logger
	lockHold time.Duration
	now      func() time.Time
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("freshness: store is required")
	}
	c := &Controller{
		store:    cfg.Store,
		lockHold: cfg.LockHold,
		now:      cfg.Now,
	}
	if c.log = cfg.Logger; c.log == nil {
		c.log = opticache.NopLogger{}
	}
	if c.lockHold == 0 {
		c.lockHold = 10 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// StaleWhileRevalidate serves cached values while fresh, serves the stale
// snapshot while triggering a guarded recompute between freshTTL and
// staleTTL, and recomputes synchronously past staleTTL. The store's lock
// primitive deduplicates concurrent recomputes.
func (c *Controller) StaleWhileRevalidate(ctx context.Context, key string, freshTTL, staleTTL time.Duration, compute ComputeFunc) (any, error) {
	return c.serve(ctx, key, freshTTL, staleTTL, compute, true)
}

// StaleServing is the unguarded variant: identical bands, but concurrent
// callers in the stale band may each recompute. Lazy recompute on next
// access is acceptable here.
func (c *Controller) StaleServing(ctx context.Context, key string, freshTTL, staleTTL time.Duration, compute ComputeFunc) (any, error) {
	return c.serve(ctx, key, freshTTL, staleTTL, compute, false)
}

// Flexible generalizes stale-serving with an explicit
// [fresh duration, total duration] pair.
func (c *Controller) Flexible(ctx context.Context, key string, freshFor, totalFor time.Duration, compute ComputeFunc) (any, error) {
	return c.serve(ctx, key, freshFor, totalFor, compute, false)
}

// RefreshAhead proactively recomputes inside the window before hard
// expiry: fresh below ttl - window, serve-and-refresh inside the window,
// synchronous recompute at or past ttl.
func (c *Controller) RefreshAhead(ctx context.Context, key string, ttl, refreshWindow time.Duration, compute ComputeFunc) (any, error) {
	fresh := ttl - refreshWindow
	if fresh < 0 {
		fresh = 0
	}
	return c.serve(ctx, key, fresh, ttl, compute, false)
}

func (c *Controller) serve(ctx context.Context, key string, fresh, total time.Duration, compute ComputeFunc, guarded bool) (any, error) {
	rec, ok, err := c.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		// Bands are keyed by the thresholds the record was written with;
		// the call's durations only shape the next write.
		bandFresh, bandTotal := rec.freshFor, rec.totalFor
		if bandFresh <= 0 && bandTotal <= 0 {
			bandFresh, bandTotal = fresh, total
		}
		age := c.now().Sub(rec.createdAt)
		switch {
		case age < bandFresh:
			return rec.value, nil
		case age < bandTotal:
			c.refresh(ctx, key, fresh, total, compute, guarded)
			// Pre-refresh snapshot to the triggering caller; the store now
			// holds the recomputed value for everyone after.
			return rec.value, nil
		}
	}

	// Miss or expired: recompute synchronously before returning.
	v, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if serr := c.put(ctx, key, v, fresh, total); serr != nil {
		c.log.Warn("freshness record write failed", opticache.Fields{"key": key, "err": serr})
	}
	return v, nil
}

// refresh recomputes and replaces the record. Failures only log: the
// caller is already holding a servable stale snapshot.
func (c *Controller) refresh(ctx context.Context, key string, fresh, total time.Duration, compute ComputeFunc, guarded bool) {
	if guarded {
		lock := c.store.Lock("opticache:refresh:"+key, c.lockHold, "")
		ok, err := lock.Acquire(ctx)
		if err != nil || !ok {
			// Another caller is regenerating; stale is still servable.
			return
		}
		defer func() { _, _ = lock.Release(ctx) }()
	}
	v, err := compute(ctx)
	if err != nil {
		c.log.Warn("stale refresh failed; serving previous snapshot", opticache.Fields{"key": key, "err": err})
		return
	}
	if err := c.put(ctx, key, v, fresh, total); err != nil {
		c.log.Warn("freshness record write failed", opticache.Fields{"key": key, "err": err})
	}
}

package opticache

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/opticache/internal/envelope"
	"github.com/unkn0wn-root/opticache/store"
)

// Engine decides, per value, whether and how to transform it before storage
// and reverses the transformation on read. One Engine owns its chunk
// registry; safe for concurrent use.
type Engine struct {
	store      store.Store
	sel        selector
	reg        *ChunkRegistry
	log        Logger
	hooks      Hooks
	defaultTTL time.Duration
	overrides  map[string]map[string]bool
}

// Put passes value through the strategy selector and stores the result.
// A zero ttl uses the engine default.
func (e *Engine) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl == 0 {
		ttl = e.defaultTTL
	}
	sc := e.strategyContext(key, ttl)

	// Chunk keys from a previous write under this key; stale ones are
	// reclaimed after the new value lands.
	oldChunks, hadChunks, err := e.reg.ChunkKeys(ctx, key)
	if err != nil {
		// Registry unavailable only defers cleanup; the write proceeds.
		e.log.Warn("registry read failed during put", Fields{"key": key, "err": err})
		hadChunks = false
	}

	env, err := e.sel.optimize(ctx, value, sc)
	if err != nil {
		return err
	}

	var stored any = value
	if env != nil {
		stored = envelope.Encode(env)
	}
	ok, err := e.store.Put(ctx, key, stored, ttl)
	if err != nil {
		return err
	}
	if !ok {
		e.hooks.StoreSetRejected(key)
		e.log.Debug("store rejected put (pressure)", Fields{"key": key})
	}

	if hadChunks {
		e.reclaimStale(ctx, key, oldChunks, env)
	}
	return nil
}

// Get reverses the stored transformation. Missing chunks surface as an
// ordinary miss; values that are not recognized envelopes pass through
// unchanged. Restore failures on optimized entries self-heal: the entry is
// deleted and the call misses.
func (e *Engine) Get(ctx context.Context, key string) (any, bool, error) {
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	env, isEnv := envelope.Decode(raw)
	if !isEnv {
		return raw, true, nil
	}

	sc := e.strategyContext(key, 0)
	v, err := e.sel.restore(ctx, env, sc)
	if err == nil {
		return v, true, nil
	}

	if errors.Is(err, ErrChunkMissing) {
		e.hooks.ChunkMissing(key, "")
		e.log.Debug("chunked value incomplete; treating as miss", Fields{"key": key, "err": err})
		return nil, false, nil
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return nil, false, err
	}

	// Corrupt optimized payload: drop it so the next write starts clean.
	_, _ = e.store.Forget(ctx, key)
	e.hooks.SelfHeal(key, "restore_error")
	e.log.Warn("restore failed; entry deleted", Fields{"key": key, "err": err})
	return nil, false, nil
}

// GetOr returns def on any miss (including aborted reconstruction).
func (e *Engine) GetOr(ctx context.Context, key string, def any) (any, error) {
	v, ok, err := e.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Forget removes a key and reclaims any chunk parts registered to it.
// Chunks go first so a crash mid-way cannot leave a parent referencing
// deleted parts without the sweeper noticing.
func (e *Engine) Forget(ctx context.Context, key string) (bool, error) {
	chunks, had, err := e.reg.ChunkKeys(ctx, key)
	if err == nil && had {
		for _, ck := range chunks {
			_, _ = e.store.Forget(ctx, ck)
		}
		if derr := e.reg.Deregister(ctx, key); derr != nil {
			e.log.Warn("deregister failed during forget", Fields{"key": key, "err": derr})
		}
	}
	return e.store.Forget(ctx, key)
}

// Sweep reclaims chunks whose parent entry has vanished. Read-only
// callers get the stats snapshot.
func (e *Engine) Sweep(ctx context.Context) (SweepStats, error) {
	return e.reg.Sweep(ctx)
}

// Registry exposes the engine's chunk registry for diagnostics and for
// wiring custom strategy lists.
func (e *Engine) Registry() *ChunkRegistry { return e.reg }

// Store exposes the bound store port so freshness controllers, limiters,
// and trackers can share it.
func (e *Engine) Store() store.Store { return e.store }

func (e *Engine) Close(ctx context.Context) error {
	return e.store.Close(ctx)
}

func (e *Engine) strategyContext(key string, ttl time.Duration) *StrategyContext {
	backend := e.store.Name()
	return &StrategyContext{
		Key:       key,
		TTL:       ttl,
		Store:     e.store,
		Backend:   backend,
		overrides: e.overrides[backend],
	}
}

// reclaimStale forgets chunk keys from the previous write that the new
// value no longer references, and drops the registration when the new
// value is not chunked.
func (e *Engine) reclaimStale(ctx context.Context, key string, oldChunks []string, env envelope.Envelope) {
	var current map[string]bool
	if ch, ok := env.(*envelope.Chunked); ok {
		current = make(map[string]bool, len(ch.ChunkKeys))
		for _, ck := range ch.ChunkKeys {
			current[ck] = true
		}
	}
	for _, ck := range oldChunks {
		if !current[ck] {
			_, _ = e.store.Forget(ctx, ck)
		}
	}
	if current == nil {
		if err := e.reg.Deregister(ctx, key); err != nil {
			e.log.Warn("deregister failed after overwrite", Fields{"key": key, "err": err})
		}
	}
}

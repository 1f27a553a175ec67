package opticache

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/opticache/store"
)

// RegistryKey is the reserved store key holding the entire chunk registry
// map. It is read at first use and rewritten wholesale on each mutating
// operation.
const RegistryKey = "__opticache_chunk_registry__"

type registryEntry struct {
	chunkKeys    []string
	registeredAt time.Time
}

// SweepStats is a read-only snapshot of one orphan sweep.
type SweepStats struct {
	Tracked       int // parents tracked before the sweep
	Orphans       int // parents whose main key was gone
	ChunksDeleted int
	Remaining     int // parents still tracked after the sweep
	SweptAt       time.Time
}

// ChunkRegistry tracks multi-part values: one durable map from parent key
// to its chunk-key set and registration time. Updates are read-modify-write
// with no compare-and-swap; concurrent writers may lose updates, which only
// delays cleanup and never corrupts live data.
type ChunkRegistry struct {
	mu     sync.Mutex
	store  store.Store
	log    Logger
	hooks  Hooks
	now    func() time.Time
	loaded bool
	m      map[string]registryEntry
}

func NewChunkRegistry(s store.Store, log Logger, hooks Hooks) *ChunkRegistry {
	return &ChunkRegistry{
		store: s,
		log:   coalesce[Logger](log, NopLogger{}),
		hooks: coalesce[Hooks](hooks, NopHooks{}),
		now:   time.Now,
		m:     make(map[string]registryEntry),
	}
}

// Register records the chunk-key set for a parent. Flushes the registry.
func (r *ChunkRegistry) Register(ctx context.Context, mainKey string, chunkKeys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(ctx); err != nil {
		return err
	}
	keys := make([]string, len(chunkKeys))
	copy(keys, chunkKeys)
	r.m[mainKey] = registryEntry{chunkKeys: keys, registeredAt: r.now()}
	return r.flush(ctx)
}

// Deregister drops a parent's entry. Flushes when the entry existed.
func (r *ChunkRegistry) Deregister(ctx context.Context, mainKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(ctx); err != nil {
		return err
	}
	if _, ok := r.m[mainKey]; !ok {
		return nil
	}
	delete(r.m, mainKey)
	return r.flush(ctx)
}

// ChunkKeys returns the tracked chunk-key set for a parent.
func (r *ChunkRegistry) ChunkKeys(ctx context.Context, mainKey string) ([]string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(ctx); err != nil {
		return nil, false, err
	}
	e, ok := r.m[mainKey]
	if !ok {
		return nil, false, nil
	}
	out := make([]string, len(e.chunkKeys))
	copy(out, e.chunkKeys)
	return out, true, nil
}

// Sweep reclaims chunks whose parent has vanished: for every tracked parent
// it checks existence in the store; absent parents have all their chunk
// keys deleted and their registry entry dropped. The updated registry is
// persisted once at the end. Idempotent: re-running on an unchanged
// registry deletes nothing further.
func (r *ChunkRegistry) Sweep(ctx context.Context) (SweepStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-read so sweeps observe registrations from other writers.
	r.loaded = false
	if err := r.load(ctx); err != nil {
		return SweepStats{}, err
	}

	stats := SweepStats{Tracked: len(r.m), SweptAt: r.now()}
	for mainKey, e := range r.m {
		alive, err := r.store.Has(ctx, mainKey)
		if err != nil {
			return stats, err
		}
		if alive {
			continue
		}
		stats.Orphans++
		for _, ck := range e.chunkKeys {
			removed, err := r.store.Forget(ctx, ck)
			if err != nil {
				r.log.Warn("orphan chunk delete failed", Fields{"chunk": ck, "err": err})
				continue
			}
			if removed {
				stats.ChunksDeleted++
			}
		}
		delete(r.m, mainKey)
	}
	stats.Remaining = len(r.m)

	if err := r.flush(ctx); err != nil {
		return stats, err
	}
	r.hooks.SweepCompleted(stats.Orphans, stats.ChunksDeleted)
	r.log.Debug("orphan sweep finished", Fields{
		"orphans": stats.Orphans, "chunks_deleted": stats.ChunksDeleted, "remaining": stats.Remaining,
	})
	return stats, nil
}

// load reads the registry from its reserved key on first use. A malformed
// persisted registry is discarded and rebuilt empty (chunks it referenced
// remain reclaimable via a later registration or stay inert).
// Caller must hold r.mu.
func (r *ChunkRegistry) load(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	raw, ok, err := r.store.Get(ctx, RegistryKey)
	if err != nil {
		r.hooks.RegistryError("load", err)
		return err
	}
	r.m = make(map[string]registryEntry)
	if ok {
		r.decodeInto(raw)
	}
	r.loaded = true
	return nil
}

// flush rewrites the whole registry map under its reserved key.
// Caller must hold r.mu.
func (r *ChunkRegistry) flush(ctx context.Context) error {
	wire := make(map[string]any, len(r.m))
	for mainKey, e := range r.m {
		keys := make([]any, len(e.chunkKeys))
		for i, ck := range e.chunkKeys {
			keys[i] = ck
		}
		wire[mainKey] = map[string]any{
			"chunk_keys":    keys,
			"registered_at": e.registeredAt.UnixMilli(),
		}
	}
	ok, err := r.store.Put(ctx, RegistryKey, wire, 0)
	if err == nil && !ok {
		r.log.Warn("registry flush rejected by store", nil)
	}
	if err != nil {
		r.hooks.RegistryError("flush", err)
	}
	return err
}

func (r *ChunkRegistry) decodeInto(raw any) {
	m, ok := raw.(map[string]any)
	if !ok {
		r.log.Warn("registry payload malformed; rebuilding empty", nil)
		return
	}
	for mainKey, rawEntry := range m {
		em, ok := rawEntry.(map[string]any)
		if !ok {
			continue
		}
		var keys []string
		switch rawKeys := em["chunk_keys"].(type) {
		case []string:
			keys = append(keys, rawKeys...)
		case []any:
			for _, rk := range rawKeys {
				if s, ok := rk.(string); ok {
					keys = append(keys, s)
				}
			}
		}
		if len(keys) == 0 {
			continue
		}
		at, _ := asInt64(em["registered_at"])
		r.m[mainKey] = registryEntry{
			chunkKeys:    keys,
			registeredAt: time.UnixMilli(at),
		}
	}
}

// asInt64 tolerates the numeric types store codecs round-trip through.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

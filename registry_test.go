package opticache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/opticache/store"
)

// failingStore errors every operation; used to exercise degraded paths.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Name() string                              { return "broken" }
func (failingStore) Get(context.Context, string) (any, bool, error) {
	return nil, false, errStoreDown
}
func (failingStore) Put(context.Context, string, any, time.Duration) (bool, error) {
	return false, errStoreDown
}
func (failingStore) Forget(context.Context, string) (bool, error) { return false, errStoreDown }
func (failingStore) Has(context.Context, string) (bool, error)    { return false, errStoreDown }
func (failingStore) Increment(context.Context, string, int64) (int64, error) {
	return 0, errStoreDown
}
func (failingStore) Lock(string, time.Duration, string) store.Lock { return nil }
func (failingStore) Close(context.Context) error                   { return nil }

func TestRegistryRoundTrip(t *testing.T) {
	mem := store.NewMemory()
	reg := NewChunkRegistry(mem, nil, nil)
	ctx := context.Background()

	if err := reg.Register(ctx, "k", []string{"k:chunk:0", "k:chunk:1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	keys, ok, err := reg.ChunkKeys(ctx, "k")
	if err != nil || !ok || len(keys) != 2 {
		t.Fatalf("chunkkeys = %v, %v, %v", keys, ok, err)
	}

	// A second registry over the same store sees the persisted state.
	fresh := NewChunkRegistry(mem, nil, nil)
	keys, ok, err = fresh.ChunkKeys(ctx, "k")
	if err != nil || !ok || len(keys) != 2 {
		t.Fatalf("fresh registry = %v, %v, %v", keys, ok, err)
	}

	if err := reg.Deregister(ctx, "k"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, ok, _ := reg.ChunkKeys(ctx, "k"); ok {
		t.Fatal("entry survived deregister")
	}
}

func TestRegistryDeregisterUnknownIsNoop(t *testing.T) {
	reg := NewChunkRegistry(store.NewMemory(), nil, nil)
	if err := reg.Deregister(context.Background(), "nope"); err != nil {
		t.Fatalf("deregister unknown: %v", err)
	}
}

func TestRegistryMalformedPayloadRebuildsEmpty(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	if _, err := mem.Put(ctx, RegistryKey, "garbage", 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reg := NewChunkRegistry(mem, nil, nil)
	if _, ok, err := reg.ChunkKeys(ctx, "k"); ok || err != nil {
		t.Fatalf("malformed registry should read as empty, got ok=%v err=%v", ok, err)
	}
	// And remains usable.
	if err := reg.Register(ctx, "k", []string{"k:chunk:0"}); err != nil {
		t.Fatalf("register after rebuild: %v", err)
	}
}

func TestRegistryDecodeToleratesCodecShapes(t *testing.T) {
	// A registry persisted through a codec comes back as []any chunk keys
	// and float64 timestamps.
	mem := store.NewMemory()
	ctx := context.Background()
	wire := map[string]any{
		"k": map[string]any{
			"chunk_keys":    []any{"k:chunk:0", "k:chunk:1"},
			"registered_at": float64(1700000000000),
		},
	}
	if _, err := mem.Put(ctx, RegistryKey, wire, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reg := NewChunkRegistry(mem, nil, nil)
	keys, ok, err := reg.ChunkKeys(ctx, "k")
	if err != nil || !ok || len(keys) != 2 {
		t.Fatalf("decoded = %v, %v, %v", keys, ok, err)
	}
}

func TestRegistryLoadErrorSurfaces(t *testing.T) {
	reg := NewChunkRegistry(failingStore{}, nil, nil)
	if err := reg.Register(context.Background(), "k", []string{"c0"}); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestSweepSeesOtherWritersRegistrations(t *testing.T) {
	// Two registries over one store: a sweep on the second must observe
	// parents registered through the first.
	mem := store.NewMemory()
	ctx := context.Background()
	writer := NewChunkRegistry(mem, nil, nil)
	sweeper := NewChunkRegistry(mem, nil, nil)

	if _, err := mem.Put(ctx, "orphan:chunk:0", []any{"x"}, 0); err != nil {
		t.Fatalf("seed chunk: %v", err)
	}
	if err := writer.Register(ctx, "orphan", []string{"orphan:chunk:0"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	stats, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Tracked != 1 || stats.Orphans != 1 || stats.ChunksDeleted != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if ok, _ := mem.Has(ctx, "orphan:chunk:0"); ok {
		t.Fatal("orphan chunk survived")
	}
}

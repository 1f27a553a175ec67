package freshness

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/opticache/store"
)

// clock is a settable fake for the controller's injectable Now.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestController(t *testing.T) (*Controller, *clock, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	clk := &clock{t: time.UnixMilli(1700000000000)}
	c, err := NewController(Config{Store: mem, Now: clk.now})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, clk, mem
}

func counter(v *atomic.Int64, result string) ComputeFunc {
	return func(context.Context) (any, error) {
		n := v.Add(1)
		return result + "-" + string(rune('0'+n)), nil
	}
}

func TestNewControllerRequiresStore(t *testing.T) {
	if _, err := NewController(Config{}); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestStaleWhileRevalidateBands(t *testing.T) {
	c, clk, _ := newTestController(t)
	ctx := context.Background()
	var calls atomic.Int64
	compute := counter(&calls, "v")

	// Miss: synchronous compute.
	v, err := c.StaleWhileRevalidate(ctx, "k", time.Minute, 5*time.Minute, compute)
	if err != nil || v != "v-1" {
		t.Fatalf("miss: %v, %v", v, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}

	// FRESH band: cached, no recompute.
	clk.advance(30 * time.Second)
	v, _ = c.StaleWhileRevalidate(ctx, "k", time.Minute, 5*time.Minute, compute)
	if v != "v-1" || calls.Load() != 1 {
		t.Fatalf("fresh band: v=%v calls=%d", v, calls.Load())
	}

	// STALE band: triggering caller gets the pre-refresh snapshot while the
	// store is refreshed for everyone after.
	clk.advance(time.Minute)
	v, _ = c.StaleWhileRevalidate(ctx, "k", time.Minute, 5*time.Minute, compute)
	if v != "v-1" {
		t.Fatalf("stale band should serve snapshot, got %v", v)
	}
	if calls.Load() != 2 {
		t.Fatalf("stale band should recompute, calls = %d", calls.Load())
	}
	v, _ = c.StaleWhileRevalidate(ctx, "k", time.Minute, 5*time.Minute, compute)
	if v != "v-2" || calls.Load() != 2 {
		t.Fatalf("follow-up caller: v=%v calls=%d", v, calls.Load())
	}
}

func TestStaleWhileRevalidateExpired(t *testing.T) {
	c, clk, _ := newTestController(t)
	ctx := context.Background()
	var calls atomic.Int64
	compute := counter(&calls, "v")

	if _, err := c.StaleWhileRevalidate(ctx, "k", time.Minute, 2*time.Minute, compute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// The memory store TTL is wall-clock; force the EXPIRED band through the
	// record's own thresholds by moving the injected clock past total.
	clk.advance(3 * time.Minute)
	v, err := c.StaleWhileRevalidate(ctx, "k", time.Minute, 2*time.Minute, compute)
	if err != nil || v != "v-2" {
		t.Fatalf("expired: %v, %v", v, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestStaleRefreshGuardedByLock(t *testing.T) {
	c, clk, mem := newTestController(t)
	ctx := context.Background()
	var calls atomic.Int64
	compute := counter(&calls, "v")

	if _, err := c.StaleWhileRevalidate(ctx, "k", time.Minute, 5*time.Minute, compute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	clk.advance(2 * time.Minute)

	// Hold the refresh lock as a foreign owner: the stale caller must keep
	// serving the snapshot without recomputing.
	lock := mem.Lock("opticache:refresh:k", time.Minute, "other")
	if ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire: %v, %v", ok, err)
	}
	v, err := c.StaleWhileRevalidate(ctx, "k", time.Minute, 5*time.Minute, compute)
	if err != nil || v != "v-1" {
		t.Fatalf("guarded stale: %v, %v", v, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("recompute ran despite held lock, calls = %d", calls.Load())
	}

	// Release: the next stale caller refreshes.
	if _, err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := c.StaleWhileRevalidate(ctx, "k", time.Minute, 5*time.Minute, compute); err != nil {
		t.Fatalf("post-release: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestStaleRefreshFailureKeepsServing(t *testing.T) {
	c, clk, _ := newTestController(t)
	ctx := context.Background()

	if _, err := c.StaleServing(ctx, "k", time.Minute, 5*time.Minute, func(context.Context) (any, error) {
		return "good", nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	clk.advance(2 * time.Minute)

	failing := func(context.Context) (any, error) { return nil, errors.New("upstream down") }
	v, err := c.StaleServing(ctx, "k", time.Minute, 5*time.Minute, failing)
	if err != nil || v != "good" {
		t.Fatalf("stale serve on failed refresh: %v, %v", v, err)
	}
	// Still servable on the next call too.
	v, err = c.StaleServing(ctx, "k", time.Minute, 5*time.Minute, failing)
	if err != nil || v != "good" {
		t.Fatalf("repeat: %v, %v", v, err)
	}
}

func TestMissComputeErrorPropagates(t *testing.T) {
	c, _, _ := newTestController(t)
	wantErr := errors.New("no upstream")
	_, err := c.StaleServing(context.Background(), "k", time.Minute, 5*time.Minute,
		func(context.Context) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestFlexibleUsesStoredThresholds(t *testing.T) {
	c, clk, _ := newTestController(t)
	ctx := context.Background()
	var calls atomic.Int64
	compute := counter(&calls, "v")

	// Written with a 1m fresh window.
	if _, err := c.Flexible(ctx, "k", time.Minute, 10*time.Minute, compute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	clk.advance(90 * time.Second)

	// A later caller passing wider durations still sees the record's own
	// thresholds: 90s is past the stored 1m fresh window.
	v, err := c.Flexible(ctx, "k", time.Hour, 2*time.Hour, compute)
	if err != nil || v != "v-1" {
		t.Fatalf("flexible stale: %v, %v", v, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("refresh should use stored thresholds, calls = %d", calls.Load())
	}
}

func TestRefreshAheadWindow(t *testing.T) {
	c, clk, _ := newTestController(t)
	ctx := context.Background()
	var calls atomic.Int64
	compute := counter(&calls, "v")

	// ttl 10m, window 2m => fresh until 8m.
	if _, err := c.RefreshAhead(ctx, "k", 10*time.Minute, 2*time.Minute, compute); err != nil {
		t.Fatalf("seed: %v", err)
	}

	clk.advance(7 * time.Minute)
	v, _ := c.RefreshAhead(ctx, "k", 10*time.Minute, 2*time.Minute, compute)
	if v != "v-1" || calls.Load() != 1 {
		t.Fatalf("before window: v=%v calls=%d", v, calls.Load())
	}

	clk.advance(2 * time.Minute) // now at 9m, inside the refresh window
	v, _ = c.RefreshAhead(ctx, "k", 10*time.Minute, 2*time.Minute, compute)
	if v != "v-1" {
		t.Fatalf("window should serve current value, got %v", v)
	}
	if calls.Load() != 2 {
		t.Fatalf("window should trigger refresh, calls = %d", calls.Load())
	}
}

func TestForeignValueAtKeyIsMiss(t *testing.T) {
	c, _, mem := newTestController(t)
	ctx := context.Background()
	if _, err := mem.Put(ctx, "k", "not a record", 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	v, err := c.StaleServing(ctx, "k", time.Minute, 5*time.Minute,
		func(context.Context) (any, error) { return "computed", nil })
	if err != nil || v != "computed" {
		t.Fatalf("foreign value should be a miss: %v, %v", v, err)
	}
}

func TestRecordSurvivesCodecNumericShapes(t *testing.T) {
	c, clk, mem := newTestController(t)
	ctx := context.Background()

	// Simulate a codec round-trip: integers come back as float64.
	wire := map[string]any{
		recordMarker: true,
		"value":      "stored",
		"created_at": float64(clk.t.UnixMilli()),
		"fresh_ms":   float64(60000),
		"total_ms":   float64(300000),
	}
	if _, err := mem.Put(ctx, "k", wire, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	v, err := c.StaleServing(ctx, "k", time.Minute, 5*time.Minute,
		func(context.Context) (any, error) { return "recomputed", nil })
	if err != nil || v != "stored" {
		t.Fatalf("decoded record: %v, %v", v, err)
	}
}

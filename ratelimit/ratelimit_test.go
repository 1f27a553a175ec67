package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/opticache/store"
)

func TestFixedWindowLimit(t *testing.T) {
	l := NewLimiter(store.NewMemory())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.Attempt(ctx, "op", 5, time.Minute)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("attempt %d rejected under the limit", i)
		}
	}
	ok, err := l.Attempt(ctx, "op", 5, time.Minute)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if ok {
		t.Fatal("sixth attempt allowed with max 5")
	}
}

func TestWindowExpiryOpensFreshWindow(t *testing.T) {
	mem := store.NewMemory()
	l := NewLimiter(mem)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := l.Attempt(ctx, "op", 3, 20*time.Millisecond); !ok {
			t.Fatalf("attempt %d rejected", i)
		}
	}
	if ok, _ := l.Attempt(ctx, "op", 3, 20*time.Millisecond); ok {
		t.Fatal("window exhausted but attempt allowed")
	}

	time.Sleep(30 * time.Millisecond)
	if ok, err := l.Attempt(ctx, "op", 3, 20*time.Millisecond); err != nil || !ok {
		t.Fatalf("fresh window: %v, %v", ok, err)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewLimiter(store.NewMemory())
	ctx := context.Background()

	if ok, _ := l.Attempt(ctx, "a", 1, time.Minute); !ok {
		t.Fatal("a rejected")
	}
	if ok, _ := l.Attempt(ctx, "a", 1, time.Minute); ok {
		t.Fatal("a should be exhausted")
	}
	if ok, _ := l.Attempt(ctx, "b", 1, time.Minute); !ok {
		t.Fatal("b throttled by a's counter")
	}
}

func TestRemaining(t *testing.T) {
	l := NewLimiter(store.NewMemory())
	ctx := context.Background()

	if n, err := l.Remaining(ctx, "op", 10); err != nil || n != 10 {
		t.Fatalf("untouched window: %d, %v", n, err)
	}
	for i := 0; i < 4; i++ {
		if _, err := l.Attempt(ctx, "op", 10, time.Minute); err != nil {
			t.Fatalf("attempt: %v", err)
		}
	}
	if n, _ := l.Remaining(ctx, "op", 10); n != 6 {
		t.Fatalf("remaining = %d, want 6", n)
	}
}

func TestXFetchPastExpiryAlwaysRefreshes(t *testing.T) {
	x := NewXFetch(1.0)
	x.now = func() time.Time { return time.UnixMilli(1700000000000) }
	x.rand = func() float64 { return 0.999999 } // never below any p < 1

	created := time.UnixMilli(1700000000000).Add(-2 * time.Minute)
	if !x.ShouldRefresh(created, time.Minute) {
		t.Fatal("expired entry must refresh")
	}
	if !x.ShouldRefresh(created, 2*time.Minute) {
		t.Fatal("entry at the boundary must refresh")
	}
}

func TestXFetchProbabilityRisesTowardExpiry(t *testing.T) {
	x := NewXFetch(1.0)
	base := time.UnixMilli(1700000000000)
	x.now = func() time.Time { return base }

	// ShouldRefresh is true iff rand() < p, so feeding a fixed r probes
	// whether p exceeds r.
	probe := func(remaining time.Duration, r float64) bool {
		x.rand = func() float64 { return r }
		created := base.Add(remaining).Add(-time.Hour) // ttl 1h
		return x.ShouldRefresh(created, time.Hour)
	}

	// Nearly-fresh entry: p ≈ exp(-1) ≈ 0.37.
	if probe(59*time.Minute, 0.5) {
		t.Fatal("fresh entry refreshed at r=0.5")
	}
	if !probe(59*time.Minute, 0.3) {
		t.Fatal("fresh entry should refresh at r=0.3")
	}
	// Nearly-expired entry: p ≈ exp(-1/60) ≈ 0.98.
	if !probe(time.Minute, 0.9) {
		t.Fatal("near-expiry entry should refresh at r=0.9")
	}
	if probe(time.Minute, 0.99) {
		t.Fatal("near-expiry entry refreshed at r=0.99")
	}
}

func TestXFetchBetaWidensTheWindow(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	created := base.Add(-30 * time.Minute) // half of a 1h ttl remains

	p := func(beta float64) bool {
		x := NewXFetch(beta)
		x.now = func() time.Time { return base }
		x.rand = func() float64 { return 0.55 }
		return x.ShouldRefresh(created, time.Hour)
	}

	// beta 1: p = exp(-0.5) ≈ 0.61 > 0.55 => refresh.
	if !p(1.0) {
		t.Fatal("beta 1 should refresh at r=0.55")
	}
	// beta 0.5: p = exp(-1) ≈ 0.37 < 0.55 => hold.
	if p(0.5) {
		t.Fatal("beta 0.5 should hold at r=0.55")
	}
}

func TestXFetchDefaultBeta(t *testing.T) {
	x := NewXFetch(0)
	if x.beta != 1.0 {
		t.Fatalf("beta = %v", x.beta)
	}
	x = NewXFetch(-3)
	if x.beta != 1.0 {
		t.Fatalf("beta = %v", x.beta)
	}
}

package cost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/opticache/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *clock, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	clk := &clock{t: time.UnixMilli(1700000000000)}
	cfg.Store = mem
	cfg.Now = clk.now
	tr, err := NewTracker(cfg)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr, clk, mem
}

func TestNewTrackerRequiresStore(t *testing.T) {
	if _, err := NewTracker(Config{}); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestScoreOrdering(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	// Same size and recency; costlier regeneration must score higher.
	if err := tr.Record(ctx, "cheap", 10, 1024); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := tr.Record(ctx, "expensive", 500, 1024); err != nil {
		t.Fatalf("record: %v", err)
	}
	if tr.Score("expensive") <= tr.Score("cheap") {
		t.Fatal("costlier key should score higher")
	}

	// Same cost; the larger value is a better eviction candidate.
	tr.Record(ctx, "small", 100, 100)
	tr.Record(ctx, "large", 100, 1<<20)
	if tr.Score("large") >= tr.Score("small") {
		t.Fatal("larger key should score lower")
	}

	if tr.Score("untracked") != 0 {
		t.Fatal("untracked keys score 0")
	}
}

func TestTouchRaisesScore(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	tr.Record(ctx, "k", 100, 1024)
	before := tr.Score("k")
	for i := 0; i < 5; i++ {
		if err := tr.Touch(ctx, "k"); err != nil {
			t.Fatalf("touch: %v", err)
		}
	}
	if tr.Score("k") <= before {
		t.Fatal("frequent access should raise the score")
	}
	// Touching an untracked key is silently ignored.
	if err := tr.Touch(ctx, "ghost"); err != nil {
		t.Fatalf("touch unknown: %v", err)
	}
	if tr.Score("ghost") != 0 {
		t.Fatal("touch must not create entries")
	}
}

func TestRecencyDecay(t *testing.T) {
	tr, clk, _ := newTestTracker(t, Config{HalfLife: time.Hour})
	ctx := context.Background()

	tr.Record(ctx, "k", 100, 1024)
	fresh := tr.Score("k")
	clk.advance(time.Hour)
	decayed := tr.Score("k")
	if decayed >= fresh {
		t.Fatal("score should decay with age")
	}
	// One half-life halves the score.
	if ratio := decayed / fresh; ratio < 0.49 || ratio > 0.51 {
		t.Fatalf("half-life ratio = %v", ratio)
	}
}

func TestReportSortedDescending(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	tr.Record(ctx, "low", 10, 1024)
	tr.Record(ctx, "mid", 100, 1024)
	tr.Record(ctx, "high", 1000, 1024)

	report := tr.Report()
	if len(report) != 3 {
		t.Fatalf("report has %d rows", len(report))
	}
	if report[0].Key != "high" || report[2].Key != "low" {
		t.Fatalf("order = %s, %s, %s", report[0].Key, report[1].Key, report[2].Key)
	}
	for i := 1; i < len(report); i++ {
		if report[i].Score > report[i-1].Score {
			t.Fatal("report not sorted descending")
		}
	}
}

func TestEvictionCandidatesLowestFirst(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	tr.Record(ctx, "low", 10, 1024)
	tr.Record(ctx, "mid", 100, 1024)
	tr.Record(ctx, "high", 1000, 1024)

	got := tr.EvictionCandidates(2)
	if len(got) != 2 || got[0] != "low" || got[1] != "mid" {
		t.Fatalf("candidates = %v", got)
	}
	// Asking for more than tracked returns everything.
	if got := tr.EvictionCandidates(10); len(got) != 3 {
		t.Fatalf("candidates = %v", got)
	}
}

func TestTrimDropsLowestScores(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{MaxTracked: 2})
	ctx := context.Background()

	tr.Record(ctx, "low", 10, 1024)
	tr.Record(ctx, "high", 1000, 1024)
	tr.Record(ctx, "mid", 100, 1024)

	if tr.Score("low") != 0 {
		t.Fatal("lowest-scoring entry should have been trimmed")
	}
	if tr.Score("high") == 0 || tr.Score("mid") == 0 {
		t.Fatal("trim removed a survivor")
	}
}

func TestFlushAndReload(t *testing.T) {
	tr, clk, mem := newTestTracker(t, Config{})
	ctx := context.Background()

	tr.Record(ctx, "k", 250, 2048)
	tr.Touch(ctx, "k")
	if err := tr.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// A fresh tracker over the same store sees the persisted profile.
	fresh, err := NewTracker(Config{Store: mem, Now: clk.now})
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	if err := fresh.Touch(ctx, "k"); err != nil { // forces load
		t.Fatalf("touch: %v", err)
	}
	report := fresh.Report()
	if len(report) != 1 || report[0].Key != "k" {
		t.Fatalf("report = %+v", report)
	}
	md := report[0].Metadata
	if md.CostMS != 250 || md.SizeBytes != 2048 || md.AccessCount != 3 {
		t.Fatalf("metadata = %+v", md)
	}
}

func TestScopedFlushesOnError(t *testing.T) {
	tr, clk, mem := newTestTracker(t, Config{})
	ctx := context.Background()

	wantErr := errors.New("mid-batch failure")
	err := tr.Scoped(ctx, func(t *Tracker) error {
		t.Record(ctx, "k", 100, 512)
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}

	// The mutation made it to the store despite the error.
	fresh, _ := NewTracker(Config{Store: mem, Now: clk.now})
	if err := fresh.Touch(ctx, "k"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if fresh.Score("k") == 0 {
		t.Fatal("scoped mutation was not flushed")
	}
}

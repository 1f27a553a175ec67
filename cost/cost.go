// Package cost ranks keys by regeneration value for eviction guidance.
// Metadata is loaded lazily from one reserved store key, mutated in
// memory, and flushed at explicit checkpoints.
package cost

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/opticache"
	"github.com/unkn0wn-root/opticache/store"
)

// MetadataKey is the reserved store key holding all tracked metadata.
const MetadataKey = "__opticache_cost_metadata__"

// Metadata is the per-key regeneration profile.
type Metadata struct {
	CostMS       float64
	AccessCount  int64
	SizeBytes    int64
	LastAccessed time.Time
	CreatedAt    time.Time
}

// Entry is one row of a value report.
type Entry struct {
	Key   string
	Score float64
	Metadata
}

// Config tunes a Tracker. Only Store is required.
type Config struct {
	Store      store.Store
	Logger     opticache.Logger
	MaxTracked int              // 0 => 1000
	HalfLife   time.Duration    // recency decay half-life; 0 => 24h
	Now        func() time.Time // injectable clock; nil => time.Now
}

// Tracker holds cost metadata for one engine instance. Mutations stay in
// memory until Flush; use Scoped for guaranteed flush on exit.
type Tracker struct {
	store      store.Store
	log        opticache.Logger
	maxTracked int
	halfLife   time.Duration
	now        func() time.Time

	mu     sync.Mutex
	loaded bool
	m      map[string]*Metadata
}

func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cost: store is required")
	}
	t := &Tracker{
		store:      cfg.Store,
		log:        cfg.Logger,
		maxTracked: cfg.MaxTracked,
		halfLife:   cfg.HalfLife,
		now:        cfg.Now,
		m:          make(map[string]*Metadata),
	}
	if t.log == nil {
		t.log = opticache.NopLogger{}
	}
	if t.maxTracked <= 0 {
		t.maxTracked = 1000
	}
	if t.halfLife <= 0 {
		t.halfLife = 24 * time.Hour
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t, nil
}

// Record notes one regeneration of key: its cost and resulting size.
// Access count and recency advance too.
func (t *Tracker) Record(ctx context.Context, key string, costMS float64, sizeBytes int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(ctx); err != nil {
		return err
	}
	now := t.now()
	md, ok := t.m[key]
	if !ok {
		md = &Metadata{CreatedAt: now}
		t.m[key] = md
	}
	md.CostMS = costMS
	md.SizeBytes = sizeBytes
	md.AccessCount++
	md.LastAccessed = now
	t.trim()
	return nil
}

// Touch advances access count and recency for key without changing its
// cost profile. Unknown keys are ignored.
func (t *Tracker) Touch(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(ctx); err != nil {
		return err
	}
	md, ok := t.m[key]
	if !ok {
		return nil
	}
	md.AccessCount++
	md.LastAccessed = t.now()
	return nil
}

// Score returns the retention value of key; 0 for untracked keys.
// score = cost · ln(1+access) · decay / max(1, size), with
// decay = exp(-age_since_last_access / half_life). Non-negative, strictly
// increasing in cost and access frequency, decreasing in size and
// staleness.
func (t *Tracker) Score(key string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	md, ok := t.m[key]
	if !ok {
		return 0
	}
	return t.score(md)
}

// Report returns every tracked key sorted descending by score.
func (t *Tracker) Report() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.m))
	for k, md := range t.m {
		out = append(out, Entry{Key: k, Score: t.score(md), Metadata: *md})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// EvictionCandidates returns up to n keys, lowest score first.
func (t *Tracker) EvictionCandidates(n int) []string {
	report := t.Report()
	if n > len(report) {
		n = len(report)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, report[len(report)-1-i].Key)
	}
	return out
}

// Flush persists the tracked metadata wholesale under the reserved key.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flush(ctx)
}

// Scoped loads the metadata, runs fn, and flushes on exit even when fn
// fails. This is the defined checkpoint for persistence.
func (t *Tracker) Scoped(ctx context.Context, fn func(*Tracker) error) (err error) {
	t.mu.Lock()
	loadErr := t.load(ctx)
	t.mu.Unlock()
	if loadErr != nil {
		return loadErr
	}
	defer func() {
		if ferr := t.Flush(ctx); ferr != nil && err == nil {
			err = ferr
		}
	}()
	return fn(t)
}

func (t *Tracker) score(md *Metadata) float64 {
	age := t.now().Sub(md.LastAccessed)
	if age < 0 {
		age = 0
	}
	decay := math.Exp(-float64(age) / float64(t.halfLife))
	size := md.SizeBytes
	if size < 1 {
		size = 1
	}
	return md.CostMS * math.Log1p(float64(md.AccessCount)) * decay / float64(size)
}

// trim drops the lowest-scoring entries once the tracked-key count exceeds
// the maximum. Caller must hold t.mu.
func (t *Tracker) trim() {
	over := len(t.m) - t.maxTracked
	if over <= 0 {
		return
	}
	type scored struct {
		key   string
		score float64
	}
	all := make([]scored, 0, len(t.m))
	for k, md := range t.m {
		all = append(all, scored{key: k, score: t.score(md)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score < all[j].score })
	for i := 0; i < over; i++ {
		delete(t.m, all[i].key)
	}
	t.log.Debug("cost metadata trimmed", opticache.Fields{"dropped": over})
}

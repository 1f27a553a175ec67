package opticache

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"

	"github.com/unkn0wn-root/opticache/internal/envelope"
)

// Per-backend value-size limits for the chunk-size calculator. 0 means
// unbounded. Unknown backends fall back to a conservative default.
var backendValueLimits = map[string]int64{
	"redis":     512 << 20,
	"memcached": 1 << 20,
	"mongodb":   16 << 20,
	"memory":    0,
	"array":     0,
	"bigcache":  0,
	"ristretto": 0,
}

const defaultValueLimit = 1 << 20

const (
	minChunkItems  = 100
	chunkCapSmall  = 5000 // total < 1MiB
	chunkCapLarge  = 500  // total > 10MiB
	chunkCapNormal = 1000
	smallTotal     = 1 << 20
	largeTotal     = 10 << 20
	sampleLimit    = 100
)

// ChunkSizeCalculator estimates safe partition sizes from sampled item
// sizes and per-backend value-size limits.
type ChunkSizeCalculator struct {
	randInt func(n int) int // injectable for deterministic tests
}

func NewChunkSizeCalculator() *ChunkSizeCalculator {
	return &ChunkSizeCalculator{randInt: rand.Intn}
}

// BackendLimit returns the value-size limit for a backend; 0 = unbounded.
func (c *ChunkSizeCalculator) BackendLimit(backend string) int64 {
	limit, ok := backendValueLimits[backend]
	if !ok {
		return defaultValueLimit
	}
	return limit
}

// Effective computes the chunk size for a container: sample up to 100
// random items to estimate the average serialized item size, then
// safe = floor(0.8 × backendLimit / avg), floor-bounded to 100, capped by
// total-size band (500 above 10MiB, 5000 below 1MiB, 1000 otherwise) and by
// the item count.
func (c *ChunkSizeCalculator) Effective(items []any, totalSize int, backend string) int {
	n := len(items)
	if n == 0 {
		return minChunkItems
	}

	sampled := n
	if sampled > sampleLimit {
		sampled = sampleLimit
	}
	var sum int
	for i := 0; i < sampled; i++ {
		idx := i
		if n > sampleLimit {
			idx = c.randInt(n)
		}
		sum += serializedSize(items[idx])
	}
	avg := sum / sampled
	if avg < 1 {
		avg = 1
	}

	var safe int
	limit := c.BackendLimit(backend)
	if limit <= 0 {
		safe = n // unbounded backend; band caps below still apply
	} else {
		safe = int(0.8 * float64(limit) / float64(avg))
	}
	if safe < minChunkItems {
		safe = minChunkItems
	}

	bandCap := chunkCapNormal
	switch {
	case totalSize > largeTotal:
		bandCap = chunkCapLarge
	case totalSize < smallTotal:
		bandCap = chunkCapSmall
	}
	if safe > bandCap {
		safe = bandCap
	}
	if safe > n {
		safe = n
	}
	return safe
}

// ChunkingConfig tunes the chunking strategy.
type ChunkingConfig struct {
	// Threshold is the minimum total estimated serialized size (bytes)
	// before chunking is considered. 0 => 10240.
	Threshold int
	// ChunkSize fixes the partition size. 0 => smart calculator.
	ChunkSize int
}

// Chunking partitions large containers into ordered parts stored under
// derived keys, registering the key set so orphans can be swept.
type Chunking struct {
	threshold int
	chunkSize int
	calc      *ChunkSizeCalculator
	reg       *ChunkRegistry
}

var _ Strategy = (*Chunking)(nil)

func NewChunking(cfg ChunkingConfig, reg *ChunkRegistry) *Chunking {
	return &Chunking{
		threshold: coalesce(cfg.Threshold, 10240),
		chunkSize: cfg.ChunkSize,
		calc:      NewChunkSizeCalculator(),
		reg:       reg,
	}
}

func (s *Chunking) Identifier() string { return StrategyChunking }

// minItems is the smallest container worth chunking: below the configured
// (or floor) chunk size, chunking would produce one useless partition.
func (s *Chunking) minItems() int {
	if s.chunkSize > 0 {
		return s.chunkSize
	}
	return minChunkItems
}

func (s *Chunking) ShouldApply(value any, _ *StrategyContext) bool {
	items, _, ok := containerItems(value)
	if !ok || len(items) < s.minItems() {
		return false
	}
	return serializedSize(value) >= s.threshold
}

func (s *Chunking) Optimize(ctx context.Context, value any, sc *StrategyContext) (envelope.Envelope, error) {
	if sc.Store == nil {
		return nil, &ConfigurationError{Op: "chunking optimize", Reason: "no store bound"}
	}
	items, isList, ok := containerItems(value)
	if !ok {
		return nil, fmt.Errorf("chunking: value is not a container")
	}

	size := s.chunkSize
	if size <= 0 {
		size = s.calc.Effective(itemValues(items), serializedSize(value), sc.Backend)
	}

	n := len(items)
	numChunks := (n + size - 1) / size
	chunkKeys := make([]string, 0, numChunks)

	for i := 0; i < numChunks; i++ {
		lo := i * size
		hi := lo + size
		if hi > n {
			hi = n
		}
		part := assemblePart(items[lo:hi], isList)
		ck := chunkKey(sc.Key, i)
		ok, err := sc.Store.Put(ctx, ck, part, sc.TTL)
		if err == nil && !ok {
			err = fmt.Errorf("chunking: store rejected chunk %s", ck)
		}
		if err != nil {
			// Written parts become orphans; reclaim them now rather than
			// waiting for a sweep.
			for _, written := range chunkKeys {
				_, _ = sc.Store.Forget(ctx, written)
			}
			return nil, err
		}
		chunkKeys = append(chunkKeys, ck)
	}

	if err := s.reg.Register(ctx, sc.Key, chunkKeys); err != nil {
		for _, written := range chunkKeys {
			_, _ = sc.Store.Forget(ctx, written)
		}
		return nil, err
	}

	return &envelope.Chunked{
		ChunkKeys:  chunkKeys,
		TotalItems: n,
		IsList:     isList,
	}, nil
}

func (s *Chunking) Restore(ctx context.Context, env envelope.Envelope, sc *StrategyContext) (any, error) {
	ch, ok := env.(*envelope.Chunked)
	if !ok {
		return nil, &ConfigurationError{Op: "restore", Reason: "chunking given foreign envelope"}
	}
	if sc.Store == nil {
		return nil, &ConfigurationError{Op: "chunking restore", Reason: "no store bound"}
	}

	if ch.IsList {
		out := make([]any, 0, ch.TotalItems)
		for _, ck := range ch.ChunkKeys {
			v, hit, err := sc.Store.Get(ctx, ck)
			if err != nil {
				return nil, err
			}
			if !hit {
				return nil, fmt.Errorf("%w: %s", ErrChunkMissing, ck)
			}
			part, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("chunking: chunk %s has unexpected shape %T", ck, v)
			}
			out = append(out, part...)
		}
		return out, nil
	}

	out := make(map[string]any, ch.TotalItems)
	for _, ck := range ch.ChunkKeys {
		v, hit, err := sc.Store.Get(ctx, ck)
		if err != nil {
			return nil, err
		}
		if !hit {
			return nil, fmt.Errorf("%w: %s", ErrChunkMissing, ck)
		}
		part, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("chunking: chunk %s has unexpected shape %T", ck, v)
		}
		for k, pv := range part {
			out[k] = pv
		}
	}
	return out, nil
}

// chunkKey derives the deterministic key of one partition. Chunk keys are
// owned exclusively by the parent entry that created them.
func chunkKey(mainKey string, index int) string {
	return mainKey + ":chunk:" + strconv.Itoa(index)
}

type containerItem struct {
	key string // only for keyed containers
	val any
}

// containerItems flattens a supported container into ordered items.
// Keyed containers iterate in sorted key order so partitioning is
// deterministic.
func containerItems(value any) (items []containerItem, isList bool, ok bool) {
	switch v := value.(type) {
	case []any:
		items = make([]containerItem, len(v))
		for i, it := range v {
			items[i] = containerItem{val: it}
		}
		return items, true, true
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items = make([]containerItem, len(keys))
		for i, k := range keys {
			items[i] = containerItem{key: k, val: v[k]}
		}
		return items, false, true
	default:
		return nil, false, false
	}
}

func itemValues(items []containerItem) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.val
	}
	return out
}

func assemblePart(items []containerItem, isList bool) any {
	if isList {
		part := make([]any, len(items))
		for i, it := range items {
			part[i] = it.val
		}
		return part
	}
	part := make(map[string]any, len(items))
	for _, it := range items {
		part[it.key] = it.val
	}
	return part
}

package cost

import (
	"context"
	"time"
)

// Wire form: map keyed by tracked key, each value a plain map the store's
// serialization can carry.

// load reads the persisted metadata map on first use. Malformed entries
// are skipped; a malformed payload starts empty. Caller must hold t.mu.
func (t *Tracker) load(ctx context.Context) error {
	if t.loaded {
		return nil
	}
	raw, ok, err := t.store.Get(ctx, MetadataKey)
	if err != nil {
		return err
	}
	t.m = make(map[string]*Metadata)
	if ok {
		t.decodeInto(raw)
	}
	t.loaded = true
	return nil
}

// flush rewrites the whole metadata map. Caller must hold t.mu.
func (t *Tracker) flush(ctx context.Context) error {
	wire := make(map[string]any, len(t.m))
	for k, md := range t.m {
		wire[k] = map[string]any{
			"cost_ms":       md.CostMS,
			"access_count":  md.AccessCount,
			"size_bytes":    md.SizeBytes,
			"last_accessed": md.LastAccessed.UnixMilli(),
			"created_at":    md.CreatedAt.UnixMilli(),
		}
	}
	_, err := t.store.Put(ctx, MetadataKey, wire, 0)
	return err
}

func (t *Tracker) decodeInto(raw any) {
	m, ok := raw.(map[string]any)
	if !ok {
		t.log.Warn("cost metadata malformed; starting empty", nil)
		return
	}
	for key, rawMD := range m {
		em, ok := rawMD.(map[string]any)
		if !ok {
			continue
		}
		costMS, ok := asFloat(em["cost_ms"])
		if !ok {
			continue
		}
		access, _ := asInt64(em["access_count"])
		size, _ := asInt64(em["size_bytes"])
		last, _ := asInt64(em["last_accessed"])
		created, _ := asInt64(em["created_at"])
		t.m[key] = &Metadata{
			CostMS:       costMS,
			AccessCount:  access,
			SizeBytes:    size,
			LastAccessed: time.UnixMilli(last),
			CreatedAt:    time.UnixMilli(created),
		}
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

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
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

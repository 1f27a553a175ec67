package freshness

import (
	"context"
	"time"
)

// Wire form of a freshness record: a tagged map the store's own
// serialization can carry. Mutated only by full replacement on recompute,
// never partially updated.
const recordMarker = "__oc_fresh__"

type record struct {
	value     any
	createdAt time.Time
	freshFor  time.Duration
	totalFor  time.Duration
}

func (c *Controller) put(ctx context.Context, key string, v any, fresh, total time.Duration) error {
	wire := map[string]any{
		recordMarker: true,
		"value":      v,
		"created_at": c.now().UnixMilli(),
		"fresh_ms":   fresh.Milliseconds(),
		"total_ms":   total.Milliseconds(),
	}
	// The store expires the record at the hard boundary; an expired record
	// and a decoded EXPIRED band behave identically (synchronous recompute).
	_, err := c.store.Put(ctx, key, wire, total)
	return err
}

// load reads and decodes a record. Foreign or malformed values at the key
// are treated as a miss and overwritten by the next recompute.
func (c *Controller) load(ctx context.Context, key string) (record, bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return record{}, false, err
	}
	m, isMap := raw.(map[string]any)
	if !isMap {
		return record{}, false, nil
	}
	if marked, _ := m[recordMarker].(bool); !marked {
		return record{}, false, nil
	}
	created, ok := asInt64(m["created_at"])
	if !ok {
		return record{}, false, nil
	}
	freshMS, _ := asInt64(m["fresh_ms"])
	totalMS, _ := asInt64(m["total_ms"])
	return record{
		value:     m["value"],
		createdAt: time.UnixMilli(created),
		freshFor:  time.Duration(freshMS) * time.Millisecond,
		totalFor:  time.Duration(totalMS) * time.Millisecond,
	}, true, nil
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

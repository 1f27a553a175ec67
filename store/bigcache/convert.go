package bigcache

import "fmt"

func errNonNumeric(key string) error {
	return fmt.Errorf("bigcache store: increment on non-numeric value at %q", key)
}

// asInt64 tolerates the numeric widening the codec applies on read-back.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

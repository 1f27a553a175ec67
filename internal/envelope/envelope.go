// Package envelope defines the tagged wrapper that distinguishes optimized
// representations of a stored value. The wire form is a plain
// map[string]any carrying exactly one boolean marker field plus
// strategy-specific payload fields, so any store serialization that can
// represent nested maps/numbers/booleans/strings can carry it.
//
// Decoding is strict: a value that does not carry exactly one well-formed
// marker is not an envelope and must be passed through unchanged. Foreign
// data sharing the key space is therefore tolerated, never corrupted.
package envelope

// Marker fields. One per strategy, mutually exclusive.
const (
	MarkerCompressed = "__oc_compressed__"
	MarkerChunked    = "__oc_chunked__"
)

// Envelope is the decoded sum type: *Compressed | *Chunked.
type Envelope interface {
	marker() string
}

// Compressed wraps a value that was serialized, compressed, and encoded to
// transport-safe text.
type Compressed struct {
	Level          int    // compression level the data was written with
	Data           string // base64(std) of the compressed bytes
	IsString       bool   // original was a plain string; skip re-parse on restore
	OriginalSize   int    // serialized size before compression
	CompressedSize int    // size of the compressed bytes
}

func (*Compressed) marker() string { return MarkerCompressed }

// Chunked references a value partitioned across derived chunk keys.
type Chunked struct {
	ChunkKeys  []string // ordered; reconstruction order is authoritative
	TotalItems int
	IsList     bool // plain sequence vs keyed collection
}

func (*Chunked) marker() string { return MarkerChunked }

// Encode returns the wire form of e.
func Encode(e Envelope) map[string]any {
	switch v := e.(type) {
	case *Compressed:
		return map[string]any{
			MarkerCompressed:    true,
			"level":           v.Level,
			"data":            v.Data,
			"is_string":       v.IsString,
			"original_size":   v.OriginalSize,
			"compressed_size": v.CompressedSize,
		}
	case *Chunked:
		keys := make([]any, len(v.ChunkKeys))
		for i, k := range v.ChunkKeys {
			keys[i] = k
		}
		return map[string]any{
			MarkerChunked:   true,
			"chunk_keys":  keys,
			"total_items": v.TotalItems,
			"is_list":     v.IsList,
		}
	default:
		return nil
	}
}

// Decode probes raw for an envelope. ok=false means raw is not (or is no
// longer) a valid envelope and the caller should treat it as an ordinary
// value.
func Decode(raw any) (Envelope, bool) {
	m, isMap := raw.(map[string]any)
	if !isMap {
		return nil, false
	}
	compressed := boolField(m, MarkerCompressed)
	chunked := boolField(m, MarkerChunked)
	if compressed == chunked { // neither, or both (invalid)
		return nil, false
	}
	if compressed {
		return decodeCompressed(m)
	}
	return decodeChunked(m)
}

func decodeCompressed(m map[string]any) (Envelope, bool) {
	data, ok := m["data"].(string)
	if !ok {
		return nil, false
	}
	level, ok := intField(m, "level")
	if !ok {
		return nil, false
	}
	orig, ok := intField(m, "original_size")
	if !ok {
		return nil, false
	}
	comp, ok := intField(m, "compressed_size")
	if !ok {
		return nil, false
	}
	return &Compressed{
		Level:          level,
		Data:           data,
		IsString:       boolField(m, "is_string"),
		OriginalSize:   orig,
		CompressedSize: comp,
	}, true
}

func decodeChunked(m map[string]any) (Envelope, bool) {
	total, ok := intField(m, "total_items")
	if !ok {
		return nil, false
	}
	var keys []string
	switch raw := m["chunk_keys"].(type) {
	case []string:
		keys = append(keys, raw...)
	case []any:
		keys = make([]string, 0, len(raw))
		for _, k := range raw {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			keys = append(keys, s)
		}
	default:
		return nil, false
	}
	if len(keys) == 0 {
		return nil, false
	}
	return &Chunked{
		ChunkKeys:  keys,
		TotalItems: total,
		IsList:     boolField(m, "is_list"),
	}, true
}

func boolField(m map[string]any, k string) bool {
	b, _ := m[k].(bool)
	return b
}

// intField tolerates the numeric types store codecs round-trip through
// (JSON float64, msgpack/cbor int64/uint64).
func intField(m map[string]any, k string) (int, bool) {
	switch n := m[k].(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}

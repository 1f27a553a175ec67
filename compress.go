package opticache

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/unkn0wn-root/opticache/internal/envelope"
)

// CompressionConfig tunes the compression strategy.
type CompressionConfig struct {
	// Threshold is the minimum estimated serialized size (bytes) before
	// compression is considered. 0 => 1024.
	Threshold int
	// Level is the gzip level, clamped to [gzip.BestSpeed,
	// gzip.BestCompression]. 0 => 6.
	Level int
}

// Compression serializes a value, compresses it, and stores the result as
// transport-safe text inside an envelope. Applies to strings and containers,
// never to numbers/booleans/nil.
type Compression struct {
	threshold int
	level     int
}

var _ Strategy = (*Compression)(nil)

func NewCompression(cfg CompressionConfig) *Compression {
	level := coalesce(cfg.Level, 6)
	if level < gzip.BestSpeed {
		level = gzip.BestSpeed
	}
	if level > gzip.BestCompression {
		level = gzip.BestCompression
	}
	return &Compression{
		threshold: coalesce(cfg.Threshold, 1024),
		level:     level,
	}
}

func (s *Compression) Identifier() string { return StrategyCompression }

func (s *Compression) ShouldApply(value any, _ *StrategyContext) bool {
	switch value.(type) {
	case nil, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return false
	case string:
		return len(value.(string)) >= s.threshold
	default:
		return serializedSize(value) >= s.threshold
	}
}

func (s *Compression) Optimize(_ context.Context, value any, _ *StrategyContext) (envelope.Envelope, error) {
	payload, isString, err := serializeForCompression(value)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, s.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	return &envelope.Compressed{
		Level:          s.level,
		Data:           base64.StdEncoding.EncodeToString(buf.Bytes()),
		IsString:       isString,
		OriginalSize:   len(payload),
		CompressedSize: buf.Len(),
	}, nil
}

func (s *Compression) Restore(_ context.Context, env envelope.Envelope, _ *StrategyContext) (any, error) {
	c, ok := env.(*envelope.Compressed)
	if !ok {
		return nil, &ConfigurationError{Op: "restore", Reason: "compression given foreign envelope"}
	}
	raw, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return nil, fmt.Errorf("decode compressed payload: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open compressed payload: %w", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	if c.IsString {
		return string(plain), nil
	}
	var v any
	if err := json.Unmarshal(plain, &v); err != nil {
		return nil, fmt.Errorf("reparse decompressed payload: %w", err)
	}
	return v, nil
}

// serializeForCompression renders the value to bytes. Strings compress
// as-is; everything else goes through JSON so restore can re-parse.
func serializeForCompression(value any) (payload []byte, isString bool, err error) {
	if s, ok := value.(string); ok {
		return []byte(s), true, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, false, err
	}
	return b, false, nil
}

// serializedSize estimates a value's serialized footprint. 0 means the
// value could not be sized (unserializable), which disables size-gated
// strategies for it.
func serializedSize(value any) int {
	if s, ok := value.(string); ok {
		return len(s)
	}
	b, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return len(b)
}

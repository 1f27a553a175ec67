// Package codec (de)serializes engine values to bytes for byte-backed
// stores. The engine's value model is dynamic: containers decode to
// map[string]any / []any, numbers to the codec's native numeric type.
package codec

// Codec encodes/decodes values to []byte for storage.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}

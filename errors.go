package opticache

import (
	"errors"
	"fmt"
)

// ErrChunkMissing marks a reconstruction abort: one part of a chunked value
// vanished out-of-band. The engine surfaces it as an ordinary cache miss,
// never as a truncated structure.
var ErrChunkMissing = errors.New("opticache: chunk missing")

// ConfigurationError is fatal and never retried: the engine or a strategy
// was driven in a way its wiring cannot support (e.g., restoring a chunked
// value without a bound store).
type ConfigurationError struct {
	Op     string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("opticache: %s: %s", e.Op, e.Reason)
}

// OptimizationError is recoverable: a strategy's Optimize failed and the
// selector moved on to the next candidate (or raw storage when fallback is
// permitted).
type OptimizationError struct {
	Strategy string
	Key      string
	Err      error
}

func (e *OptimizationError) Error() string {
	return fmt.Sprintf("opticache: strategy %q failed for %q: %v", e.Strategy, e.Key, e.Err)
}

func (e *OptimizationError) Unwrap() error { return e.Err }

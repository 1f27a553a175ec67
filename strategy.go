package opticache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/opticache/internal/envelope"
	"github.com/unkn0wn-root/opticache/store"
)

// Strategy identifiers. Used for per-backend overrides and envelope routing.
const (
	StrategyCompression = "compression"
	StrategyChunking    = "chunking"
)

// StrategyContext carries per-call information a strategy may consult:
// the target key, its TTL, the bound store, and the backend's strategy
// override table.
type StrategyContext struct {
	Key     string
	TTL     time.Duration
	Store   store.Store
	Backend string

	overrides map[string]bool // strategy id -> enabled; absent => enabled
}

// Enabled reports whether the backend permits the given strategy.
// Overrides can only force a strategy off, never on.
func (c *StrategyContext) Enabled(id string) bool {
	if c.overrides == nil {
		return true
	}
	enabled, ok := c.overrides[id]
	return !ok || enabled
}

// Strategy is one optimization technique. ShouldApply is always evaluated
// against the ORIGINAL, untransformed value; exactly one strategy's envelope
// ever wraps a stored value.
type Strategy interface {
	// Identifier names the strategy for overrides and diagnostics.
	Identifier() string

	// ShouldApply reports whether this strategy wants the value.
	// Inapplicability is a normal result, not an error.
	ShouldApply(value any, sc *StrategyContext) bool

	// Optimize transforms the value and returns its envelope. Failures are
	// recoverable: the selector falls back to the next candidate.
	Optimize(ctx context.Context, value any, sc *StrategyContext) (envelope.Envelope, error)

	// Restore reverses Optimize for this strategy's envelope variant.
	Restore(ctx context.Context, env envelope.Envelope, sc *StrategyContext) (any, error)
}

// selector iterates strategies in priority order, evaluating each predicate
// against the original value and applying at most one.
type selector struct {
	strategies      []Strategy
	disableFallback bool
	hooks           Hooks
	log             Logger
}

// optimize returns the winning strategy's envelope, or nil when the value
// should be stored raw. A nil envelope with a nil error is the normal
// "no optimization" outcome.
func (s *selector) optimize(ctx context.Context, value any, sc *StrategyContext) (envelope.Envelope, error) {
	var lastErr error
	for _, st := range s.strategies {
		id := st.Identifier()
		if !sc.Enabled(id) {
			continue
		}
		if !st.ShouldApply(value, sc) {
			continue
		}
		env, err := st.Optimize(ctx, value, sc)
		if err != nil {
			lastErr = &OptimizationError{Strategy: id, Key: sc.Key, Err: err}
			s.hooks.StrategyFallback(sc.Key, id, err)
			s.log.Warn("strategy failed; trying next candidate", Fields{
				"key": sc.Key, "strategy": id, "err": err,
			})
			continue
		}
		return env, nil
	}
	if s.disableFallback && lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

// restore routes a decoded envelope to the strategy that owns its variant.
// The envelope sum type is closed, so routing is exhaustive.
func (s *selector) restore(ctx context.Context, env envelope.Envelope, sc *StrategyContext) (any, error) {
	var id string
	switch env.(type) {
	case *envelope.Compressed:
		id = StrategyCompression
	case *envelope.Chunked:
		id = StrategyChunking
	default:
		return nil, &ConfigurationError{Op: "restore", Reason: "unknown envelope variant"}
	}
	for _, st := range s.strategies {
		if st.Identifier() == id {
			return st.Restore(ctx, env, sc)
		}
	}
	return nil, &ConfigurationError{
		Op:     "restore",
		Reason: "no strategy configured for envelope " + id,
	}
}

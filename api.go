package opticache

import (
	"fmt"
	"time"

	"github.com/unkn0wn-root/opticache/store"
)

// Options tune the engine. Only Store is required; others have sensible
// defaults.
type Options struct {
	// Required
	Store store.Store

	// Strategies is the ordered priority list the selector walks. nil =>
	// [chunking, compression] built from the configs below. Supplying your
	// own list replaces the defaults entirely; pass Registry too if a
	// custom list includes chunking.
	Strategies []Strategy

	// Overrides force strategies off per backend:
	// backend name -> strategy id -> enabled. A false entry disables the
	// strategy regardless of its own predicate.
	Overrides map[string]map[string]bool

	// DisableFallback makes Put propagate a strategy failure instead of
	// storing the raw value when every candidate failed.
	DisableFallback bool

	Logger     Logger         // if nil, NopLogger is used
	Hooks      Hooks          // if nil, NopHooks is used
	DefaultTTL time.Duration  // 0 => 1h
	Registry   *ChunkRegistry // nil => one is created over Store

	Compression CompressionConfig
	Chunking    ChunkingConfig
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("opticache: store is required")
	}

	log := coalesce[Logger](opts.Logger, NopLogger{})
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})

	reg := opts.Registry
	if reg == nil {
		reg = NewChunkRegistry(opts.Store, log, hooks)
	}

	strategies := opts.Strategies
	if strategies == nil {
		strategies = []Strategy{
			NewChunking(opts.Chunking, reg),
			NewCompression(opts.Compression),
		}
	}

	return &Engine{
		store: opts.Store,
		sel: selector{
			strategies:      strategies,
			disableFallback: opts.DisableFallback,
			hooks:           hooks,
			log:             log,
		},
		reg:        reg,
		log:        log,
		hooks:      hooks,
		defaultTTL: coalesce[time.Duration](opts.DefaultTTL, time.Hour),
		overrides:  opts.Overrides,
	}, nil
}

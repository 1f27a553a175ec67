package opticache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The engine calls them on hot paths.
type Hooks interface {
	// A strategy's Optimize failed; the selector moved to the next
	// candidate (or raw storage).
	StrategyFallback(key, strategy string, err error)

	// An optimized entry could not be restored and was deleted on read.
	// reason ∈ {"restore_error"}
	SelfHeal(key, reason string)

	// Reconstruction of a chunked value aborted because a part vanished.
	ChunkMissing(mainKey, chunkKey string)

	// Store returned ok=false on Put (backpressure/eviction).
	StoreSetRejected(key string)

	// Chunk registry load or flush failed. op ∈ {"load", "flush"}.
	RegistryError(op string, err error)

	// An orphan sweep finished.
	SweepCompleted(orphans, chunksDeleted int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) StrategyFallback(string, string, error) {}
func (NopHooks) SelfHeal(string, string)                {}
func (NopHooks) ChunkMissing(string, string)            {}
func (NopHooks) StoreSetRejected(string)                {}
func (NopHooks) RegistryError(string, error)            {}
func (NopHooks) SweepCompleted(int, int)                {}

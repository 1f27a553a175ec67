package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/opticache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery     uint64
	ChunkMissingEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr     atomic.Uint64
	chunkMissingCtr atomic.Uint64
}

var _ opticache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) StrategyFallback(key, strategy string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("opticache.strategy_fallback",
		"key", h.redact(key),
		"strategy", strategy,
		"err", err)
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("opticache.self_heal",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) ChunkMissing(mainKey, chunkKey string) {
	if h.l == nil || !sample(h.opts.ChunkMissingEvery, &h.chunkMissingCtr) {
		return
	}
	h.l.Warn("opticache.chunk_missing",
		"key", h.redact(mainKey),
		"chunk", h.redact(chunkKey))
}

func (h *Hooks) StoreSetRejected(key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("opticache.store_set_rejected",
		"key", h.redact(key))
}

func (h *Hooks) RegistryError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("opticache.registry_error",
		"op", op,
		"err", err)
}

func (h *Hooks) SweepCompleted(orphans, chunksDeleted int) {
	if h.l == nil {
		return
	}
	h.l.Info("opticache.sweep_completed",
		"orphans", orphans,
		"chunks_deleted", chunksDeleted)
}

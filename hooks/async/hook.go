// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/opticache"
//	"github.com/unkn0wn-root/opticache/hooks/async"
//	"github.com/unkn0wn-root/opticache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery:     10, // sample logs: ~every 10th self-heal
//	    ChunkMissingEvery: 1,  // log every missing chunk
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := opticache.New(opticache.Options{
//	    Store: st,
//	    Hooks: hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/opticache"
)

type Hooks struct {
	inner opticache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ opticache.Hooks = (*Hooks)(nil)

func New(inner opticache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, r string)          { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) StoreSetRejected(k string)     { h.try(func() { h.inner.StoreSetRejected(k) }) }
func (h *Hooks) ChunkMissing(mk, ck string)    { h.try(func() { h.inner.ChunkMissing(mk, ck) }) }
func (h *Hooks) SweepCompleted(o, d int)       { h.try(func() { h.inner.SweepCompleted(o, d) }) }
func (h *Hooks) RegistryError(op string, err error) {
	h.try(func() { h.inner.RegistryError(op, err) })
}
func (h *Hooks) StrategyFallback(k, s string, err error) {
	h.try(func() { h.inner.StrategyFallback(k, s, err) })
}

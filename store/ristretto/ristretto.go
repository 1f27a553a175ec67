// Package ristretto adapts dgraph-io/ristretto to the opticache store
// port. Ristretto is cost-based and may reject writes under pressure;
// Put reports that as ok=false. Counters and locks are process-local.
package ristretto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	st "github.com/unkn0wn-root/opticache/store"
)

type Store struct {
	c  *rc.Cache
	lt *st.LockTable

	incMu sync.Mutex // serializes read-modify-write counters
}

var _ st.Store = (*Store)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c, lt: st.NewLockTable()}, nil
}

func (s *Store) Name() string { return "ristretto" }

func (s *Store) Get(_ context.Context, key string) (any, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

func (s *Store) Put(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	cost := int64(1)
	if sized, ok := value.(string); ok {
		cost = int64(len(sized))
	}
	var ok bool
	if ttl <= 0 {
		ok = s.c.Set(key, value, cost)
	} else {
		ok = s.c.SetWithTTL(key, value, cost, ttl)
	}
	// Sets are buffered; Wait makes the write visible to the next Get so
	// chunk parts and registry rewrites read back consistently.
	s.c.Wait()
	return ok, nil
}

func (s *Store) Forget(_ context.Context, key string) (bool, error) {
	_, had := s.c.Get(key)
	s.c.Del(key)
	return had, nil
}

func (s *Store) Has(_ context.Context, key string) (bool, error) {
	_, ok := s.c.Get(key)
	return ok, nil
}

func (s *Store) Increment(_ context.Context, key string, delta int64) (int64, error) {
	s.incMu.Lock()
	defer s.incMu.Unlock()
	var cur int64
	if v, ok := s.c.Get(key); ok {
		n, nok := v.(int64)
		if !nok {
			return 0, fmt.Errorf("ristretto store: increment on non-numeric value at %q", key)
		}
		cur = n
	}
	cur += delta
	// Set is async in ristretto; Wait makes the counter visible to the
	// next read.
	s.c.Set(key, cur, 1)
	s.c.Wait()
	return cur, nil
}

func (s *Store) Lock(name string, hold time.Duration, owner string) st.Lock {
	return s.lt.Lock(name, hold, owner)
}

func (s *Store) Close(_ context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes ristretto metrics when enabled (not part of the store
// port).
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }

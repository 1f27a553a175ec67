// Package bigcache adapts allegro/bigcache to the opticache store port.
// BigCache has no per-entry TTL (global LifeWindow only) and no native
// counters or locks; counters run as codec-encoded values under a local
// mutex, locks through an in-process table.
package bigcache

import (
	"context"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/opticache/codec"
	st "github.com/unkn0wn-root/opticache/store"
)

type Store struct {
	c     *bc.BigCache
	codec codec.Codec
	lt    *st.LockTable

	incMu sync.Mutex // serializes read-modify-write counters
}

var _ st.Store = (*Store)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int         // ~ memory limit; 0 = unlimited
	Codec              codec.Codec // nil => codec.Msgpack{}
}

func New(cfg Config) (*Store, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	cdc := cfg.Codec
	if cdc == nil {
		cdc = codec.Msgpack{}
	}
	return &Store{c: c, codec: cdc, lt: st.NewLockTable()}, nil
}

func (s *Store) Name() string { return "bigcache" }

func (s *Store) Get(_ context.Context, key string) (any, bool, error) {
	b, err := s.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := s.codec.Decode(b)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Put ignores the per-entry TTL; BigCache expires by its global LifeWindow.
func (s *Store) Put(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	b, err := s.codec.Encode(value)
	if err != nil {
		return false, err
	}
	return true, s.c.Set(key, b)
}

func (s *Store) Forget(_ context.Context, key string) (bool, error) {
	err := s.c.Delete(key)
	if err == bc.ErrEntryNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Has(_ context.Context, key string) (bool, error) {
	_, err := s.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	s.incMu.Lock()
	defer s.incMu.Unlock()
	var cur int64
	if v, ok, err := s.Get(ctx, key); err != nil {
		return 0, err
	} else if ok {
		n, nok := asInt64(v)
		if !nok {
			return 0, errNonNumeric(key)
		}
		cur = n
	}
	cur += delta
	if _, err := s.Put(ctx, key, cur, 0); err != nil {
		return 0, err
	}
	return cur, nil
}

func (s *Store) Lock(name string, hold time.Duration, owner string) st.Lock {
	return s.lt.Lock(name, hold, owner)
}

func (s *Store) Close(_ context.Context) error {
	return s.c.Close()
}

package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

type memEntry struct {
	v   any
	exp time.Time // zero => no TTL
}

// Memory is an in-process Store. Default backend and the one tests run
// against. Expired entries are dropped lazily on access.
type Memory struct {
	mu sync.Mutex
	m  map[string]memEntry
	lt *LockTable
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		m:  make(map[string]memEntry),
		lt: NewLockTable(),
	}
}

func (s *Memory) Name() string { return "memory" }

func (s *Memory) Get(_ context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, false, nil
	}
	return e.v, true, nil
}

func (s *Memory) Put(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.m[key] = memEntry{v: value, exp: exp}
	s.mu.Unlock()
	return true, nil
}

func (s *Memory) Forget(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	delete(s.m, key)
	return ok, nil
}

func (s *Memory) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	return ok, nil
}

func (s *Memory) Increment(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	var cur int64
	if ok {
		switch v := e.v.(type) {
		case int64:
			cur = v
		case int:
			cur = int64(v)
		case float64:
			cur = int64(v)
		default:
			return 0, fmt.Errorf("store: increment on non-numeric value at %q", key)
		}
	}
	cur += delta
	s.m[key] = memEntry{v: cur, exp: e.exp}
	return cur, nil
}

func (s *Memory) Lock(name string, hold time.Duration, owner string) Lock {
	return s.lt.Lock(name, hold, owner)
}

func (s *Memory) Close(context.Context) error { return nil }

// live returns the entry for key, dropping it first when expired.
// Caller must hold s.mu.
func (s *Memory) live(key string) (memEntry, bool) {
	e, ok := s.m[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(s.m, key)
		return memEntry{}, false
	}
	return e, true
}

func randomOwner() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("owner-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

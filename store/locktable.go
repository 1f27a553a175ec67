package store

import (
	"context"
	"sync"
	"time"
)

type tableLock struct {
	owner string
	exp   time.Time
}

// LockTable is an in-process Lock implementation for backends without a
// native lock primitive (BigCache, Ristretto). Locks are process-local:
// they provide no cross-replica exclusion.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]tableLock
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]tableLock)}
}

// Lock returns a handle; the lock is taken on Acquire. If owner is empty
// one is assigned.
func (t *LockTable) Lock(name string, hold time.Duration, owner string) Lock {
	if owner == "" {
		owner = randomOwner()
	}
	return &tableLockHandle{t: t, name: name, hold: hold, owner: owner}
}

type tableLockHandle struct {
	t     *LockTable
	name  string
	hold  time.Duration
	owner string
}

func (l *tableLockHandle) Acquire(context.Context) (bool, error) {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	cur, held := l.t.locks[l.name]
	if held && time.Now().Before(cur.exp) && cur.owner != l.owner {
		return false, nil
	}
	hold := l.hold
	if hold <= 0 {
		hold = 24 * time.Hour
	}
	l.t.locks[l.name] = tableLock{owner: l.owner, exp: time.Now().Add(hold)}
	return true, nil
}

func (l *tableLockHandle) Release(context.Context) (bool, error) {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	cur, held := l.t.locks[l.name]
	if !held || cur.owner != l.owner {
		return false, nil
	}
	delete(l.t.locks, l.name)
	return true, nil
}

func (l *tableLockHandle) Owner() string { return l.owner }

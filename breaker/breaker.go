// Package breaker isolates callers from a failing backing store with a
// Closed/Open/HalfOpen circuit breaker. State lives for the process
// lifetime of one breaker instance and is never persisted.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen reports that the breaker rejected the operation without
// invoking it.
var ErrOpen = errors.New("breaker: circuit open")

// State is the breaker state.
type State int

const (
	// StateClosed - operations pass through.
	StateClosed State = iota
	// StateOpen - operations are rejected; fallback is returned.
	StateOpen
	// StateHalfOpen - probing whether the store recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

const defaultHistoryLimit = 100

// Config tunes a Breaker. Zero values get defaults.
type Config struct {
	// Consecutive failures that trip Closed -> Open. 0 => 5.
	FailureThreshold int
	// Consecutive half-open successes that close the breaker. 0 => 2.
	SuccessThreshold int
	// Time the breaker stays Open before probing. 0 => 30s.
	RecoveryTimeout time.Duration
	// Retained failure records for diagnostics. 0 => 100.
	HistoryLimit int
	// Called on every transition. Must be cheap.
	OnStateChange func(from, to State)
	// Injectable clock; nil => time.Now.
	Now func() time.Time
}

// FailureRecord is one retained failure, for diagnostics.
type FailureRecord struct {
	At  time.Time
	Err string
}

// Stats is a read-only snapshot of breaker state.
type Stats struct {
	State        State
	FailureCount int
	SuccessCount int
	OpenedAt     time.Time
	History      []FailureRecord
}

// Op is the guarded operation.
type Op func() (any, error)

// Breaker implements the failure-isolation state machine. Safe for
// concurrent use.
type Breaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int // consecutive failures (closed)
	successes int // consecutive successes (half-open)
	openedAt  time.Time
	history   []FailureRecord
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Available reports whether operations may pass. Open -> HalfOpen happens
// lazily here once the recovery timeout has elapsed.
func (b *Breaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available()
}

// Execute runs op when the breaker allows it. Unavailable or failed
// operations substitute fallback; the error is swallowed (it is still
// recorded and retained in history).
func (b *Breaker) Execute(op Op, fallback any) any {
	v, err := b.run(op)
	if err != nil {
		return fallback
	}
	return v
}

// ExecuteOrError is the rethrow variant: unavailable returns
// (fallback, ErrOpen); a failed op records the failure and returns its
// error.
func (b *Breaker) ExecuteOrError(op Op, fallback any) (any, error) {
	v, err := b.run(op)
	if errors.Is(err, ErrOpen) {
		return fallback, err
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (b *Breaker) run(op Op) (any, error) {
	b.mu.Lock()
	if !b.available() {
		b.mu.Unlock()
		return nil, ErrOpen
	}
	b.mu.Unlock()

	v, err := op()
	if err != nil {
		b.recordFailure(err)
		return nil, err
	}
	b.recordSuccess()
	return v, nil
}

// Stats returns a snapshot; History is a copy.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	hist := make([]FailureRecord, len(b.history))
	copy(hist, b.history)
	return Stats{
		State:        b.state,
		FailureCount: b.failures,
		SuccessCount: b.successes,
		OpenedAt:     b.openedAt,
		History:      hist,
	}
}

// available evaluates lazily: Open becomes HalfOpen once the recovery
// timeout has elapsed since opening. Caller must hold b.mu.
func (b *Breaker) available() bool {
	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.successes = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, FailureRecord{At: b.cfg.Now(), Err: err.Error()})
	if len(b.history) > b.cfg.HistoryLimit {
		b.history = b.history[len(b.history)-b.cfg.HistoryLimit:]
	}

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			b.openedAt = b.cfg.Now()
		}
	case StateHalfOpen:
		// Any half-open failure reopens immediately and resets the timer.
		b.transition(StateOpen)
		b.openedAt = b.cfg.Now()
		b.successes = 0
	}
}

// transition flips state and fires the callback. Caller must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

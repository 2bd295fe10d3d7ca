// Package circuitbreaker guards the metrics store: once the backend fails
// repeatedly the breaker opens and callers fail fast instead of stacking
// blocked writes behind a dead connection.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker refuses traffic.
var ErrOpen = errors.New("circuit open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Settings tunes one breaker. Trip consecutive failures open it, Cooldown
// later it admits up to HalfOpenCalls concurrent calls, and Heal consecutive
// successes close it again. A half-open failure reopens it immediately.
type Settings struct {
	Trip          int
	Heal          int
	Cooldown      time.Duration
	HalfOpenCalls int
}

// StoreSettings guards the metrics store. Three consecutive failures is a
// dead backend, not a slow one; ten seconds matches the store's own
// reconnect cadence.
func StoreSettings() Settings {
	return Settings{
		Trip:          3,
		Heal:          2,
		Cooldown:      10 * time.Second,
		HalfOpenCalls: 1,
	}
}

type Breaker struct {
	settings Settings
	notify   func(from, to State)
	now      func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	healed   int
	inflight int
	openedAt time.Time
}

func New(s Settings) *Breaker {
	return &Breaker{settings: s, now: time.Now}
}

// Notify registers a state-transition callback, invoked synchronously under
// the breaker's lock. Keep it cheap.
func (b *Breaker) Notify(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify = fn
}

// Do runs fn unless the breaker refuses it. A refused call returns ErrOpen
// without touching fn; a context already cancelled is reported as such and
// does not count against the backend.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.admit() {
		return ErrOpen
	}

	err := fn()
	b.settle(err == nil)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset force-closes the breaker, clearing all counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.moveTo(Closed)
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.openedAt) >= b.settings.Cooldown {
		b.moveTo(HalfOpen)
	}

	switch b.state {
	case Closed:
		b.inflight++
		return true
	case HalfOpen:
		if b.inflight >= b.settings.HalfOpenCalls {
			return false
		}
		b.inflight++
		return true
	}
	return false
}

func (b *Breaker) settle(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inflight--
	if ok {
		b.failures = 0
		if b.state == HalfOpen {
			b.healed++
			if b.healed >= b.settings.Heal {
				b.moveTo(Closed)
			}
		}
		return
	}

	if b.state == HalfOpen {
		b.moveTo(Open)
		return
	}
	b.failures++
	if b.state == Closed && b.failures >= b.settings.Trip {
		b.moveTo(Open)
	}
}

// moveTo transitions the state. Caller holds b.mu.
func (b *Breaker) moveTo(next State) {
	if b.state == next {
		b.failures = 0
		b.healed = 0
		return
	}
	prev := b.state
	b.state = next
	b.failures = 0
	b.healed = 0
	if next == Open {
		b.openedAt = b.now()
	}
	if b.notify != nil {
		b.notify(prev, next)
	}
}

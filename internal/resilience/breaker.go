// Package resilience guards cluster-level database calls that tend to
// fail in sympathy, so one wedged operation does not drag every tenant
// down with it.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen rejects calls while the breaker cools down after
// repeated failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker counts consecutive failures and, past the limit, fails calls
// fast for a cooldown period. Calls after the cooldown probe the
// dependency: a success closes the breaker, a failure starts the next
// cooldown immediately.
type Breaker struct {
	limit    int
	cooldown time.Duration

	mu      sync.Mutex
	strikes int
	probing bool
	downTo  time.Time // zero while closed

	clock func() time.Time
}

// NewBreaker creates a breaker that opens after limit consecutive
// failures and cools down for the given duration.
func NewBreaker(limit int, cooldown time.Duration) *Breaker {
	return &Breaker{limit: limit, cooldown: cooldown, clock: time.Now}
}

// Execute runs fn unless the breaker is cooling down, in which case it
// returns ErrCircuitOpen without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn()
	b.settle(err)
	return err
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.downTo.IsZero() || b.probing {
		return true
	}
	if b.clock().Before(b.downTo) {
		return false
	}

	// Cooldown over; callers from here run as probes until one settles
	// the breaker either way.
	b.probing = true
	return true
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.strikes = 0
		b.probing = false
		b.downTo = time.Time{}
		return
	}

	b.strikes++
	if b.probing || b.strikes >= b.limit {
		b.probing = false
		b.downTo = b.clock().Add(b.cooldown)
	}
}

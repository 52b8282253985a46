// Package circuitbreaker guards ledger RPC operations against a degraded
// signer endpoint. Each operation name carries its own failure streak, so
// a broken write path does not block reads.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// opCircuit tracks one operation's streak. The circuit is open while
// openedAt is set; probing marks an outstanding half-open test call.
type opCircuit struct {
	failures int
	openedAt time.Time
	probing  bool
}

type CircuitBreaker struct {
	mu        sync.Mutex
	circuits  map[string]*opCircuit
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		circuits:  make(map[string]*opCircuit),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow reports whether a call for op may proceed. Once the cooldown has
// elapsed a single probe call is let through; further calls stay rejected
// until the probe's outcome is recorded.
func (cb *CircuitBreaker) Allow(op string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[op]
	if !ok || c.openedAt.IsZero() {
		return nil
	}
	if c.probing {
		return ErrCircuitOpen
	}
	if cb.clock().Sub(c.openedAt) >= cb.cooldown {
		c.probing = true
		return nil
	}
	return ErrCircuitOpen
}

// RecordSuccess closes op's circuit and clears its streak.
func (cb *CircuitBreaker) RecordSuccess(op string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.circuits, op)
}

// RecordFailure extends op's streak, opening the circuit at the threshold.
// A failure recorded while a probe is outstanding re-opens with a fresh
// cooldown.
func (cb *CircuitBreaker) RecordFailure(op string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[op]
	if !ok {
		c = &opCircuit{}
		cb.circuits[op] = c
	}

	c.probing = false
	c.failures++
	if c.failures >= cb.threshold {
		c.openedAt = cb.clock()
	}
}

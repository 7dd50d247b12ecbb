// Package healing implements C4, the Healing Dispatcher. The NETWORK circuit
// breaker in this file is grounded on
// internal/circuitbreaker/breaker.go (CircuitBreaker/Counts/Manager), but
// narrowed from that file's generic three-state (closed/open/half-open)
// generation-counted breaker to the simpler per-node bookkeeping spec §4.4
// calls for: a bare consecutive-failure counter and a dead-until deadline,
// with success decrementing the counter by one rather than resetting it.
// time.Now() is replaced throughout with an injected clock.Clock so healing
// tests can drive revival deterministically.
package healing

import (
	"sync"
	"time"

	"github.com/ocx/aec/internal/clock"
)

// NodeCircuit tracks one NETWORK node's health for the circuit breaker.
type NodeCircuit struct {
	ConsecutiveFailures int
	DeadUntil           time.Time
}

// CircuitBreaker is the NETWORK-domain breaker: each node is tracked
// independently; at the configured failure threshold a node goes dead for
// the configured penalty; revival is attempted lazily the next time the node is
// considered for selection.
type CircuitBreaker struct {
	mu        sync.Mutex
	clock     clock.Clock
	threshold int
	penalty   time.Duration
	nodes     map[string]*NodeCircuit
}

// NewCircuitBreaker constructs a breaker with the given trip threshold and
// penalty duration.
func NewCircuitBreaker(c clock.Clock, threshold int, penalty time.Duration) *CircuitBreaker {
	if c == nil {
		c = clock.New()
	}
	return &CircuitBreaker{
		clock:     c,
		threshold: threshold,
		penalty:   penalty,
		nodes:     make(map[string]*NodeCircuit),
	}
}

func (cb *CircuitBreaker) nodeFor(id string) *NodeCircuit {
	n, ok := cb.nodes[id]
	if !ok {
		n = &NodeCircuit{}
		cb.nodes[id] = n
	}
	return n
}

// Dead reports whether node id is currently inside its penalty window.
// Revival is lazy: once the window has elapsed, the node is reported alive
// without requiring a separate "revive" call.
func (cb *CircuitBreaker) Dead(id string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	n := cb.nodeFor(id)
	if n.DeadUntil.IsZero() {
		return false
	}
	return cb.clock.Now().Before(n.DeadUntil)
}

// RecordSuccess decrements id's consecutive-failure count by one, never
// below zero, per spec §4.4.
func (cb *CircuitBreaker) RecordSuccess(id string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	n := cb.nodeFor(id)
	if n.ConsecutiveFailures > 0 {
		n.ConsecutiveFailures--
	}
}

// RecordFailure increments id's consecutive-failure count and, at
// threshold, marks it dead for the configured penalty.
func (cb *CircuitBreaker) RecordFailure(id string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	n := cb.nodeFor(id)
	n.ConsecutiveFailures++
	if n.ConsecutiveFailures >= cb.threshold {
		n.DeadUntil = cb.clock.Now().Add(cb.penalty)
	}
}

// Snapshot returns the state of every node this breaker has ever tracked.
func (cb *CircuitBreaker) Snapshot() map[string]NodeCircuit {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make(map[string]NodeCircuit, len(cb.nodes))
	for id, n := range cb.nodes {
		out[id] = *n
	}
	return out
}

// Package circuitbreaker implements a per-backend failure gate: a
// Closed/Open/HalfOpen state machine exposed as a standalone Allow()/
// Record() capability the proxy calls directly per attempt. HalfOpen
// admits exactly one in-flight probe at a time.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is one of the three circuit-breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String renders the state the way metric label values and log lines want.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// GaugeValue maps State to the 0/1/2 encoding used for the
// lb_circuit_breaker_state gauge.
func (s State) GaugeValue() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

// Outcome classifies what Record is told about an attempt.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

// Decision is what Allow tells the caller.
type Decision int

const (
	Admit Decision = iota
	Reject
)

// OnTransition is invoked after a state change, with the breaker's lock
// already released, so it is safe for the callback to call back into the
// breaker (e.g. State()) without deadlocking.
type OnTransition func(from, to State, tripped bool)

// CircuitBreaker is one per backend. All state transitions are serialized
// through a single mutex; contention is per-backend rather than global,
// so a lock-free encoding isn't needed here.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	timeout          time.Duration

	state            State
	failureCount     int
	successCount     int
	halfOpenInFlight int
	openedAt         time.Time

	onTransition OnTransition
}

// Config carries the breaker's three tunables.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// New creates a CircuitBreaker starting Closed.
func New(cfg Config, onTransition OnTransition) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		state:            Closed,
		onTransition:     onTransition,
	}
}

// State returns the current state for inspection (metrics, tests).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition holds a state change pending notification once the lock that
// produced it has been released.
type transition struct {
	from, to State
	tripped  bool
	fired    bool
}

func (cb *CircuitBreaker) notify(t transition) {
	if t.fired && cb.onTransition != nil {
		cb.onTransition(t.from, t.to, t.tripped)
	}
}

// Allow decides whether an attempt may proceed. Closed always admits. Open
// rejects until the timeout elapses, at which point exactly one caller
// transitions the breaker to HalfOpen and is admitted as the probe; callers
// racing in the same instant are Rejected. HalfOpen admits only while no
// probe is already in flight.
func (cb *CircuitBreaker) Allow() Decision {
	cb.mu.Lock()
	var t transition
	var decision Decision

	switch cb.state {
	case Closed:
		decision = Admit

	case Open:
		if time.Since(cb.openedAt) < cb.timeout {
			decision = Reject
		} else {
			t = transition{from: cb.state, to: HalfOpen, fired: true}
			cb.state = HalfOpen
			cb.halfOpenInFlight = 1
			decision = Admit
		}

	case HalfOpen:
		if cb.halfOpenInFlight != 0 {
			decision = Reject
		} else {
			cb.halfOpenInFlight = 1
			decision = Admit
		}

	default:
		decision = Reject
	}

	cb.mu.Unlock()
	cb.notify(t)
	return decision
}

// Record reports the terminal outcome of an attempt that Allow admitted.
// Calling Record for an attempt Allow rejected is a caller error and has
// no effect beyond whatever happens to be true of the current state.
func (cb *CircuitBreaker) Record(outcome Outcome) {
	cb.mu.Lock()
	var t transition

	switch cb.state {
	case Closed:
		if outcome == Failure {
			cb.failureCount++
			if cb.failureCount >= cb.failureThreshold {
				cb.openedAt = time.Now()
				t = transition{from: cb.state, to: Open, tripped: true, fired: true}
				cb.state = Open
			}
		} else {
			cb.failureCount = 0
		}

	case HalfOpen:
		cb.halfOpenInFlight = 0
		if outcome == Success {
			cb.successCount++
			if cb.successCount >= cb.successThreshold {
				t = transition{from: cb.state, to: Closed, fired: true}
				cb.state = Closed
				cb.failureCount = 0
				cb.successCount = 0
			}
		} else {
			cb.openedAt = time.Now()
			cb.successCount = 0
			t = transition{from: cb.state, to: Open, fired: true}
			cb.state = Open
		}

	case Open:
		// A record racing in after a late Reject; nothing to update.
	}

	cb.mu.Unlock()
	cb.notify(t)
}

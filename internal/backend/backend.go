// Package backend holds the identity and live state of upstream origins,
// and the registry that owns all of them for the process lifetime.
package backend

import "sync/atomic"

// Backend is one upstream origin. Name, Address, Weight, and MaxConnections
// are fixed at construction. Healthy, ActiveRequests, ConsecutiveSuccesses,
// and ConsecutiveFailures are mutated concurrently by the proxy and the
// health checker and are therefore accessed only through atomics.
type Backend struct {
	Name           string
	Address        string
	Weight         int
	MaxConnections int // 0 means unlimited

	healthy               atomic.Bool
	activeRequests        atomic.Int64
	consecutiveSuccesses  atomic.Int64
	consecutiveFailures   atomic.Int64
}

// New creates a Backend, initially healthy.
func New(name, address string, weight, maxConnections int) *Backend {
	if weight < 1 {
		weight = 1
	}
	b := &Backend{
		Name:           name,
		Address:        address,
		Weight:         weight,
		MaxConnections: maxConnections,
	}
	b.healthy.Store(true)
	return b
}

// Healthy reports whether the backend is currently eligible for selection.
func (b *Backend) Healthy() bool { return b.healthy.Load() }

// SetHealthy flips the health flag. Called only by the health checker.
func (b *Backend) SetHealthy(v bool) { b.healthy.Store(v) }

// ActiveRequests returns the current in-flight count for this backend.
func (b *Backend) ActiveRequests() int64 { return b.activeRequests.Load() }

// Acquire increments active_requests before an outbound send. The caller
// must call Release exactly once, on every exit path, for a matching
// decrement — see BeginRequest for a scoped-guard helper.
func (b *Backend) Acquire() { b.activeRequests.Add(1) }

// Release decrements active_requests on a terminal outcome.
func (b *Backend) Release() { b.activeRequests.Add(-1) }

// AtCapacity reports whether the backend has hit its configured concurrency
// cap. A backend with MaxConnections == 0 is never at capacity.
func (b *Backend) AtCapacity() bool {
	if b.MaxConnections <= 0 {
		return false
	}
	return b.activeRequests.Load() >= int64(b.MaxConnections)
}

// RequestGuard releases the active_requests slot acquired by Acquire. It is
// meant to be deferred immediately after a successful Acquire so that the
// decrement happens on every exit path, including panics.
type RequestGuard struct {
	backend *Backend
}

// BeginRequest acquires an active_requests slot and returns a guard whose
// Release must be deferred by the caller.
func (b *Backend) BeginRequest() RequestGuard {
	b.Acquire()
	return RequestGuard{backend: b}
}

// Release decrements the active_requests slot this guard acquired. Safe to
// call at most once; the zero value is a no-op.
func (g RequestGuard) Release() {
	if g.backend != nil {
		g.backend.Release()
	}
}

// RecordHealthOutcome updates the consecutive success/failure streaks
// following a single health-check probe. Any success resets the failure
// streak and vice versa, preserving the invariant that at most one of the
// two streaks is non-zero at any time.
func (b *Backend) RecordHealthOutcome(success bool) {
	if success {
		b.consecutiveFailures.Store(0)
		b.consecutiveSuccesses.Add(1)
	} else {
		b.consecutiveSuccesses.Store(0)
		b.consecutiveFailures.Add(1)
	}
}

// ConsecutiveSuccesses returns the current success streak.
func (b *Backend) ConsecutiveSuccesses() int64 { return b.consecutiveSuccesses.Load() }

// ConsecutiveFailures returns the current failure streak.
func (b *Backend) ConsecutiveFailures() int64 { return b.consecutiveFailures.Load() }

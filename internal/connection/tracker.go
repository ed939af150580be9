// Package connection tracks the process-wide count of active inbound
// connections against a configured cap, using a single atomic counter and
// compare-and-swap for the cap check rather than a lock.
package connection

import "sync/atomic"

// Tracker enforces the process-wide connection cap.
type Tracker struct {
	limit   int64
	current atomic.Int64
	peak    atomic.Int64
}

// New creates a Tracker. A cap <= 0 means unlimited.
func New(limit int) *Tracker {
	return &Tracker{limit: int64(limit)}
}

// Slot is a scoped guard over one acquired connection slot; Release must be
// deferred immediately after a successful Acquire so the slot is freed on
// every exit path, including panics.
type Slot struct {
	t *Tracker
}

// Acquire reserves one connection slot, or reports false if the tracker
// is already at its cap. The loop is a standard CAS retry: it never blocks,
// it never blocks on a timeout.
func (t *Tracker) Acquire() (Slot, bool) {
	if t.limit <= 0 {
		t.bump(t.current.Add(1))
		return Slot{t: t}, true
	}
	for {
		cur := t.current.Load()
		if cur >= t.limit {
			return Slot{}, false
		}
		if t.current.CompareAndSwap(cur, cur+1) {
			t.bump(cur + 1)
			return Slot{t: t}, true
		}
	}
}

func (t *Tracker) bump(v int64) {
	for {
		p := t.peak.Load()
		if v <= p {
			return
		}
		if t.peak.CompareAndSwap(p, v) {
			return
		}
	}
}

// Release frees the slot this guard holds. Safe to call at most once; the
// zero value (e.g. from a rejected Acquire) is a no-op.
func (s Slot) Release() {
	if s.t != nil {
		s.t.current.Add(-1)
	}
}

// Current returns the live connection count, for the active_connections
// gauge.
func (t *Tracker) Current() int64 { return t.current.Load() }

// Peak returns the highest connection count observed since construction.
func (t *Tracker) Peak() int64 { return t.peak.Load() }

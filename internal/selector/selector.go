// Package selector implements the pluggable backend-picking policies:
// round-robin, least-connections, weighted-random, random, and IP-hash.
package selector

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"sync/atomic"

	"github.com/tanmay/loadbalancer/internal/backend"
)

// ErrNoHealthyBackend is returned when the snapshot handed to pick is
// empty — there is no eligible candidate at all.
var ErrNoHealthyBackend = errors.New("no healthy backend available")

// Selector picks one backend out of a snapshot for a single attempt.
// RequestKey is the client identity used only by IPHash; other
// implementations ignore it.
type Selector interface {
	Pick(snapshot []backend.Entry, requestKey string) (*backend.Backend, error)
}

// RoundRobin cycles through the snapshot using a monotone, shared counter.
// The counter is race-free (atomic increment) but not linearizable with
// snapshot construction; exact fairness under concurrency isn't required,
// only that no healthy backend is starved over time.
type RoundRobin struct {
	counter atomic.Uint64
}

// NewRoundRobin creates a RoundRobin selector.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

// Pick returns the entry at counter mod len(snapshot).
func (s *RoundRobin) Pick(snapshot []backend.Entry, _ string) (*backend.Backend, error) {
	if len(snapshot) == 0 {
		return nil, ErrNoHealthyBackend
	}
	idx := s.counter.Add(1) - 1
	return snapshot[idx%uint64(len(snapshot))].Backend, nil
}

// LeastConnections is memoryless: it reads Active/Weight straight off the
// snapshot passed to it every call.
type LeastConnections struct{}

// NewLeastConnections creates a LeastConnections selector.
func NewLeastConnections() *LeastConnections { return &LeastConnections{} }

// Pick returns the entry minimizing active/weight, ties broken by lowest
// snapshot index.
func (s *LeastConnections) Pick(snapshot []backend.Entry, _ string) (*backend.Backend, error) {
	if len(snapshot) == 0 {
		return nil, ErrNoHealthyBackend
	}
	best := 0
	bestLoad := loadRatio(snapshot[0])
	for i := 1; i < len(snapshot); i++ {
		if l := loadRatio(snapshot[i]); l < bestLoad {
			bestLoad = l
			best = i
		}
	}
	return snapshot[best].Backend, nil
}

func loadRatio(e backend.Entry) float64 {
	w := e.Weight
	if w < 1 {
		w = 1
	}
	return float64(e.Active) / float64(w)
}

// WeightedRandom draws uniformly over the cumulative weight range and
// returns the first entry whose cumulative weight exceeds the draw. It
// draws from the package-level rand functions, which are safe for
// concurrent use from every ServeHTTP goroutine, rather than a private
// *rand.Rand, which is not.
type WeightedRandom struct{}

// NewWeightedRandom creates a WeightedRandom selector.
func NewWeightedRandom() *WeightedRandom {
	return &WeightedRandom{}
}

// Pick draws uniformly over the cumulative weight range.
func (s *WeightedRandom) Pick(snapshot []backend.Entry, _ string) (*backend.Backend, error) {
	if len(snapshot) == 0 {
		return nil, ErrNoHealthyBackend
	}
	var total float64
	for _, e := range snapshot {
		total += float64(e.Weight)
	}
	if total <= 0 {
		return snapshot[0].Backend, nil
	}
	r := rand.Float64() * total
	var cumulative float64
	for _, e := range snapshot {
		cumulative += float64(e.Weight)
		if r < cumulative {
			return e.Backend, nil
		}
	}
	return snapshot[len(snapshot)-1].Backend, nil
}

// Random picks uniformly across the snapshot, ignoring weight. Like
// WeightedRandom, it draws from the package-level rand functions rather
// than holding a private *rand.Rand.
type Random struct{}

// NewRandom creates a Random selector.
func NewRandom() *Random {
	return &Random{}
}

// Pick returns a uniformly random entry.
func (s *Random) Pick(snapshot []backend.Entry, _ string) (*backend.Backend, error) {
	if len(snapshot) == 0 {
		return nil, ErrNoHealthyBackend
	}
	return snapshot[rand.Intn(len(snapshot))].Backend, nil
}

// IPHash gives session stickiness by hashing the client's request key
// (address string) modulo the snapshot length. This is plain modulo
// hashing, not a consistent-hash ring: the backend set is fixed at
// startup, so the set this hashes over only ever shrinks/grows from
// health flips and per-backend caps, not membership churn, and the simpler
// scheme is enough.
type IPHash struct{}

// NewIPHash creates an IPHash selector.
func NewIPHash() *IPHash { return &IPHash{} }

// Pick hashes requestKey and returns the entry at h mod len(snapshot).
func (s *IPHash) Pick(snapshot []backend.Entry, requestKey string) (*backend.Backend, error) {
	if len(snapshot) == 0 {
		return nil, ErrNoHealthyBackend
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(requestKey))
	idx := h.Sum64() % uint64(len(snapshot))
	return snapshot[idx].Backend, nil
}

package selector

import (
	"testing"

	"github.com/tanmay/loadbalancer/internal/backend"
)

func entriesFor(backends ...*backend.Backend) []backend.Entry {
	out := make([]backend.Entry, len(backends))
	for i, b := range backends {
		out[i] = backend.Entry{Backend: b, Active: b.ActiveRequests(), Weight: b.Weight}
	}
	return out
}

func TestRoundRobinCyclesWithoutStarvation(t *testing.T) {
	a := backend.New("a", "http://a", 1, 0)
	b := backend.New("b", "http://b", 1, 0)
	c := backend.New("c", "http://c", 1, 0)
	snap := entriesFor(a, b, c)

	s := NewRoundRobin()
	counts := map[string]int{}
	for i := 0; i < 30; i++ {
		picked, err := s.Pick(snap, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[picked.Name]++
	}
	for _, name := range []string{"a", "b", "c"} {
		if counts[name] != 10 {
			t.Errorf("expected exactly 10 picks for %s over 30 rounds, got %d", name, counts[name])
		}
	}
}

func TestRoundRobinEmptySnapshot(t *testing.T) {
	s := NewRoundRobin()
	if _, err := s.Pick(nil, ""); err != ErrNoHealthyBackend {
		t.Errorf("expected ErrNoHealthyBackend, got %v", err)
	}
}

func TestLeastConnectionsPicksLowestRatio(t *testing.T) {
	a := backend.New("a", "http://a", 1, 0)
	b := backend.New("b", "http://b", 2, 0)
	snap := []backend.Entry{
		{Backend: a, Active: 3, Weight: 1},
		{Backend: b, Active: 4, Weight: 2},
	}

	s := NewLeastConnections()
	picked, err := s.Pick(snap, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if picked.Name != "b" {
		t.Errorf("expected b (ratio 2.0) over a (ratio 3.0), got %s", picked.Name)
	}
}

func TestLeastConnectionsTieBreaksOnFirstIndex(t *testing.T) {
	a := backend.New("a", "http://a", 1, 0)
	b := backend.New("b", "http://b", 1, 0)
	snap := []backend.Entry{
		{Backend: a, Active: 2, Weight: 1},
		{Backend: b, Active: 2, Weight: 1},
	}

	s := NewLeastConnections()
	picked, err := s.Pick(snap, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if picked.Name != "a" {
		t.Errorf("expected tie to break toward the first entry, got %s", picked.Name)
	}
}

func TestWeightedRandomConvergesToWeightRatio(t *testing.T) {
	a := backend.New("a", "http://a", 1, 0)
	b := backend.New("b", "http://b", 3, 0)
	snap := entriesFor(a, b)

	s := NewWeightedRandom()
	counts := map[string]int{}
	const trials = 4000
	for i := 0; i < trials; i++ {
		picked, err := s.Pick(snap, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[picked.Name]++
	}

	ratio := float64(counts["b"]) / float64(counts["a"])
	if ratio < 2.0 || ratio > 4.5 {
		t.Errorf("expected b:a pick ratio near 3:1, got %.2f (counts=%v)", ratio, counts)
	}
}

func TestRandomPicksWithinSnapshot(t *testing.T) {
	a := backend.New("a", "http://a", 1, 0)
	b := backend.New("b", "http://b", 1, 0)
	snap := entriesFor(a, b)

	s := NewRandom()
	for i := 0; i < 50; i++ {
		picked, err := s.Pick(snap, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if picked.Name != "a" && picked.Name != "b" {
			t.Fatalf("picked backend %s not in snapshot", picked.Name)
		}
	}
}

func TestIPHashIsStableForSameKey(t *testing.T) {
	a := backend.New("a", "http://a", 1, 0)
	b := backend.New("b", "http://b", 1, 0)
	c := backend.New("c", "http://c", 1, 0)
	snap := entriesFor(a, b, c)

	s := NewIPHash()
	first, err := s.Pick(snap, "203.0.113.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := s.Pick(snap, "203.0.113.7")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.Name != first.Name {
			t.Errorf("expected IPHash to be stable for a fixed key, got %s then %s", first.Name, again.Name)
		}
	}
}

func TestIPHashVariesAcrossKeys(t *testing.T) {
	a := backend.New("a", "http://a", 1, 0)
	b := backend.New("b", "http://b", 1, 0)
	c := backend.New("c", "http://c", 1, 0)
	snap := entriesFor(a, b, c)

	s := NewIPHash()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		key := string(rune('a' + i%26))
		picked, err := s.Pick(snap, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[picked.Name] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected IPHash to distribute across more than one backend over varied keys, saw %v", seen)
	}
}

package backend

import "testing"

func newTestBackends() []*Backend {
	return []*Backend{
		New("a", "http://a", 1, 0),
		New("b", "http://b", 2, 2),
		New("c", "http://c", 1, 0),
	}
}

func TestSnapshotExcludesUnhealthy(t *testing.T) {
	backends := newTestBackends()
	backends[1].SetHealthy(false)
	r := NewRegistry(backends)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 healthy entries, got %d", len(snap))
	}
	for _, e := range snap {
		if e.Backend.Name == "b" {
			t.Errorf("unhealthy backend b must not appear in snapshot")
		}
	}
}

func TestSnapshotExcludesAtCapacity(t *testing.T) {
	backends := newTestBackends()
	r := NewRegistry(backends)

	g1 := backends[1].BeginRequest()
	g2 := backends[1].BeginRequest()
	defer g1.Release()
	defer g2.Release()

	snap := r.Snapshot()
	for _, e := range snap {
		if e.Backend.Name == "b" {
			t.Errorf("backend at capacity must not appear in snapshot")
		}
	}
}

func TestSnapshotEntryCarriesWeightAndActive(t *testing.T) {
	backends := newTestBackends()
	r := NewRegistry(backends)
	g := backends[0].BeginRequest()
	defer g.Release()

	snap := r.Snapshot()
	for _, e := range snap {
		if e.Backend.Name == "a" {
			if e.Weight != 1 {
				t.Errorf("expected weight 1, got %d", e.Weight)
			}
			if e.Active != 1 {
				t.Errorf("expected active 1, got %d", e.Active)
			}
		}
	}
}

func TestLookup(t *testing.T) {
	backends := newTestBackends()
	r := NewRegistry(backends)

	if b := r.Lookup("b"); b == nil || b.Name != "b" {
		t.Errorf("expected to find backend b")
	}
	if b := r.Lookup("missing"); b != nil {
		t.Errorf("expected nil for unknown backend name")
	}
}

func TestAllIncludesUnhealthy(t *testing.T) {
	backends := newTestBackends()
	backends[0].SetHealthy(false)
	r := NewRegistry(backends)

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("expected All to return every registered backend, got %d", len(all))
	}
}

func TestNewRegistryCopiesSlice(t *testing.T) {
	backends := newTestBackends()
	r := NewRegistry(backends)

	backends[0] = New("replaced", "http://replaced", 1, 0)

	all := r.All()
	if all[0].Name == "replaced" {
		t.Errorf("Registry must not alias the caller's backend slice")
	}
}

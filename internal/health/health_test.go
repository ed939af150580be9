package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tanmay/loadbalancer/internal/backend"
)

func TestProbeSuccessRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Config{Interval: time.Hour, Timeout: time.Second, Path: "/health"}, nil)
	b := backend.New("b1", srv.URL, 1, 0)
	if !c.probe(context.Background(), b) {
		t.Errorf("expected 204 to count as a successful probe")
	}
}

func TestProbeFailureOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{Interval: time.Hour, Timeout: time.Second, Path: "/health"}, nil)
	b := backend.New("b1", srv.URL, 1, 0)
	if c.probe(context.Background(), b) {
		t.Errorf("expected 503 to count as a failed probe")
	}
}

func TestProbeOnceFlipsHealthyToUnhealthyAtThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var transitions []bool
	c := New(Config{Interval: time.Hour, Timeout: time.Second, Path: "/health", UnhealthyThreshold: 2, HealthyThreshold: 2}, func(b *backend.Backend, healthy bool) {
		mu.Lock()
		transitions = append(transitions, healthy)
		mu.Unlock()
	})
	b := backend.New("b1", srv.URL, 1, 0)

	c.probeOnce(context.Background(), b)
	if !b.Healthy() {
		t.Fatalf("expected backend to remain healthy after only 1 failure (threshold 2)")
	}

	c.probeOnce(context.Background(), b)
	if b.Healthy() {
		t.Fatalf("expected backend to flip unhealthy after 2 consecutive failures")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != false {
		t.Errorf("expected exactly one transition to unhealthy, got %v", transitions)
	}
}

func TestProbeOnceFlipsUnhealthyToHealthyAtThreshold(t *testing.T) {
	healthy := false
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if ok {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(Config{Interval: time.Hour, Timeout: time.Second, Path: "/health", UnhealthyThreshold: 1, HealthyThreshold: 2}, nil)
	b := backend.New("b1", srv.URL, 1, 0)

	c.probeOnce(context.Background(), b)
	if b.Healthy() {
		t.Fatalf("expected backend to flip unhealthy after 1 failure (threshold 1)")
	}

	mu.Lock()
	healthy = true
	mu.Unlock()

	c.probeOnce(context.Background(), b)
	if b.Healthy() {
		t.Fatalf("expected backend to remain unhealthy after only 1 success (threshold 2)")
	}

	c.probeOnce(context.Background(), b)
	if !b.Healthy() {
		t.Fatalf("expected backend to flip healthy after 2 consecutive successes")
	}
}

func TestStartAndStopTerminatesAllGoroutines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{Interval: 5 * time.Millisecond, Timeout: time.Second, Path: "/health", HealthyThreshold: 1, UnhealthyThreshold: 1}, nil)
	backends := []*backend.Backend{
		backend.New("a", srv.URL, 1, 0),
		backend.New("b", srv.URL, 1, 0),
	}

	c.Start(backends)
	time.Sleep(20 * time.Millisecond)
	c.Stop()
}

// Package health runs the active health-checking loop: one independent
// periodic probe goroutine per backend, writing only to that backend's
// own health/streak fields and to metrics, so a slow backend's probe
// timeout never delays another backend's tick. A probe succeeds on any
// response in the [200,400) range, and a backend's Healthy flag only
// flips once its consecutive success or failure streak crosses the
// configured threshold.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tanmay/loadbalancer/internal/backend"
)

// OnStateChange is invoked whenever a backend's Healthy flag actually
// flips, so the caller can update the lb_backend_health_status gauge
// without the checker needing to know about metrics.
type OnStateChange func(b *backend.Backend, healthy bool)

// Config carries the health-check tunables.
type Config struct {
	Interval           time.Duration
	Timeout            time.Duration
	Path               string
	HealthyThreshold   int
	UnhealthyThreshold int
}

// Checker runs one probe goroutine per backend.
type Checker struct {
	cfg    Config
	client *http.Client
	onState OnStateChange

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Checker. Call Start to launch the per-backend loops and
// Stop to tear them down at shutdown.
func New(cfg Config, onState OnStateChange) *Checker {
	if cfg.Path == "" {
		cfg.Path = "/health"
	}
	return &Checker{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		onState: onState,
	}
}

// Start launches one independent periodic probe task per backend. Each
// task writes only to its own backend's fields — there is no
// shared mutable state between the per-backend goroutines beyond the
// read-only Config.
func (c *Checker) Start(backends []*backend.Backend) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for _, b := range backends {
		c.wg.Add(1)
		go c.run(ctx, b)
	}
}

// Stop cancels every probe goroutine and waits for them to exit.
func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Checker) run(ctx context.Context, b *backend.Backend) {
	defer c.wg.Done()

	c.probeOnce(ctx, b)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeOnce(ctx, b)
		}
	}
}

// probeOnce issues one lightweight request and updates the backend's
// streak counters and Healthy flag according to the configured thresholds.
func (c *Checker) probeOnce(ctx context.Context, b *backend.Backend) {
	success := c.probe(ctx, b)

	wasHealthy := b.Healthy()
	b.RecordHealthOutcome(success)

	nowHealthy := wasHealthy
	if wasHealthy && b.ConsecutiveFailures() >= int64(c.cfg.UnhealthyThreshold) {
		nowHealthy = false
	} else if !wasHealthy && b.ConsecutiveSuccesses() >= int64(c.cfg.HealthyThreshold) {
		nowHealthy = true
	}

	if nowHealthy != wasHealthy {
		b.SetHealthy(nowHealthy)
		if c.onState != nil {
			c.onState(b, nowHealthy)
		}
	}
}

// probe issues the configured health-check request and reports success iff
// a response with status in [200,400) arrives before the per-probe
// timeout.
func (c *Checker) probe(ctx context.Context, b *backend.Backend) bool {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, b.Address+c.cfg.Path, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

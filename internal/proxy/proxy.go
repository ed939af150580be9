// Package proxy implements the request handler: selects a backend, guards
// it with the circuit breaker, forwards the request, retries on transient
// failure, and records the outcome in metrics. It talks to backends
// directly through an http.Client rather than httputil.ReverseProxy,
// because ReverseProxy has no attempt boundary to hook a per-attempt
// retry-with-reselection loop into.
package proxy

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tanmay/loadbalancer/internal/backend"
	"github.com/tanmay/loadbalancer/internal/circuitbreaker"
	"github.com/tanmay/loadbalancer/internal/connection"
	"github.com/tanmay/loadbalancer/internal/metrics"
	"github.com/tanmay/loadbalancer/internal/retry"
	"github.com/tanmay/loadbalancer/internal/selector"
)

// hopByHopHeaders are the RFC 7230 hop-by-hop headers a proxy must not
// forward.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"TE",
	"Trailer",
}

// Proxy is the request-dispatch core. Registry and Metrics are leaf
// components it consumes, never owns back-pointers to: it reads the
// registry's snapshot and writes into the metrics registry, but neither of
// those collaborators ever calls back into Proxy.
type Proxy struct {
	registry    *backend.Registry
	selector    selector.Selector
	breakers    map[string]*circuitbreaker.CircuitBreaker
	retryPolicy *retry.Policy
	metrics     *metrics.Registry
	connTracker *connection.Tracker
	client      *http.Client
}

// New builds a Proxy. breakers must have one entry per backend known to
// registry, keyed by Backend.Name.
func New(
	registry *backend.Registry,
	sel selector.Selector,
	breakers map[string]*circuitbreaker.CircuitBreaker,
	retryPolicy *retry.Policy,
	m *metrics.Registry,
	connTracker *connection.Tracker,
) *Proxy {
	return &Proxy{
		registry:    registry,
		selector:    sel,
		breakers:    breakers,
		retryPolicy: retryPolicy,
		metrics:     m,
		connTracker: connTracker,
		client: &http.Client{
			// No overall timeout: cancellation is driven by the inbound
			// request's context, and per-attempt deadlines would
			// conflate "our own timeout fired" with "client disconnected."
			Transport: http.DefaultTransport,
		},
	}
}

// ServeHTTP selects a backend, forwards the request, and retries on
// transient failure until it can return a response or runs out of
// attempts.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slot, ok := p.connTracker.Acquire()
	if !ok {
		p.metrics.ActiveConnections.Set(float64(p.connTracker.Current()))
		http.Error(w, "connection limit exceeded", http.StatusServiceUnavailable)
		return
	}
	p.metrics.ActiveConnections.Set(float64(p.connTracker.Current()))
	defer func() {
		slot.Release()
		p.metrics.ActiveConnections.Set(float64(p.connTracker.Current()))
	}()

	requestKey := clientIP(r)
	attempt := 1

	// The inbound body stream can only be read once, but a retry needs to
	// resend it against a different backend, so it is buffered up front.
	var bodyBytes []byte
	if r.Body != nil && r.Body != http.NoBody {
		b, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		bodyBytes = b
	}

	var prev *backend.Backend
	for {
		snapshot := p.registry.Snapshot()
		if len(snapshot) == 0 {
			http.Error(w, "no healthy backend available", http.StatusBadGateway)
			return
		}

		// A retry goes back to the backend that just failed only when no
		// other backend is eligible.
		candidates := snapshot
		if prev != nil {
			if others := removeBackend(snapshot, prev); len(others) > 0 {
				candidates = others
			}
		}
		b, cb, rejectedAll := p.selectAdmitted(candidates, requestKey)
		if b == nil && len(candidates) < len(snapshot) {
			b, cb, rejectedAll = p.selectAdmitted(snapshot, requestKey)
		}
		if b == nil {
			if rejectedAll {
				http.Error(w, "all backends unavailable", http.StatusServiceUnavailable)
			} else {
				http.Error(w, "no healthy backend available", http.StatusBadGateway)
			}
			return
		}

		outcome, terminal := p.attempt(w, r, b, cb, bodyBytes)
		if terminal {
			return
		}

		if !retry.IsRetryable(outcome) || attempt >= p.retryPolicy.MaxAttempts {
			http.Error(w, "all attempts failed", http.StatusBadGateway)
			return
		}

		delay := p.retryPolicy.NextDelay(attempt)
		if delay == retry.StopRetrying {
			http.Error(w, "all attempts failed", http.StatusBadGateway)
			return
		}
		p.incRetry(b.Name)
		prev = b
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
		attempt++
	}
}

// selectAdmitted asks the selector for a backend, consulting that
// backend's circuit breaker, and re-selects over a shrinking in-memory
// snapshot when the breaker rejects. A breaker rejection
// never increments the caller's attempt counter. rejectedAll is true when
// every candidate in the snapshot was rejected by its breaker.
func (p *Proxy) selectAdmitted(snapshot []backend.Entry, requestKey string) (*backend.Backend, *circuitbreaker.CircuitBreaker, bool) {
	remaining := make([]backend.Entry, len(snapshot))
	copy(remaining, snapshot)

	triedAny := false
	for len(remaining) > 0 {
		b, err := p.selector.Pick(remaining, requestKey)
		if err != nil {
			return nil, nil, false
		}
		cb := p.breakers[b.Name]
		if cb == nil || cb.Allow() == circuitbreaker.Admit {
			return b, cb, false
		}
		triedAny = true
		remaining = removeBackend(remaining, b)
	}
	return nil, nil, triedAny
}

func removeBackend(entries []backend.Entry, target *backend.Backend) []backend.Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Backend != target {
			out = append(out, e)
		}
	}
	return out
}

// attempt forwards one request to b and records the outcome. terminal is
// true once a response (successful or not) has been written to the
// client, meaning ServeHTTP must not loop again.
func (p *Proxy) attempt(w http.ResponseWriter, r *http.Request, b *backend.Backend, cb *circuitbreaker.CircuitBreaker, bodyBytes []byte) (retry.Outcome, bool) {
	guard := b.BeginRequest()
	p.metrics.BackendActiveRequests.WithLabelValues(b.Name).Set(float64(b.ActiveRequests()))

	start := time.Now()
	outboundReq, err := p.buildOutboundRequest(r, b, bodyBytes)
	if err != nil {
		guard.Release()
		p.metrics.BackendActiveRequests.WithLabelValues(b.Name).Set(float64(b.ActiveRequests()))
		http.Error(w, "bad backend address", http.StatusInternalServerError)
		return retry.Outcome{}, true
	}

	resp, doErr := p.client.Do(outboundReq)
	guard.Release()
	p.metrics.BackendActiveRequests.WithLabelValues(b.Name).Set(float64(b.ActiveRequests()))
	duration := time.Since(start)

	if doErr != nil {
		if r.Context().Err() == context.Canceled {
			// Client cancellation: not a backend failure, not retried.
			return retry.Outcome{ClientCancelled: true}, true
		}
		outcome := retry.Outcome{TransportErr: true}
		if cb != nil {
			cb.Record(circuitbreaker.Failure)
		}
		p.recordFailureMetrics(r, b, duration)
		return outcome, false
	}
	defer resp.Body.Close()

	outcome := retry.Outcome{StatusCode: resp.StatusCode}
	if cb != nil {
		if resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented {
			cb.Record(circuitbreaker.Failure)
		} else {
			cb.Record(circuitbreaker.Success)
		}
	}

	if retry.IsRetryable(outcome) {
		// Drain and discard: the body is never shown to the client for a
		// retried attempt, but it must still be read so the connection
		// can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		p.recordMetrics(r, b, resp.StatusCode, duration, 0)
		return outcome, false
	}

	size := p.writeResponse(w, resp, b.Name)
	p.recordMetrics(r, b, resp.StatusCode, duration, size)
	return outcome, true
}

func (p *Proxy) recordFailureMetrics(r *http.Request, b *backend.Backend, duration time.Duration) {
	p.metrics.RequestsTotal.WithLabelValues(r.Method, "transport_error", b.Name).Inc()
	p.metrics.RequestDuration.WithLabelValues(b.Name).Observe(duration.Seconds())
}

func (p *Proxy) recordMetrics(r *http.Request, b *backend.Backend, status int, duration time.Duration, size int64) {
	p.metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status), b.Name).Inc()
	p.metrics.RequestDuration.WithLabelValues(b.Name).Observe(duration.Seconds())
	if size > 0 {
		p.metrics.ResponseSize.WithLabelValues(b.Name).Observe(float64(size))
	}
}

// incRetry records one retried attempt against the backend that was just
// abandoned. ServeHTTP calls it before looping.
func (p *Proxy) incRetry(name string) {
	p.metrics.RetriesTotal.WithLabelValues(name).Inc()
}

// buildOutboundRequest clones the inbound request onto the backend's
// address, stripping hop-by-hop headers and adding X-Forwarded-For /
// X-Real-IP.
func (p *Proxy) buildOutboundRequest(r *http.Request, b *backend.Backend, bodyBytes []byte) (*http.Request, error) {
	target, err := url.Parse(b.Address)
	if err != nil {
		return nil, err
	}
	target.Path = singleJoiningSlash(target.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	outReq.Header = r.Header.Clone()
	stripHopByHop(outReq.Header)

	ip := clientIP(r)
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+ip)
	} else {
		outReq.Header.Set("X-Forwarded-For", ip)
	}
	outReq.Header.Set("X-Real-IP", ip)
	outReq.Host = target.Host
	outReq.ContentLength = r.ContentLength

	return outReq, nil
}

// writeResponse streams a backend's response back to the client, setting
// X-Backend-Name for observability, and returns the number of bytes
// written.
func (p *Proxy) writeResponse(w http.ResponseWriter, resp *http.Response, backendName string) int64 {
	dst := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	stripHopByHop(dst)
	w.Header().Set("X-Backend-Name", backendName)
	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		log.Printf("[proxy] error streaming response body: %v", err)
	}
	return n
}

func stripHopByHop(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, f := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(f))
		}
	}
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

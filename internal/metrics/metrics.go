// Package metrics holds the counters, gauges, and histograms fed by every
// other component, exposed at a Prometheus text-exposition endpoint. Each
// call to New builds its own private prometheus.Registry, so tests can
// construct independent instances without colliding on the default global
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metrics series this load balancer exposes.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal            *prometheus.CounterVec
	RequestDuration          *prometheus.HistogramVec
	ResponseSize             *prometheus.HistogramVec
	BackendHealthStatus      *prometheus.GaugeVec
	ActiveConnections        prometheus.Gauge
	BackendActiveRequests    *prometheus.GaugeVec
	CircuitBreakerState      *prometheus.GaugeVec
	CircuitBreakerTripsTotal *prometheus.CounterVec
	RetriesTotal             *prometheus.CounterVec
}

// durationBuckets are the histogram buckets for request duration.
var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// New builds a Registry with a fresh prometheus.Registry and every series
// registered up front via promauto.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Registry{
		reg: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lb_requests_total",
			Help: "Total number of requests forwarded to backends.",
		}, []string{"method", "status", "backend"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lb_request_duration_seconds",
			Help:    "Request duration in seconds, per backend.",
			Buckets: durationBuckets,
		}, []string{"backend"}),
		ResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "lb_response_size_bytes",
			Help: "Response body size in bytes, per backend.",
		}, []string{"backend"}),
		BackendHealthStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lb_backend_health_status",
			Help: "1 if the backend is healthy, 0 otherwise.",
		}, []string{"backend"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lb_active_connections",
			Help: "Current number of active inbound connections.",
		}),
		BackendActiveRequests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lb_backend_active_requests",
			Help: "Current number of in-flight outbound requests, per backend.",
		}, []string{"backend"}),
		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lb_circuit_breaker_state",
			Help: "0=closed, 1=open, 2=half_open, per backend.",
		}, []string{"backend"}),
		CircuitBreakerTripsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lb_circuit_breaker_trips_total",
			Help: "Total number of Closed->Open transitions, per backend.",
		}, []string{"backend"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lb_retries_total",
			Help: "Total number of retried attempts, per backend.",
		}, []string{"backend"}),
	}
	return m
}

// Handler returns the Prometheus text-exposition http.Handler for this
// registry, meant to be mounted at /metrics on the metrics listen address.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Command gateway wires the request-dispatch core (registry, selector,
// circuit breakers, retry policy, health checker, metrics, connection
// tracker, proxy) into a running process: load config, construct
// components, mount the handler chain, and shut down gracefully on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tanmay/loadbalancer/internal/backend"
	"github.com/tanmay/loadbalancer/internal/circuitbreaker"
	"github.com/tanmay/loadbalancer/internal/config"
	"github.com/tanmay/loadbalancer/internal/connection"
	"github.com/tanmay/loadbalancer/internal/health"
	"github.com/tanmay/loadbalancer/internal/metrics"
	"github.com/tanmay/loadbalancer/internal/middleware"
	"github.com/tanmay/loadbalancer/internal/proxy"
	"github.com/tanmay/loadbalancer/internal/retry"
	"github.com/tanmay/loadbalancer/internal/selector"
)

func main() {
	configPath := "config.yml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	m := metrics.New()

	backends := make([]*backend.Backend, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		backends = append(backends, backend.New(bc.Name, bc.Address, bc.Weight, bc.MaxConnections))
	}
	registry := backend.NewRegistry(backends)

	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(backends))
	for _, b := range backends {
		name := b.Name
		breakers[name] = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
			Timeout:          cfg.CircuitBreaker.Timeout,
		}, func(from, to circuitbreaker.State, tripped bool) {
			m.CircuitBreakerState.WithLabelValues(name).Set(to.GaugeValue())
			if tripped {
				m.CircuitBreakerTripsTotal.WithLabelValues(name).Inc()
				log.Printf("[circuit] %s tripped: %s -> %s", name, from, to)
			} else {
				log.Printf("[circuit] %s transitioned: %s -> %s", name, from, to)
			}
		})
		m.CircuitBreakerState.WithLabelValues(name).Set(circuitbreaker.Closed.GaugeValue())
	}

	sel := buildSelector(cfg.Algorithm)
	retryPolicy := retry.New(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoff,
		cfg.Retry.MaxBackoff,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterRatio,
	)
	connTracker := connection.New(cfg.MaxConnections)

	proxyHandler := proxy.New(registry, sel, breakers, retryPolicy, m, connTracker)

	healthChecker := health.New(health.Config{
		Interval:           cfg.HealthCheck.Interval,
		Timeout:            cfg.HealthCheck.Timeout,
		Path:               cfg.HealthCheck.Path,
		HealthyThreshold:   cfg.HealthCheck.HealthyThreshold,
		UnhealthyThreshold: cfg.HealthCheck.UnhealthyThreshold,
	}, func(b *backend.Backend, healthy bool) {
		value := 0.0
		if healthy {
			value = 1.0
		}
		m.BackendHealthStatus.WithLabelValues(b.Name).Set(value)
		log.Printf("[health] %s healthy=%v", b.Name, healthy)
	})

	for _, b := range backends {
		m.BackendHealthStatus.WithLabelValues(b.Name).Set(1)
	}
	healthChecker.Start(backends)

	handler := middleware.Chain(
		proxyHandler,
		middleware.RequestID(),
		middleware.Logging(),
	)

	mux := http.NewServeMux()
	mux.Handle("/", handler)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())

	lbServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		log.Printf("[init] metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	serverCtx, stop := context.WithCancel(context.Background())
	defer stop()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("shutting down load balancer...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lbServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("load balancer shutdown error: %v", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics server shutdown error: %v", err)
		}
		healthChecker.Stop()
		stop()
	}()

	log.Printf("[init] load balancer listening on %s (algorithm=%s, backends=%d)", cfg.ListenAddr, cfg.Algorithm, len(backends))
	if err := lbServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("load balancer ListenAndServe: %v", err)
	}

	<-serverCtx.Done()
	log.Println("shutdown complete")
}

// buildSelector maps the configured algorithm name to a Selector
// implementation.
func buildSelector(alg config.Algorithm) selector.Selector {
	switch alg {
	case config.LeastConnections:
		return selector.NewLeastConnections()
	case config.WeightedRandom:
		return selector.NewWeightedRandom()
	case config.Random:
		return selector.NewRandom()
	case config.IPHash:
		return selector.NewIPHash()
	case config.RoundRobin:
		return selector.NewRoundRobin()
	default:
		panic(fmt.Sprintf("unreachable: config validation should have rejected algorithm %q", alg))
	}
}

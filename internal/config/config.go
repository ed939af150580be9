// Package config loads the gateway's YAML configuration into a typed,
// immutable struct consumed once at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig describes a single upstream origin.
type BackendConfig struct {
	Name           string `yaml:"name"`
	Address        string `yaml:"address"`
	Weight         int    `yaml:"weight"`
	MaxConnections int    `yaml:"max_connections,omitempty"`
}

// HealthCheckConfig controls the active health-checking loop.
type HealthCheckConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Timeout           time.Duration `yaml:"timeout"`
	Path              string        `yaml:"path"`
	HealthyThreshold  int           `yaml:"healthy_threshold"`
	UnhealthyThreshold int          `yaml:"unhealthy_threshold"`
}

// CircuitBreakerConfig controls the per-backend circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig controls the retry engine's backoff schedule.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	Multiplier      float64       `yaml:"multiplier"`
	JitterRatio     float64       `yaml:"jitter_ratio"`
}

// Algorithm is a recognized backend-selection policy.
type Algorithm string

const (
	RoundRobin       Algorithm = "round_robin"
	LeastConnections Algorithm = "least_connections"
	WeightedRandom   Algorithm = "weighted_random"
	Random           Algorithm = "random"
	IPHash           Algorithm = "ip_hash"
)

// Config is the top-level, immutable configuration for the load balancer.
type Config struct {
	ListenAddr     string               `yaml:"listen_addr"`
	MetricsAddr    string               `yaml:"metrics_addr"`
	Algorithm      Algorithm            `yaml:"algorithm"`
	Backends       []BackendConfig      `yaml:"backends"`
	HealthCheck    HealthCheckConfig    `yaml:"health_check"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	MaxConnections int                  `yaml:"max_connections"`
}

// LoadConfig reads a YAML config file, parses it, fills in defaults for
// zero-valued fields that have one (jitter_ratio and the max_connections
// caps stay zero), and validates it. Returns a wrapped error describing
// anything that would leave the process unable to start.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in the defaults named in the external interface spec.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:8080"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "0.0.0.0:9090"
	}
	if c.Algorithm == "" {
		c.Algorithm = RoundRobin
	}
	if c.HealthCheck.Path == "" {
		c.HealthCheck.Path = "/health"
	}
	if c.HealthCheck.Interval == 0 {
		c.HealthCheck.Interval = 10 * time.Second
	}
	if c.HealthCheck.Timeout == 0 {
		c.HealthCheck.Timeout = 2 * time.Second
	}
	if c.HealthCheck.HealthyThreshold == 0 {
		c.HealthCheck.HealthyThreshold = 2
	}
	if c.HealthCheck.UnhealthyThreshold == 0 {
		c.HealthCheck.UnhealthyThreshold = 3
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = 2
	}
	if c.CircuitBreaker.Timeout == 0 {
		c.CircuitBreaker.Timeout = 30 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 50 * time.Millisecond
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 2 * time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2.0
	}
	for i := range c.Backends {
		if c.Backends[i].Weight <= 0 {
			c.Backends[i].Weight = 1
		}
	}
}

// validate rejects configurations that would leave the process unable to
// serve traffic. Every error returned here is fatal at startup.
func (c *Config) validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend missing name")
		}
		if b.Address == "" {
			return fmt.Errorf("backend %q missing address", b.Name)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate backend name %q", b.Name)
		}
		seen[b.Name] = true
	}
	switch c.Algorithm {
	case RoundRobin, LeastConnections, WeightedRandom, Random, IPHash:
	default:
		return fmt.Errorf("unrecognized algorithm %q", c.Algorithm)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.Multiplier <= 1 {
		return fmt.Errorf("retry.multiplier must be > 1")
	}
	if c.Retry.JitterRatio < 0 || c.Retry.JitterRatio > 1 {
		return fmt.Errorf("retry.jitter_ratio must be in [0,1]")
	}
	return nil
}

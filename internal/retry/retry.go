// Package retry implements an exponential-backoff-plus-full-jitter engine
// for deciding how long to wait before retrying a failed attempt, and
// which outcomes are worth retrying at all.
package retry

import (
	"math/rand"
	"net/http"
	"time"
)

// Policy is the immutable retry configuration. NextDelay draws its jitter
// from the package-level rand functions, which are safe for concurrent
// use from every ServeHTTP goroutine, rather than a private *rand.Rand,
// which is not.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	JitterRatio    float64
}

// New creates a Policy. Panics are avoided by clamping obviously invalid
// inputs the way config.LoadConfig's validation already guarantees won't
// reach here in practice.
func New(maxAttempts int, initialBackoff, maxBackoff time.Duration, multiplier, jitterRatio float64) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if multiplier <= 1 {
		multiplier = 2
	}
	if jitterRatio < 0 {
		jitterRatio = 0
	}
	if jitterRatio > 1 {
		jitterRatio = 1
	}
	return &Policy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
		Multiplier:     multiplier,
		JitterRatio:    jitterRatio,
	}
}

// StopRetrying is returned by NextDelay when no further attempt should be
// made, because n has reached MaxAttempts.
const StopRetrying time.Duration = -1

// NextDelay returns the delay to wait before attempt n+1, given that attempt
// n just failed. Returns StopRetrying once n >= MaxAttempts.
func (p *Policy) NextDelay(n int) time.Duration {
	if n >= p.MaxAttempts {
		return StopRetrying
	}

	base := float64(p.InitialBackoff) * pow(p.Multiplier, n-1)
	if max := float64(p.MaxBackoff); p.MaxBackoff > 0 && base > max {
		base = max
	}

	jittered := base * (1 - p.JitterRatio + p.JitterRatio*rand.Float64())
	return time.Duration(jittered)
}

// pow computes base^exp for a small non-negative integer exponent without
// pulling in math.Pow's float-edge-case handling, which this call site
// never needs (exp is always attempt-number-minus-one, a small int).
func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Outcome is what the proxy classifies a single attempt as, for the
// purposes of deciding retryability. It captures exactly the information
// the retryability classifier needs.
type Outcome struct {
	// TransportErr is set when the attempt never produced an HTTP response
	// at all (connection refused/reset, dial or read timeout).
	TransportErr bool
	// StatusCode is the HTTP status the backend returned, valid only when
	// TransportErr is false and the request was not cancelled.
	StatusCode int
	// CircuitRejected is set when the circuit breaker rejected the attempt
	// before it ever reached the backend.
	CircuitRejected bool
	// ClientCancelled is set when the inbound connection closed before a
	// backend response arrived.
	ClientCancelled bool
}

// IsRetryable classifies an outcome as worth retrying: transport errors
// and 5xx responses except 501 are retryable; 4xx, 501, circuit-breaker
// rejections, and client cancellations are not.
func IsRetryable(o Outcome) bool {
	if o.ClientCancelled || o.CircuitRejected {
		return false
	}
	if o.TransportErr {
		return true
	}
	if o.StatusCode == http.StatusNotImplemented {
		return false
	}
	return o.StatusCode >= 500 && o.StatusCode < 600
}

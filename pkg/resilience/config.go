package resilience

import (
	"time"
)

// Config configures resilience features for a remote store.
type Config struct {
	// Timeout bounds each store operation
	Timeout time.Duration

	// Breaker configures the circuit breaker behavior
	Breaker BreakerConfig
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the breaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which the
	// breaker clears its internal counts. If 0, counts are never cleared.
	Interval time.Duration

	// Timeout is the period of the open state after which the breaker
	// becomes half-open. Default: 60s
	Timeout time.Duration

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// Returning true places the breaker into the open state. If nil, the
	// breaker trips after 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultConfig returns sensible defaults for resilience configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				// Require at least 20 requests before considering error rate
				if counts.Requests < 20 {
					return false
				}
				// Trip if error rate >= 15%
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRate >= 0.15
			},
		},
	}
}

// WithTimeout returns a copy of the config with the specified operation timeout.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}

// WithBreakerTimeout returns a copy of the config with the specified open-state timeout.
func (c Config) WithBreakerTimeout(timeout time.Duration) Config {
	c.Breaker.Timeout = timeout
	return c
}

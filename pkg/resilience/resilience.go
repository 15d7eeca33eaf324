// Package resilience wraps a remote store with circuit breaker and
// timeout protection so a degraded Redis cannot stall callers.
package resilience

import (
	"context"
	"time"

	"cachefront/pkg/cache"
	"cachefront/pkg/logging"
	"cachefront/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Store wraps a cache.RemoteStore with a circuit breaker and per-operation
// timeouts. Misses are normal outcomes and never count as breaker failures.
type Store struct {
	inner   cache.RemoteStore
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.Collector
	logger  *logging.Logger
}

var _ cache.RemoteStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics collector. Defaults to a no-op collector.
func WithMetrics(m metrics.Collector) Option {
	return func(s *Store) { s.metrics = m }
}

// New wraps the given store with circuit breaker and timeout enforcement.
func New(inner cache.RemoteStore, config Config, opts ...Option) *Store {
	s := &Store{
		inner:   inner,
		timeout: config.Timeout,
		metrics: metrics.NoOpCollector{},
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.L().Named("resilience").Named(inner.Name())
	}

	s.logger.Info("resilient store initialized",
		zap.String("store", inner.Name()),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.Breaker.MaxRequests),
		zap.Duration("breaker_interval", config.Breaker.Interval),
		zap.Duration("breaker_timeout", config.Breaker.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: config.Breaker.MaxRequests,
		Interval:    config.Breaker.Interval,
		Timeout:     config.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.Breaker.ReadyToTrip != nil {
				return config.Breaker.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			// Default: trip after 5 consecutive failures
			return counts.ConsecutiveFailures >= 5
		},
		// A miss is a valid answer from a healthy store.
		IsSuccessful: func(err error) bool {
			return err == nil || cache.IsNotFound(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Warn("circuit breaker state changed",
				zap.String("store", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			s.metrics.RecordCircuitState(name, state)
		},
	}

	s.cb = gobreaker.NewCircuitBreaker(settings)

	return s
}

// do runs fn through the breaker with the configured timeout and records
// the outcome. gobreaker rejections map to ErrCircuitOpen, deadline hits
// to ErrTimeout.
func (s *Store) do(ctx context.Context, op, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})

	duration := time.Since(start)
	s.metrics.RecordCacheOp(op, cache.LevelL3.String(), cache.ClassifyError(err), duration)

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			s.logger.Warn("circuit breaker open, request rejected",
				zap.String("operation", op),
				zap.String("key", key),
			)
			return nil, cache.ErrCircuitOpen
		}
		if ctx.Err() == context.DeadlineExceeded {
			s.logger.Warn("operation timeout",
				zap.String("operation", op),
				zap.String("key", key),
				zap.Duration("timeout", s.timeout),
				zap.Duration("elapsed", duration),
			)
			return nil, cache.ErrTimeout
		}
		if !cache.IsNotFound(err) {
			s.logger.Error("store operation failed",
				zap.String("operation", op),
				zap.String("key", key),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		}
		return nil, err
	}

	return result, nil
}

// Get retrieves a value with timeout and circuit breaker protection.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.do(ctx, "get", key, func(ctx context.Context) (interface{}, error) {
		return s.inner.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Set stores a value with timeout and circuit breaker protection.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.do(ctx, "set", key, func(ctx context.Context) (interface{}, error) {
		return nil, s.inner.Set(ctx, key, value, ttl)
	})
	return err
}

// Delete removes keys with timeout and circuit breaker protection.
func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	first := ""
	if len(keys) > 0 {
		first = keys[0]
	}
	result, err := s.do(ctx, "delete", first, func(ctx context.Context) (interface{}, error) {
		return s.inner.Delete(ctx, keys...)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// AddToSet adds members to a set with timeout and circuit breaker protection.
func (s *Store) AddToSet(ctx context.Context, key string, members ...string) error {
	_, err := s.do(ctx, "sadd", key, func(ctx context.Context) (interface{}, error) {
		return nil, s.inner.AddToSet(ctx, key, members...)
	})
	return err
}

// SetMembers returns the members of a set with timeout and circuit breaker protection.
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	result, err := s.do(ctx, "smembers", key, func(ctx context.Context) (interface{}, error) {
		return s.inner.SetMembers(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Expire sets a key's TTL with timeout and circuit breaker protection.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.do(ctx, "expire", key, func(ctx context.Context) (interface{}, error) {
		return nil, s.inner.Expire(ctx, key, ttl)
	})
	return err
}

// ExpireAtLeast raises a key's TTL with timeout and circuit breaker protection.
func (s *Store) ExpireAtLeast(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.do(ctx, "expire", key, func(ctx context.Context) (interface{}, error) {
		return nil, s.inner.ExpireAtLeast(ctx, key, ttl)
	})
	return err
}

// ScanKeys lists keys matching a pattern with timeout and circuit breaker protection.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	result, err := s.do(ctx, "scan", "", func(ctx context.Context) (interface{}, error) {
		return s.inner.ScanKeys(ctx, pattern)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// TTL returns a key's remaining TTL with timeout and circuit breaker protection.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	result, err := s.do(ctx, "ttl", key, func(ctx context.Context) (interface{}, error) {
		return s.inner.TTL(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	return result.(time.Duration), nil
}

// Publish sends a message with timeout and circuit breaker protection.
func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	_, err := s.do(ctx, "publish", channel, func(ctx context.Context) (interface{}, error) {
		return nil, s.inner.Publish(ctx, channel, payload)
	})
	return err
}

// Subscribe passes through to the underlying store. Subscriptions are
// long-lived so they bypass the breaker and the per-operation timeout.
func (s *Store) Subscribe(ctx context.Context, channel string, fn func(payload string)) error {
	return s.inner.Subscribe(ctx, channel, fn)
}

// Ping checks store health with timeout and circuit breaker protection.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.do(ctx, "ping", "", func(ctx context.Context) (interface{}, error) {
		return nil, s.inner.Ping(ctx)
	})
	return err
}

// Name returns the name of the underlying store.
func (s *Store) Name() string {
	return s.inner.Name()
}

// State returns the current breaker state ("closed", "half-open" or "open").
func (s *Store) State() string {
	return s.cb.State().String()
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.inner.Close()
}

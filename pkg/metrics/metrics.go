package metrics

import (
	"time"
)

// Collector is the interface for recording cache and query metrics.
// Implementations can export to various backends (Prometheus, StatsD, etc.).
type Collector interface {
	// RecordCacheOp records a cache operation against one tier.
	// operation is get/set/delete, level is l1/l2/l3/all, status is
	// hit/miss/stale/ok/error.
	RecordCacheOp(operation, level, status string, duration time.Duration)

	// RecordQuery records a database operation issued by the optimizer.
	// model is the primary table the query touches, status is ok/error.
	RecordQuery(operation, model, status string, duration time.Duration)

	// RecordInvalidation records a tag, pattern or broadcast invalidation
	// and how many keys it removed.
	RecordInvalidation(kind string, keys int)

	// RecordBatch records one dispatched batch: how many loads were
	// requested and how many unique keys were actually fetched.
	RecordBatch(size, unique int)

	// Async writer
	RecordQueueDepth(component string, depth int)
	RecordWriteDropped(component string)
	RecordAsyncWrite(component string, success bool, duration time.Duration)

	// Circuit breaker
	RecordCircuitState(name string, state CircuitState)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of Collector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordCacheOp does nothing.
func (NoOpCollector) RecordCacheOp(operation, level, status string, duration time.Duration) {}

// RecordQuery does nothing.
func (NoOpCollector) RecordQuery(operation, model, status string, duration time.Duration) {}

// RecordInvalidation does nothing.
func (NoOpCollector) RecordInvalidation(kind string, keys int) {}

// RecordBatch does nothing.
func (NoOpCollector) RecordBatch(size, unique int) {}

// RecordQueueDepth does nothing.
func (NoOpCollector) RecordQueueDepth(component string, depth int) {}

// RecordWriteDropped does nothing.
func (NoOpCollector) RecordWriteDropped(component string) {}

// RecordAsyncWrite does nothing.
func (NoOpCollector) RecordAsyncWrite(component string, success bool, duration time.Duration) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

package prometheus

import (
	"time"

	"cachefront/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	namespace string

	// Cache tiers
	cacheOps     *prometheus.CounterVec
	cacheLatency *prometheus.HistogramVec

	// Query optimizer
	queryOps     *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec

	// Invalidation
	invalidations   *prometheus.CounterVec
	invalidatedKeys *prometheus.CounterVec

	// Batch collector
	batchSize   prometheus.Histogram
	batchDedupe prometheus.Counter

	// Async writer
	queueDepth    *prometheus.GaugeVec
	droppedWrites *prometheus.CounterVec
	asyncWrites   *prometheus.CounterVec
	asyncLatency  *prometheus.HistogramVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec
}

// New creates a Prometheus metrics collector. All metrics share the
// given namespace.
func New(namespace string) *Collector {
	return &Collector{
		namespace: namespace,
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Cache operations by operation, tier and outcome",
			},
			[]string{"operation", "level", "status"},
		),
		cacheLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_operation_duration_seconds",
				Help:      "Cache operation latency by operation and tier",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to ~3s
			},
			[]string{"operation", "level"},
		),
		queryOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_operations_total",
				Help:      "Database operations by operation, model and outcome",
			},
			[]string{"operation", "model", "status"},
		),
		queryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Database operation latency by operation and model",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~8s
			},
			[]string{"operation", "model"},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalidations_total",
				Help:      "Invalidation requests by kind (tag, pattern, broadcast)",
			},
			[]string{"kind"},
		),
		invalidatedKeys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalidated_keys_total",
				Help:      "Keys removed by invalidations, by kind",
			},
			[]string{"kind"},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Number of loads coalesced into each dispatched batch",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		batchDedupe: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_deduplicated_total",
				Help:      "Loads answered by another load in the same batch",
			},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current async write queue depth per component",
			},
			[]string{"component"},
		),
		droppedWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_writes_total",
				Help:      "Async writes dropped because the queue stayed full",
			},
			[]string{"component"},
		),
		asyncWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "async_writes_total",
				Help:      "Async writes by component and outcome",
			},
			[]string{"component", "status"},
		),
		asyncLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "async_write_duration_seconds",
				Help:      "Async write latency per component",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"component"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Circuit breaker transitions to open",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (c *Collector) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		c.cacheOps,
		c.cacheLatency,
		c.queryOps,
		c.queryLatency,
		c.invalidations,
		c.invalidatedKeys,
		c.batchSize,
		c.batchDedupe,
		c.queueDepth,
		c.droppedWrites,
		c.asyncWrites,
		c.asyncLatency,
		c.circuitOpens,
		c.circuitState,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordCacheOp records a cache operation against one tier.
func (c *Collector) RecordCacheOp(operation, level, status string, duration time.Duration) {
	c.cacheOps.WithLabelValues(operation, level, status).Inc()
	c.cacheLatency.WithLabelValues(operation, level).Observe(duration.Seconds())
}

// RecordQuery records a database operation issued by the optimizer.
func (c *Collector) RecordQuery(operation, model, status string, duration time.Duration) {
	c.queryOps.WithLabelValues(operation, model, status).Inc()
	c.queryLatency.WithLabelValues(operation, model).Observe(duration.Seconds())
}

// RecordInvalidation records an invalidation and the keys it removed.
func (c *Collector) RecordInvalidation(kind string, keys int) {
	c.invalidations.WithLabelValues(kind).Inc()
	c.invalidatedKeys.WithLabelValues(kind).Add(float64(keys))
}

// RecordBatch records one dispatched batch.
func (c *Collector) RecordBatch(size, unique int) {
	c.batchSize.Observe(float64(size))
	if size > unique {
		c.batchDedupe.Add(float64(size - unique))
	}
}

// RecordQueueDepth records the current async write queue depth.
func (c *Collector) RecordQueueDepth(component string, depth int) {
	c.queueDepth.WithLabelValues(component).Set(float64(depth))
}

// RecordWriteDropped records a dropped async write.
func (c *Collector) RecordWriteDropped(component string) {
	c.droppedWrites.WithLabelValues(component).Inc()
}

// RecordAsyncWrite records an async write operation.
func (c *Collector) RecordAsyncWrite(component string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	c.asyncWrites.WithLabelValues(component, status).Inc()
	c.asyncLatency.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordCircuitState records the current circuit breaker state.
func (c *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	c.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		c.circuitOpens.WithLabelValues(name).Inc()
	}
}

var _ metrics.Collector = (*Collector)(nil)

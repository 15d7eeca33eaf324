// Package memory provides an in-memory metrics.Collector for tests and
// for the stats endpoint, which reports counters without a scrape.
package memory

import (
	"sync"
	"time"

	"cachefront/pkg/metrics"
)

// Collector implements metrics.Collector with plain counters.
type Collector struct {
	mu sync.RWMutex

	cacheOps map[opKey]int64
	queryOps map[opKey]int64

	invalidations   map[string]int64
	invalidatedKeys map[string]int64

	batches      int64
	batchedLoads int64
	dedupedLoads int64

	queueDepth    map[string]int
	droppedWrites map[string]int64
	asyncWrites   map[string]int64
	asyncErrors   map[string]int64

	circuitState map[string]metrics.CircuitState
	circuitOpens map[string]int64
}

// opKey identifies one labeled operation counter.
type opKey struct {
	Operation string
	Scope     string // cache level or query model
	Status    string
}

// New creates an empty in-memory collector.
func New() *Collector {
	return &Collector{
		cacheOps:        make(map[opKey]int64),
		queryOps:        make(map[opKey]int64),
		invalidations:   make(map[string]int64),
		invalidatedKeys: make(map[string]int64),
		queueDepth:      make(map[string]int),
		droppedWrites:   make(map[string]int64),
		asyncWrites:     make(map[string]int64),
		asyncErrors:     make(map[string]int64),
		circuitState:    make(map[string]metrics.CircuitState),
		circuitOpens:    make(map[string]int64),
	}
}

// RecordCacheOp implements metrics.Collector.
func (c *Collector) RecordCacheOp(operation, level, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheOps[opKey{operation, level, status}]++
}

// RecordQuery implements metrics.Collector.
func (c *Collector) RecordQuery(operation, model, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryOps[opKey{operation, model, status}]++
}

// RecordInvalidation implements metrics.Collector.
func (c *Collector) RecordInvalidation(kind string, keys int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations[kind]++
	c.invalidatedKeys[kind] += int64(keys)
}

// RecordBatch implements metrics.Collector.
func (c *Collector) RecordBatch(size, unique int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
	c.batchedLoads += int64(size)
	if size > unique {
		c.dedupedLoads += int64(size - unique)
	}
}

// RecordQueueDepth implements metrics.Collector.
func (c *Collector) RecordQueueDepth(component string, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepth[component] = depth
}

// RecordWriteDropped implements metrics.Collector.
func (c *Collector) RecordWriteDropped(component string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.droppedWrites[component]++
}

// RecordAsyncWrite implements metrics.Collector.
func (c *Collector) RecordAsyncWrite(component string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asyncWrites[component]++
	if !success {
		c.asyncErrors[component]++
	}
}

// RecordCircuitState implements metrics.Collector.
func (c *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.circuitState[name] = state
	if state == metrics.CircuitOpen {
		c.circuitOpens[name]++
	}
}

// CacheOps returns the count for one cache operation counter.
func (c *Collector) CacheOps(operation, level, status string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cacheOps[opKey{operation, level, status}]
}

// QueryOps returns the count for one query operation counter.
func (c *Collector) QueryOps(operation, model, status string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queryOps[opKey{operation, model, status}]
}

// Invalidations returns how many invalidations of the given kind ran and
// how many keys they removed.
func (c *Collector) Invalidations(kind string) (count, keys int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invalidations[kind], c.invalidatedKeys[kind]
}

// Batches returns batch counters: dispatched batches, total loads and
// loads deduplicated within a batch.
func (c *Collector) Batches() (batches, loads, deduped int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.batches, c.batchedLoads, c.dedupedLoads
}

// QueueDepth returns the last recorded queue depth for a component.
func (c *Collector) QueueDepth(component string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queueDepth[component]
}

// DroppedWrites returns the dropped write count for a component.
func (c *Collector) DroppedWrites(component string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.droppedWrites[component]
}

// AsyncWrites returns how many async writes a component completed and
// how many of those failed.
func (c *Collector) AsyncWrites(component string) (writes, failures int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.asyncWrites[component], c.asyncErrors[component]
}

// CircuitState returns the last recorded state for a breaker.
func (c *Collector) CircuitState(name string) metrics.CircuitState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.circuitState[name]
}

// CircuitOpens returns how many times a breaker opened.
func (c *Collector) CircuitOpens(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.circuitOpens[name]
}

var _ metrics.Collector = (*Collector)(nil)

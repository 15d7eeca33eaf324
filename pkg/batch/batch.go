// Package batch implements the request-scoped load collector. Point
// lookups issued within one collection window are coalesced into a single
// multi-key fetch, and every result is memoized for the collector's
// lifetime. A collector is meant to live for one logical request.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cachefront/pkg/logging"
	"cachefront/pkg/metrics"

	"go.uber.org/zap"
)

// Result is one per-key outcome from a BatchFunc. Err set means this key
// failed while its siblings may have succeeded.
type Result struct {
	Value any
	Err   error
}

// BatchFunc fetches the given deduplicated keys in one call. It must
// return exactly one Result per key, in key order. A returned error fails
// the whole batch.
type BatchFunc func(ctx context.Context, keys []string) ([]Result, error)

// Thunk resolves one load. Calling it blocks until the batch completes.
type Thunk func() (any, error)

// Option configures a Collector.
type Option func(*Collector)

// WithWait sets the collection window (default: 1ms).
func WithWait(d time.Duration) Option {
	return func(c *Collector) { c.wait = d }
}

// WithMaxBatch caps the number of keys in one batch; reaching the cap
// dispatches immediately. 0 means no cap (default: 100).
func WithMaxBatch(n int) Option {
	return func(c *Collector) { c.maxBatch = n }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// WithMetrics sets the metrics collector. Defaults to a no-op collector.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Collector) { c.metrics = m }
}

// Collector coalesces loads into batches.
type Collector struct {
	fetch    BatchFunc
	wait     time.Duration
	maxBatch int
	logger   *logging.Logger
	metrics  metrics.Collector

	mu    sync.Mutex
	cache map[string]Thunk
	cur   *group

	batches int64
	loads   int64
	keys    int64
	dedup   int64
}

// group is one in-flight batch. done closes once results (or err) are set.
type group struct {
	ctx     context.Context
	keys    []string
	results []Result
	err     error
	loads   int
	closing bool
	done    chan struct{}
}

// New creates a collector around the given fetch function.
func New(fetch BatchFunc, opts ...Option) *Collector {
	c := &Collector{
		fetch:    fetch,
		wait:     1 * time.Millisecond,
		maxBatch: 100,
		logger:   logging.NewNop(),
		metrics:  metrics.NoOpCollector{},
		cache:    make(map[string]Thunk),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load fetches a value, blocking until its batch resolves.
func (c *Collector) Load(ctx context.Context, key string) (any, error) {
	return c.LoadThunk(ctx, key)()
}

// LoadThunk registers a load and returns a thunk that blocks until the
// batch resolves. Loads for a key already seen return the memoized thunk
// without touching the batch.
func (c *Collector) LoadThunk(ctx context.Context, key string) Thunk {
	c.mu.Lock()
	c.loads++

	if thunk, ok := c.cache[key]; ok {
		c.dedup++
		if c.cur != nil && !c.cur.closing {
			c.cur.loads++
		}
		c.mu.Unlock()
		return thunk
	}

	if c.cur == nil {
		g := &group{ctx: ctx, done: make(chan struct{})}
		c.cur = g
		go c.timer(g)
	}
	g := c.cur
	pos := len(g.keys)
	g.keys = append(g.keys, key)
	g.loads++
	c.keys++

	thunk := func() (any, error) {
		<-g.done
		if g.err != nil {
			return nil, g.err
		}
		r := g.results[pos]
		return r.Value, r.Err
	}
	c.cache[key] = thunk

	if c.maxBatch > 0 && len(g.keys) >= c.maxBatch {
		g.closing = true
		c.cur = nil
		go c.run(g)
	}

	c.mu.Unlock()
	return thunk
}

// Prime seeds a resolved value for key without invoking the batch
// function. Returns false if the key was already loaded or primed.
func (c *Collector) Prime(key string, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cache[key]; ok {
		return false
	}
	c.cache[key] = func() (any, error) { return value, nil }
	return true
}

// Clear drops the memoized result for key, so the next load fetches again.
func (c *Collector) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, key)
}

// ClearAll drops every memoized result. Called at request boundaries and
// after mutations so a request never reads its own stale writes.
func (c *Collector) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]Thunk)
}

// timer dispatches the group when the collection window elapses, unless
// the group already dispatched on MaxBatch.
func (c *Collector) timer(g *group) {
	time.Sleep(c.wait)

	c.mu.Lock()
	if g.closing {
		c.mu.Unlock()
		return
	}
	g.closing = true
	if c.cur == g {
		c.cur = nil
	}
	c.mu.Unlock()

	c.run(g)
}

// run fetches the group's keys and resolves every waiter.
func (c *Collector) run(g *group) {
	c.metrics.RecordBatch(g.loads, len(g.keys))
	c.logger.Debug("dispatching batch",
		zap.Int("keys", len(g.keys)),
		zap.Int("loads", g.loads),
	)

	results, err := c.fetch(g.ctx, g.keys)
	if err == nil && len(results) != len(g.keys) {
		err = fmt.Errorf("batch: fetch returned %d results for %d keys", len(results), len(g.keys))
	}
	if err != nil {
		c.logger.Warn("batch fetch failed",
			zap.Int("keys", len(g.keys)),
			zap.Error(err),
		)
	}

	// Count the batch before waking waiters so a Stats call that follows a
	// resolved thunk sees it.
	c.mu.Lock()
	c.batches++
	c.mu.Unlock()

	g.results, g.err = results, err
	close(g.done)
}

// Stats holds collector counters.
type Stats struct {
	// Batches is the number of fetch calls dispatched
	Batches int64

	// Loads is the total number of Load/LoadThunk calls
	Loads int64

	// Keys is the number of unique keys handed to fetch
	Keys int64

	// DedupHits is the number of loads served from memoized results
	DedupHits int64
}

// Stats returns current collector counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Batches:   c.batches,
		Loads:     c.loads,
		Keys:      c.keys,
		DedupHits: c.dedup,
	}
}

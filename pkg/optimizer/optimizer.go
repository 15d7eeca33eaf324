// Package optimizer analyzes and executes SQL with light heuristics: it
// flags common anti-patterns with best-effort rewrites, tracks prepared
// statements in a bounded usage-aware registry, distills execution plans
// into index hints, and keeps a rolling slow-query log.
package optimizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"cachefront/pkg/logging"
	"cachefront/pkg/metrics"

	"go.uber.org/zap"
)

// ExecutionContext supplies raw query execution and transaction
// semantics. The optimizer calls into it but does not own connection
// lifecycle.
type ExecutionContext interface {
	// Query runs a read and returns its rows as column-keyed maps.
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)

	// Exec runs a write and returns the affected row count.
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// Transaction runs fn inside one transaction; an error from fn rolls
	// everything back.
	Transaction(ctx context.Context, fn func(tx ExecutionContext) error) error

	// ExplainAnalyze returns the textual execution plan for query.
	ExplainAnalyze(ctx context.Context, query string, args ...any) ([]string, error)
}

// Config holds optimizer tuning.
type Config struct {
	// MaxPrepared caps the statement registry
	MaxPrepared int

	// AnalysisCacheSize caps the analysis cache; trimming starts at 80%
	AnalysisCacheSize int

	// SlowQueryThreshold is the duration at which an execution enters the
	// slow-query log; zero disables the log
	SlowQueryThreshold time.Duration

	// SlowLogSize caps the slow-query log
	SlowLogSize int

	// SlowLogWindow is how long slow-query entries are retained
	SlowLogWindow time.Duration

	// MaxStatementIdle is the idle age past which a low-usage prepared
	// statement is dropped by maintenance
	MaxStatementIdle time.Duration

	// MinKeepUsage is the usage count at which a statement counts as hot
	// and survives both capacity eviction and idle cleanup
	MinKeepUsage int64

	// MaintenanceInterval is how often the background pass runs
	MaintenanceInterval time.Duration

	// DefaultLimit is the bound the rewriter appends to unbounded scans
	DefaultLimit int

	// DefaultCost is the estimate assigned to heuristic fallback plans
	DefaultCost float64

	Logger  *logging.Logger
	Metrics metrics.Collector
}

// DefaultConfig returns the standard optimizer tuning.
func DefaultConfig() Config {
	return Config{
		MaxPrepared:         100,
		AnalysisCacheSize:   500,
		SlowQueryThreshold:  100 * time.Millisecond,
		SlowLogSize:         100,
		SlowLogWindow:       time.Hour,
		MaxStatementIdle:    30 * time.Minute,
		MinKeepUsage:        5,
		MaintenanceInterval: 5 * time.Minute,
		DefaultLimit:        100,
		DefaultCost:         1000,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.MaxPrepared <= 0 {
		return errors.New("optimizer: MaxPrepared must be positive")
	}
	if c.AnalysisCacheSize <= 0 {
		return errors.New("optimizer: AnalysisCacheSize must be positive")
	}
	if c.SlowLogSize <= 0 {
		return errors.New("optimizer: SlowLogSize must be positive")
	}
	if c.DefaultLimit <= 0 {
		return errors.New("optimizer: DefaultLimit must be positive")
	}
	if c.MaintenanceInterval <= 0 {
		return errors.New("optimizer: MaintenanceInterval must be positive")
	}
	return nil
}

// Optimizer is the query-side counterpart of the cache manager. All
// methods are safe for concurrent use.
type Optimizer struct {
	exec    ExecutionContext
	cfg     Config
	logger  *logging.Logger
	metrics metrics.Collector

	mu            sync.Mutex
	prepared      map[string]*PreparedStatement
	analyses      map[uint64]*analysisEntry
	analysisOrder []uint64
	slow          []SlowQuery
	closed        bool

	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// New creates an optimizer over exec and starts its maintenance loop.
func New(exec ExecutionContext, cfg Config) (*Optimizer, error) {
	if exec == nil {
		return nil, errors.New("optimizer: execution context is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.L().Named("optimizer")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoOpCollector{}
	}

	o := &Optimizer{
		exec:     exec,
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		prepared: make(map[string]*PreparedStatement),
		analyses: make(map[uint64]*analysisEntry),
		ticker:   time.NewTicker(cfg.MaintenanceInterval),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go o.maintainLoop()

	o.logger.Info("query optimizer initialized",
		zap.Int("max_prepared", cfg.MaxPrepared),
		zap.Int("analysis_cache", cfg.AnalysisCacheSize),
		zap.Duration("slow_threshold", cfg.SlowQueryThreshold),
	)
	return o, nil
}

func (o *Optimizer) maintainLoop() {
	defer close(o.done)
	for {
		select {
		case <-o.ticker.C:
			o.Maintain()
		case <-o.stop:
			return
		}
	}
}

// Maintain runs one maintenance pass: drop prepared statements idle past
// MaxStatementIdle with low usage, trim the analysis cache, and prune
// slow-query entries outside the retention window. The background loop
// calls this on every tick; tests may call it directly.
func (o *Optimizer) Maintain() {
	now := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	removed := 0
	for id, st := range o.prepared {
		if now.Sub(st.LastUsedAt) > o.cfg.MaxStatementIdle && st.UsageCount < o.cfg.MinKeepUsage {
			delete(o.prepared, id)
			removed++
		}
	}

	o.trimAnalysesLocked()

	if o.cfg.SlowLogWindow > 0 {
		cutoff := now.Add(-o.cfg.SlowLogWindow)
		kept := o.slow[:0]
		for _, sq := range o.slow {
			if sq.At.After(cutoff) {
				kept = append(kept, sq)
			}
		}
		o.slow = kept
	}

	if removed > 0 {
		o.logger.Debug("removed idle prepared statements", zap.Int("count", removed))
	}
}

// CacheStats reports registry and cache occupancy.
type CacheStats struct {
	AnalysisEntries  int
	AnalysisCapacity int
	PreparedCount    int
	PreparedCapacity int
	SlowQueries      int
}

// CacheStats returns a snapshot of internal occupancy.
func (o *Optimizer) CacheStats() CacheStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	return CacheStats{
		AnalysisEntries:  len(o.analyses),
		AnalysisCapacity: o.cfg.AnalysisCacheSize,
		PreparedCount:    len(o.prepared),
		PreparedCapacity: o.cfg.MaxPrepared,
		SlowQueries:      len(o.slow),
	}
}

// Close stops the maintenance loop. The execution context stays open; it
// belongs to the caller.
func (o *Optimizer) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.ticker.Stop()
	close(o.stop)
	<-o.done
	return nil
}

func (o *Optimizer) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

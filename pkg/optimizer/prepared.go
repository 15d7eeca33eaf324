package optimizer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// PreparedStatement tracks one reusable query template and its
// execution statistics.
type PreparedStatement struct {
	// ID is the content hash of the template text, hex encoded
	ID string

	// Text is the query template
	Text string

	// ParamSignature is the Go type list of the first execution's
	// arguments, e.g. "int,string"
	ParamSignature string

	CreatedAt  time.Time
	LastUsedAt time.Time

	// UsageCount is the number of executions through this template
	UsageCount int64

	// AvgExecMs is the rolling average execution time in milliseconds
	AvgExecMs float64
}

// SlowQuery is one entry in the rolling slow-query log.
type SlowQuery struct {
	Query    string
	Duration time.Duration
	At       time.Time
}

var tableRe = regexp.MustCompile(`(?i)\b(?:from|into|update|join)\s+([a-z_][\w.]*)`)

// tableOf extracts the first table a statement touches, for metric
// labels. Unrecognizable statements label as "unknown".
func tableOf(query string) string {
	if m := tableRe.FindStringSubmatch(query); m != nil {
		return strings.ToLower(m[1])
	}
	return "unknown"
}

// paramSignature renders the argument types, e.g. "int,string,bool".
func paramSignature(args []any) string {
	if len(args) == 0 {
		return ""
	}
	types := make([]string, len(args))
	for i, arg := range args {
		types[i] = fmt.Sprintf("%T", arg)
	}
	return strings.Join(types, ",")
}

// ExecutePrepared runs query through the statement registry: the first
// use registers a template, every use updates its statistics, and
// registrations past capacity evict the coldest template. Execution
// failures wrap in ExecError and always propagate.
func (o *Optimizer) ExecutePrepared(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}

	id := o.register(query, args)
	start := time.Now()
	rows, err := o.exec.Query(ctx, query, args...)
	elapsed := time.Since(start)

	o.recordExecution(id, query, elapsed)

	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordQuery("prepared", tableOf(query), status, elapsed)

	if err != nil {
		return nil, &ExecError{Query: query, Err: err}
	}
	return rows, nil
}

// register returns the statement ID for query, creating the entry on
// first use and evicting past capacity.
func (o *Optimizer) register(query string, args []any) string {
	id := fmt.Sprintf("%016x", xxhash.Sum64String(query))
	now := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if st, ok := o.prepared[id]; ok {
		st.LastUsedAt = now
		st.UsageCount++
		return id
	}

	if len(o.prepared) >= o.cfg.MaxPrepared {
		o.evictStatementLocked()
	}
	o.prepared[id] = &PreparedStatement{
		ID:             id,
		Text:           query,
		ParamSignature: paramSignature(args),
		CreatedAt:      now,
		LastUsedAt:     now,
		UsageCount:     1,
	}
	return id
}

// evictStatementLocked removes the statement with the oldest LastUsedAt
// among the low-usage cohort, so frequently-used templates survive even
// when they are older. Only when every template is hot does it fall back
// to plain oldest-use. Callers must hold o.mu.
func (o *Optimizer) evictStatementLocked() {
	var victim *PreparedStatement
	for _, st := range o.prepared {
		if st.UsageCount >= o.cfg.MinKeepUsage {
			continue
		}
		if victim == nil || st.LastUsedAt.Before(victim.LastUsedAt) {
			victim = st
		}
	}
	if victim == nil {
		for _, st := range o.prepared {
			if victim == nil || st.LastUsedAt.Before(victim.LastUsedAt) {
				victim = st
			}
		}
	}
	if victim == nil {
		return
	}

	delete(o.prepared, victim.ID)
	o.logger.Debug("evicted prepared statement",
		zap.String("id", victim.ID),
		zap.Int64("usage", victim.UsageCount),
	)
}

// recordExecution folds one execution into the statement's rolling
// average and appends to the slow-query log past the threshold.
func (o *Optimizer) recordExecution(id, query string, elapsed time.Duration) {
	ms := float64(elapsed.Microseconds()) / 1000

	o.mu.Lock()
	defer o.mu.Unlock()

	if st, ok := o.prepared[id]; ok && st.UsageCount > 0 {
		st.AvgExecMs += (ms - st.AvgExecMs) / float64(st.UsageCount)
	}

	if o.cfg.SlowQueryThreshold > 0 && elapsed >= o.cfg.SlowQueryThreshold {
		o.slow = append(o.slow, SlowQuery{Query: query, Duration: elapsed, At: time.Now()})
		if len(o.slow) > o.cfg.SlowLogSize {
			copy(o.slow, o.slow[1:])
			o.slow = o.slow[:o.cfg.SlowLogSize]
		}
	}
}

// SlowQueries returns a copy of the slow-query log, oldest first.
func (o *Optimizer) SlowQueries() []SlowQuery {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]SlowQuery(nil), o.slow...)
}

// PreparedStats returns a snapshot of the registry, most-used first.
func (o *Optimizer) PreparedStats() []PreparedStatement {
	o.mu.Lock()
	stats := make([]PreparedStatement, 0, len(o.prepared))
	for _, st := range o.prepared {
		stats = append(stats, *st)
	}
	o.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].UsageCount != stats[j].UsageCount {
			return stats[i].UsageCount > stats[j].UsageCount
		}
		return stats[i].LastUsedAt.After(stats[j].LastUsedAt)
	})
	return stats
}

package optimizer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Plan summarizes how the database executes a query.
type Plan struct {
	Query string

	// EstimatedCost is the planner's total cost for the top node, or the
	// configured default when no real plan was obtained
	EstimatedCost float64

	// IndexHints suggest indexes the plan indicates are missing
	IndexHints []string

	// Suggestions are broader structural improvements
	Suggestions []string

	// ExecMs is the measured execution time in milliseconds, 0 when
	// unavailable
	ExecMs float64

	// Measured is true when the plan came from the database rather than
	// the heuristic fallback
	Measured bool
}

var (
	costRe     = regexp.MustCompile(`cost=\d+\.?\d*\.\.(\d+\.?\d*)`)
	execTimeRe = regexp.MustCompile(`Execution Time: (\d+\.?\d*) ms`)
	actualRe   = regexp.MustCompile(`actual time=\d+\.?\d*\.\.(\d+\.?\d*)`)
	seqScanRe  = regexp.MustCompile(`Seq Scan on (\w+)`)
)

// Explain obtains the execution plan for query and distills it into
// cost, index hints and suggestions. When the database cannot produce a
// plan the heuristic analysis stands in, flagged as not measured; only a
// canceled context turns into an error.
func (o *Optimizer) Explain(ctx context.Context, query string) (Plan, error) {
	if o.isClosed() {
		return Plan{}, ErrClosed
	}

	start := time.Now()
	lines, err := o.exec.ExplainAnalyze(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return Plan{}, &ExecError{Query: query, Err: err}
		}
		o.logger.Warn("explain failed, falling back to heuristic plan",
			zap.String("query", truncateQuery(query)),
			zap.Error(err),
		)
		o.metrics.RecordQuery("explain", tableOf(query), "fallback", time.Since(start))
		return o.heuristicPlan(query), nil
	}

	o.metrics.RecordQuery("explain", tableOf(query), "ok", time.Since(start))
	return parsePlan(query, lines), nil
}

// heuristicPlan builds a plan from the static analysis when no real plan
// is available.
func (o *Optimizer) heuristicPlan(query string) Plan {
	analysis := o.Analyze(query)
	return Plan{
		Query:         query,
		EstimatedCost: o.cfg.DefaultCost,
		Suggestions:   analysis.Improvements,
		Measured:      false,
	}
}

// parsePlan extracts cost, timing and structural markers from EXPLAIN
// ANALYZE text output.
func parsePlan(query string, lines []string) Plan {
	plan := Plan{Query: query, Measured: true}

	for _, line := range lines {
		if plan.EstimatedCost == 0 {
			if m := costRe.FindStringSubmatch(line); m != nil {
				plan.EstimatedCost, _ = strconv.ParseFloat(m[1], 64)
			}
		}
		if m := execTimeRe.FindStringSubmatch(line); m != nil {
			plan.ExecMs, _ = strconv.ParseFloat(m[1], 64)
		} else if plan.ExecMs == 0 {
			if m := actualRe.FindStringSubmatch(line); m != nil {
				plan.ExecMs, _ = strconv.ParseFloat(m[1], 64)
			}
		}

		if m := seqScanRe.FindStringSubmatch(line); m != nil {
			plan.IndexHints = appendUnique(plan.IndexHints,
				fmt.Sprintf("sequential scan on %s; consider an index on its filter columns", m[1]))
		}
		if strings.Contains(line, "Hash Join") {
			plan.Suggestions = appendUnique(plan.Suggestions,
				"hash join present; verify both join keys are indexed")
		}
		if strings.Contains(line, "Nested Loop") {
			plan.Suggestions = appendUnique(plan.Suggestions,
				"nested loop join; the inner side should be an index lookup")
		}
		if strings.Contains(line, "Sort") && !strings.Contains(line, "Sort Key") {
			plan.Suggestions = appendUnique(plan.Suggestions,
				"explicit sort step; an index matching ORDER BY could remove it")
		}
	}

	return plan
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

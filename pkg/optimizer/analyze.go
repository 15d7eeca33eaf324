package optimizer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Analysis is the outcome of inspecting one query text. The rewrite is
// advisory: it is not guaranteed semantically identical and must be
// validated by the caller before use on correctness-sensitive paths.
type Analysis struct {
	// Query is the text as analyzed
	Query string

	// Rewritten is the best-effort improved form; equal to Query when no
	// rewrite applied
	Rewritten string

	// Improvements are suggestions and applied rewrites, human-readable
	Improvements []string

	// Issues are detected anti-patterns and risks
	Issues []string
}

var (
	selectRe      = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
	singleRowRe   = regexp.MustCompile(`(?i)\bwhere\s+(?:\w+\.)?\w*id\s*=\s*(?:\$\d+|\?)`)
	limitRe       = regexp.MustCompile(`(?i)\blimit\s+(?:\d+|\$\d+|\?)`)
	commaJoinRe   = regexp.MustCompile(`(?i)\bfrom\s+([a-z_]\w*)(\s+(?:as\s+)?[a-z_]\w*)?\s*,\s*([a-z_]\w*)(\s+(?:as\s+)?[a-z_]\w*)?`)
	joinCondRe    = regexp.MustCompile(`(?i)\b([a-z_]\w*)\.(\w+)\s*=\s*([a-z_]\w*)\.(\w+)`)
	leadingWildRe = regexp.MustCompile(`(?i)\blike\s+'%`)
	countStarRe   = regexp.MustCompile(`(?i)^\s*select\s+count\(\s*\*\s*\)`)
)

// Analyze inspects query text for known anti-patterns and produces a
// best-effort rewrite. Results are cached by content hash; the analysis
// itself is pure, so identical text always yields the identical result.
// Analyze never fails: an internal panic degrades to a single-issue
// analysis with the query unchanged.
func (o *Optimizer) Analyze(query string) (analysis Analysis) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("query analysis panicked",
				zap.String("query", truncateQuery(query)),
				zap.Any("panic", r),
			)
			analysis = Analysis{
				Query:     query,
				Rewritten: query,
				Issues:    []string{"analysis failed; using the query unchanged"},
			}
		}
	}()

	sum := xxhash.Sum64String(query)

	o.mu.Lock()
	if cached, ok := o.analyses[sum]; ok {
		o.mu.Unlock()
		return cached.analysis
	}
	o.mu.Unlock()

	analysis = analyzeQuery(query, o.cfg.DefaultLimit)

	o.mu.Lock()
	if _, ok := o.analyses[sum]; !ok {
		o.analyses[sum] = &analysisEntry{analysis: analysis, at: time.Now()}
		o.analysisOrder = append(o.analysisOrder, sum)
		o.trimAnalysesLocked()
	}
	o.mu.Unlock()

	return analysis
}

// analyzeQuery applies the heuristic checks in a fixed order: single-row
// N+1 shape, missing bound, implicit comma join, leading-wildcard LIKE,
// COUNT(*) existence check. Rewrites stack onto one working copy.
func analyzeQuery(query string, defaultLimit int) Analysis {
	a := Analysis{Query: query, Rewritten: query}

	// rewrites target reads; statements that modify data pass through
	if !selectRe.MatchString(query) {
		return a
	}

	singleRow := singleRowRe.MatchString(query)
	if singleRow {
		a.Issues = append(a.Issues, "single-row lookup by id; repeated calls form an N+1 pattern")
		a.Improvements = append(a.Improvements, "batch sibling lookups with WHERE id = ANY($1)")
	}

	// a single-row lookup is inherently bounded, so the LIMIT check only
	// applies to everything else
	if !singleRow && !limitRe.MatchString(query) && !countStarRe.MatchString(query) {
		a.Issues = append(a.Issues, "no LIMIT clause on a potentially unbounded result")
		a.Rewritten = appendLimit(a.Rewritten, defaultLimit)
		a.Improvements = append(a.Improvements, fmt.Sprintf("added LIMIT %d as a default bound", defaultLimit))
	}

	if m := commaJoinRe.FindStringSubmatchIndex(a.Rewritten); m != nil {
		q := a.Rewritten
		left, right := q[m[2]:m[3]], q[m[6]:m[7]]
		leftAlias, rightAlias := captureGroup(q, m, 2), captureGroup(q, m, 4)

		a.Issues = append(a.Issues, "implicit comma join risks a cartesian product")
		cond := findJoinCondition(q, left, right)
		// Rewriting an aliased join would orphan the alias references, so
		// only unaliased table pairs are rewritten. Only the matched span is
		// replaced; a second comma join elsewhere has its own condition.
		if cond != "" && aliasOf(leftAlias) == "" && aliasOf(rightAlias) == "" {
			a.Rewritten = q[:m[0]] + "FROM " + left + " JOIN " + right + " ON " + cond + rightAlias + q[m[1]:]
			a.Improvements = append(a.Improvements, "rewrote the comma join as an explicit JOIN ... ON")
		}
	}

	if leadingWildRe.MatchString(a.Rewritten) {
		a.Issues = append(a.Issues, "leading-wildcard LIKE cannot use an index")
		a.Rewritten = leadingWildRe.ReplaceAllStringFunc(a.Rewritten, func(match string) string {
			return match[:len(match)-1]
		})
		a.Improvements = append(a.Improvements, "stripped the leading wildcard; verify prefix matching suffices")
	}

	if countStarRe.MatchString(query) && strings.Contains(strings.ToLower(query), " where ") {
		a.Improvements = append(a.Improvements, "COUNT(*) used as an existence check; EXISTS (SELECT 1 ...) stops at the first row")
	}

	return a
}

// sqlKeywords holds tokens the optional alias captures of commaJoinRe can
// swallow even though they are not aliases.
var sqlKeywords = map[string]struct{}{
	"where": {}, "join": {}, "inner": {}, "left": {}, "right": {}, "full": {},
	"cross": {}, "on": {}, "limit": {}, "offset": {}, "group": {}, "order": {},
	"having": {}, "union": {}, "intersect": {}, "except": {},
}

// captureGroup returns the text of capture group i from a SubmatchIndex
// result, or "" when the group did not participate in the match.
func captureGroup(s string, m []int, i int) string {
	if m[2*i] < 0 {
		return ""
	}
	return s[m[2*i]:m[2*i+1]]
}

// aliasOf normalizes an alias capture, returning "" when the capture is
// empty or actually a trailing SQL keyword.
func aliasOf(capture string) string {
	alias := strings.ToLower(strings.TrimSpace(capture))
	alias = strings.TrimSpace(strings.TrimPrefix(alias, "as "))
	if _, ok := sqlKeywords[alias]; ok {
		return ""
	}
	return alias
}

// findJoinCondition returns the first WHERE equality joining the two
// tables, in either order. Empty when none exists; the comma join is
// then a genuine cartesian product and no rewrite is safe.
func findJoinCondition(query, left, right string) string {
	l, r := strings.ToLower(left), strings.ToLower(right)
	for _, m := range joinCondRe.FindAllStringSubmatch(query, -1) {
		a, b := strings.ToLower(m[1]), strings.ToLower(m[3])
		if (a == l && b == r) || (a == r && b == l) {
			return fmt.Sprintf("%s.%s = %s.%s", m[1], m[2], m[3], m[4])
		}
	}
	return ""
}

func appendLimit(query string, limit int) string {
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(query, " \t\n;"), limit)
}

// analysisEntry tracks when an analysis entered the cache so trimming
// can drop the oldest entries first.
type analysisEntry struct {
	analysis Analysis
	at       time.Time
}

// trimAnalysesLocked drops the oldest fifth of the analysis cache once
// it passes 80% of capacity. Callers must hold o.mu.
func (o *Optimizer) trimAnalysesLocked() {
	limit := o.cfg.AnalysisCacheSize
	if limit <= 0 || len(o.analyses) <= limit*8/10 {
		return
	}

	drop := limit / 5
	if drop < 1 {
		drop = 1
	}
	if drop > len(o.analysisOrder) {
		drop = len(o.analysisOrder)
	}
	for _, sum := range o.analysisOrder[:drop] {
		delete(o.analyses, sum)
	}
	o.analysisOrder = append(o.analysisOrder[:0], o.analysisOrder[drop:]...)
}

package optimizer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BatchQuery is one parameterized statement in a batch.
type BatchQuery struct {
	Query string
	Args  []any
}

// BatchResult holds the outcome of one statement from an independent
// batch; in transactional mode a failure aborts the whole batch instead.
type BatchResult struct {
	Rows []map[string]any
	Err  error
}

// ExecuteBatch runs the statements either inside one transaction
// (abort on the first error, all-or-nothing) or as independent prepared
// executions where each result carries its own error and partial success
// is possible. Transactional mode is the right default for multi-
// statement writes that must stay atomic.
func (o *Optimizer) ExecuteBatch(ctx context.Context, queries []BatchQuery, useTransaction bool) ([]BatchResult, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	if len(queries) == 0 {
		return nil, nil
	}

	results := make([]BatchResult, len(queries))

	if useTransaction {
		start := time.Now()
		err := o.exec.Transaction(ctx, func(tx ExecutionContext) error {
			for i, q := range queries {
				rows, qerr := tx.Query(ctx, q.Query, q.Args...)
				if qerr != nil {
					return &ExecError{Query: q.Query, Err: qerr}
				}
				results[i] = BatchResult{Rows: rows}
			}
			return nil
		})
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordQuery("batch_tx", tableOf(queries[0].Query), status, time.Since(start))
		if err != nil {
			o.logger.Warn("transactional batch rolled back",
				zap.Int("statements", len(queries)),
				zap.Error(err),
			)
			return nil, err
		}
		return results, nil
	}

	for i, q := range queries {
		rows, err := o.ExecutePrepared(ctx, q.Query, q.Args...)
		results[i] = BatchResult{Rows: rows, Err: err}
	}
	return results, nil
}

package optimizer

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed optimizer.
var ErrClosed = errors.New("optimizer: closed")

// ExecError wraps a failure from the execution context. Unlike analysis
// problems, which degrade, an execution failure is a real query failure
// and always reaches the caller.
type ExecError struct {
	Query string
	Err   error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("optimizer: execute %q: %v", truncateQuery(e.Query), e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// truncateQuery shortens long statements for error messages and logs.
func truncateQuery(query string) string {
	const max = 80
	if len(query) <= max {
		return query
	}
	return query[:max] + "..."
}

package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Common cache operation errors.
// These are the standard errors that tier implementations should return.
var (
	// ErrKeyNotFound is returned when a requested key does not exist in a tier
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrCacheMiss is returned by cache-only reads when no tier holds the key
	ErrCacheMiss = errors.New("cache: miss")

	// ErrInvalidKey is returned when a cache key is invalid (empty, too long, contains invalid characters)
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrInvalidValue is returned when a value cannot be serialized for storage
	ErrInvalidValue = errors.New("cache: invalid value")

	// ErrStoreUnavailable is returned when a tier is temporarily unreachable
	ErrStoreUnavailable = errors.New("cache: store unavailable")

	// ErrTimeout is returned when a cache operation times out
	ErrTimeout = errors.New("cache: operation timeout")

	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("cache: circuit breaker open")

	// ErrStoreClosed is returned when an operation runs against a closed tier
	ErrStoreClosed = errors.New("cache: store closed")
)

// OperationError wraps a tier failure with the operation and key it hit.
// Read paths degrade these to misses; write paths log them.
type OperationError struct {
	// Op is the operation that failed (e.g. "get", "set", "invalidate_tag")
	Op string

	// Level is the tier the failure came from
	Level Level

	// Key is the cache key involved, empty for multi-key operations
	Key string

	// Err is the underlying error
	Err error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s %s: %v", e.Level, e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s %q: %v", e.Level, e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// NewOperationError wraps err with tier, operation and key context.
// Returns nil if err is nil.
func NewOperationError(op string, level Level, key string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Level: level, Key: key, Err: err}
}

// IsNotFound checks if the given error indicates that a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrCacheMiss)
}

// IsTimeout checks if the given error indicates a timeout occurred.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable checks if the given error indicates a tier is unreachable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsCircuitOpen checks if the given error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ClassifyError returns a string classification of the error type for metrics.
// This keeps label cardinality bounded no matter what the tiers return.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrCacheMiss):
		return "miss"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, ErrStoreClosed):
		return "closed"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case containsAny(msg, "connection", "connect", "dial", "broken pipe"):
			return "connection"
		case containsAny(msg, "marshal", "unmarshal", "encode", "decode", "json"):
			return "serialization"
		case containsAny(msg, "redis"):
			return "backend"
		default:
			return "other"
		}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

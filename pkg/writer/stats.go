package writer

import "errors"

// Stats holds writer statistics.
type Stats struct {
	// QueueDepth is the number of jobs currently queued
	QueueDepth int

	// Dropped counts jobs dropped because the queue stayed full
	Dropped int64

	// Total counts jobs accepted into the queue
	Total int64

	// Failed counts jobs whose Run returned an error
	Failed int64
}

var (
	// ErrQueueFull is returned when the queue is full and the job was dropped
	ErrQueueFull = errors.New("writer: queue full, write dropped")

	// ErrWriterClosed is returned when enqueueing on a closed writer
	ErrWriterClosed = errors.New("writer: writer is closed")

	// ErrFlushTimeout is returned when Flush exceeds its timeout
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)

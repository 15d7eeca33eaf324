// Package writer provides a non-blocking queue for best-effort writes.
// Remote cache writes go through it so a slow or down store never blocks
// the read path; under sustained backpressure writes are dropped and
// counted rather than queued without bound.
package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cachefront/pkg/logging"
	"cachefront/pkg/metrics"

	"go.uber.org/zap"
)

// Job is one unit of deferred work. Run receives a fresh context bounded
// by the configured job timeout, never the caller's.
type Job struct {
	// Key is the cache key the job concerns, for logging
	Key string

	// Op labels the kind of write (e.g. "set", "tag", "delete")
	Op string

	// Run performs the write
	Run func(ctx context.Context) error
}

// Config configures the async writer.
type Config struct {
	// Component names this writer in logs and metrics (default: "writer")
	Component string

	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWait is the max time Enqueue blocks when the queue is full
	// before dropping the job (default: 10ms)
	MaxWait time.Duration

	// JobTimeout bounds each job's execution (default: 5s)
	JobTimeout time.Duration

	// Logger for failed and dropped jobs (default: no-op)
	Logger *logging.Logger

	// Metrics collector (default: no-op)
	Metrics metrics.Collector
}

// Writer runs jobs on a worker pool fed by a bounded queue.
// It starts processing immediately and must be closed with Close().
type Writer struct {
	queue   chan Job
	cfg     Config
	logger  *logging.Logger
	metrics metrics.Collector

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Statistics (accessed atomically)
	dropped   int64
	total     int64
	failed    int64
	completed int64

	depthTicker *time.Ticker
	depthStop   chan struct{}
}

// New creates an async writer and starts its worker pool.
func New(cfg Config) *Writer {
	if cfg.Component == "" {
		cfg.Component = "writer"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 10 * time.Millisecond
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoOpCollector{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Writer{
		queue:       make(chan Job, cfg.QueueSize),
		cfg:         cfg,
		logger:      cfg.Logger.Named(cfg.Component),
		metrics:     cfg.Metrics,
		ctx:         ctx,
		cancel:      cancel,
		depthTicker: time.NewTicker(5 * time.Second),
		depthStop:   make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	go w.reportDepth()

	return w
}

// Enqueue queues a job without blocking beyond MaxWait. If the queue is
// still full after MaxWait the job is dropped and ErrQueueFull returned.
func (w *Writer) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-w.ctx.Done():
		return ErrWriterClosed
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(w.cfg.MaxWait)
	defer timer.Stop()

	select {
	case w.queue <- job:
		atomic.AddInt64(&w.total, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&w.dropped, 1)
		w.metrics.RecordWriteDropped(w.cfg.Component)
		w.logger.Warn("write dropped, queue full",
			zap.String("key", job.Key),
			zap.String("op", job.Op),
		)
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrWriterClosed
	}
}

// worker processes jobs from the queue.
func (w *Writer) worker() {
	defer w.wg.Done()

	for {
		select {
		case job, ok := <-w.queue:
			if !ok {
				return
			}
			w.run(job)
		case <-w.ctx.Done():
			// Drain remaining jobs before exiting.
			for {
				select {
				case job, ok := <-w.queue:
					if !ok {
						return
					}
					w.run(job)
				default:
					return
				}
			}
		}
	}
}

// run executes one job with its own timeout and records the outcome.
func (w *Writer) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)

	w.metrics.RecordAsyncWrite(w.cfg.Component, err == nil, duration)

	if err != nil {
		atomic.AddInt64(&w.failed, 1)
		w.logger.Warn("async write failed",
			zap.String("key", job.Key),
			zap.String("op", job.Op),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}

	atomic.AddInt64(&w.completed, 1)
}

// Flush waits for all pending jobs to complete or until timeout.
// A job counts as pending until its Run has returned, not merely until
// it leaves the queue.
func (w *Writer) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if atomic.LoadInt64(&w.completed) == atomic.LoadInt64(&w.total) {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(time.Millisecond)
	}
}

// Close stops accepting new jobs, drains the queue and waits for the
// workers to finish.
func (w *Writer) Close() error {
	close(w.depthStop)
	w.depthTicker.Stop()

	w.cancel()
	w.wg.Wait()

	return nil
}

// reportDepth periodically reports queue depth.
func (w *Writer) reportDepth() {
	for {
		select {
		case <-w.depthTicker.C:
			w.metrics.RecordQueueDepth(w.cfg.Component, len(w.queue))
		case <-w.depthStop:
			return
		}
	}
}

// Stats returns current writer statistics.
func (w *Writer) Stats() Stats {
	return Stats{
		QueueDepth: len(w.queue),
		Dropped:    atomic.LoadInt64(&w.dropped),
		Total:      atomic.LoadInt64(&w.total),
		Failed:     atomic.LoadInt64(&w.failed),
	}
}

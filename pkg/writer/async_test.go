package writer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func recordJob(mu *sync.Mutex, seen *[]string, key string) Job {
	return Job{
		Key: key,
		Op:  "set",
		Run: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			*seen = append(*seen, key)
			return nil
		},
	}
}

func TestNew(t *testing.T) {
	w := New(Config{
		QueueSize: 100,
		Workers:   4,
		MaxWait:   5 * time.Millisecond,
	})
	defer w.Close()

	if w == nil {
		t.Fatal("New returned nil")
	}

	if cap(w.queue) != 100 {
		t.Errorf("Expected queue size 100, got %d", cap(w.queue))
	}

	if w.cfg.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", w.cfg.Workers)
	}
}

func TestNew_Defaults(t *testing.T) {
	w := New(Config{})
	defer w.Close()

	if cap(w.queue) != 1000 {
		t.Errorf("Expected default queue size 1000, got %d", cap(w.queue))
	}

	if w.cfg.Workers != 2 {
		t.Errorf("Expected default workers 2, got %d", w.cfg.Workers)
	}

	if w.cfg.MaxWait != 10*time.Millisecond {
		t.Errorf("Expected default MaxWait 10ms, got %v", w.cfg.MaxWait)
	}

	if w.cfg.Component != "writer" {
		t.Errorf("Expected default component writer, got %q", w.cfg.Component)
	}
}

func TestWriter_Enqueue(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	w := New(Config{
		QueueSize: 10,
		Workers:   1,
		MaxWait:   10 * time.Millisecond,
	})
	defer w.Close()

	err := w.Enqueue(context.Background(), recordJob(&mu, &seen, "key1"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Wait for processing
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(seen) != 1 || seen[0] != "key1" {
		t.Errorf("Expected [key1], got %v", seen)
	}

	stats := w.Stats()
	if stats.Total != 1 {
		t.Errorf("Expected 1 total job, got %d", stats.Total)
	}
}

func TestWriter_ConcurrentEnqueue(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	w := New(Config{
		QueueSize: 100,
		Workers:   4,
		MaxWait:   10 * time.Millisecond,
	})
	defer w.Close()

	var wg sync.WaitGroup
	numJobs := 50

	for i := 0; i < numJobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := w.Enqueue(context.Background(), recordJob(&mu, &seen, fmt.Sprintf("key%d", i)))
			if err != nil {
				t.Errorf("Enqueue %d failed: %v", i, err)
			}
		}(i)
	}

	wg.Wait()

	// Wait for all jobs to process
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(seen) != numJobs {
		t.Errorf("Expected %d jobs run, got %d", numJobs, len(seen))
	}

	stats := w.Stats()
	if stats.Total != int64(numJobs) {
		t.Errorf("Expected %d total jobs, got %d", numJobs, stats.Total)
	}
}

func TestWriter_Backpressure(t *testing.T) {
	// Block the single worker on the first job so the queue fills up.
	firstJob := make(chan struct{})
	var jobCount int
	var mu sync.Mutex

	blocking := func(ctx context.Context) error {
		mu.Lock()
		jobCount++
		isFirst := jobCount == 1
		mu.Unlock()

		if isFirst {
			<-firstJob
		}
		return nil
	}

	w := New(Config{
		QueueSize: 5,
		Workers:   1,
		MaxWait:   10 * time.Millisecond,
	})
	defer func() {
		close(firstJob)
		w.Close()
	}()

	// First job goes to the worker and blocks, the next 5 fill the queue.
	for i := 0; i < 6; i++ {
		err := w.Enqueue(context.Background(), Job{Key: fmt.Sprintf("key%d", i), Op: "set", Run: blocking})
		if err != nil {
			t.Fatalf("Enqueue %d failed unexpectedly: %v", i, err)
		}
		time.Sleep(1 * time.Millisecond)
	}

	// Queue is full, the next job should drop.
	err := w.Enqueue(context.Background(), Job{Key: "key-extra", Op: "set", Run: blocking})
	if err != ErrQueueFull {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	stats := w.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Expected 1 dropped job, got %d", stats.Dropped)
	}

	if stats.Total != 6 {
		t.Errorf("Expected 6 accepted jobs, got %d", stats.Total)
	}
}

func TestWriter_ContextCancellation(t *testing.T) {
	w := New(Config{
		QueueSize: 10,
		Workers:   1,
		MaxWait:   100 * time.Millisecond,
	})
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Enqueue(ctx, Job{Key: "key", Op: "set", Run: func(ctx context.Context) error { return nil }})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestWriter_FailedJob(t *testing.T) {
	var ran int64

	w := New(Config{
		QueueSize: 10,
		Workers:   1,
		MaxWait:   10 * time.Millisecond,
	})
	defer w.Close()

	err := w.Enqueue(context.Background(), Job{
		Key: "key",
		Op:  "set",
		Run: func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			return fmt.Errorf("backend down")
		},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Wait for processing
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt64(&ran) != 1 {
		t.Errorf("Expected job to run once, ran %d times", atomic.LoadInt64(&ran))
	}

	stats := w.Stats()
	if stats.Failed != 1 {
		t.Errorf("Expected 1 failed job in stats, got %d", stats.Failed)
	}
}

func TestWriter_JobTimeout(t *testing.T) {
	var gotDeadline atomic.Bool

	w := New(Config{
		QueueSize:  10,
		Workers:    1,
		MaxWait:    10 * time.Millisecond,
		JobTimeout: 20 * time.Millisecond,
	})
	defer w.Close()

	err := w.Enqueue(context.Background(), Job{
		Key: "key",
		Op:  "set",
		Run: func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			gotDeadline.Store(ok)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if !gotDeadline.Load() {
		t.Error("Expected job context to carry a deadline")
	}
}

func TestWriter_Flush(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	slow := func(key string) Job {
		return Job{
			Key: key,
			Op:  "set",
			Run: func(ctx context.Context) error {
				time.Sleep(20 * time.Millisecond)
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, key)
				return nil
			},
		}
	}

	w := New(Config{
		QueueSize: 10,
		Workers:   2,
		MaxWait:   10 * time.Millisecond,
	})
	defer w.Close()

	for i := 0; i < 5; i++ {
		err := w.Enqueue(context.Background(), slow(fmt.Sprintf("key%d", i)))
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}

	err := w.Flush(1 * time.Second)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// Flush returns only after every accepted job has finished running.
	mu.Lock()
	defer mu.Unlock()

	if len(seen) != 5 {
		t.Errorf("Expected 5 jobs after flush, got %d", len(seen))
	}
}

func TestWriter_FlushTimeout(t *testing.T) {
	blocker := make(chan struct{})
	var once sync.Once

	blocking := func(ctx context.Context) error {
		once.Do(func() {
			<-blocker
		})
		return nil
	}

	w := New(Config{
		QueueSize: 10,
		Workers:   1,
		MaxWait:   10 * time.Millisecond,
	})
	defer func() {
		close(blocker)
		w.Close()
	}()

	for i := 0; i < 3; i++ {
		w.Enqueue(context.Background(), Job{Key: fmt.Sprintf("key%d", i), Op: "set", Run: blocking})
	}

	err := w.Flush(50 * time.Millisecond)
	if err != ErrFlushTimeout {
		t.Errorf("Expected ErrFlushTimeout, got %v", err)
	}
}

func TestWriter_Close(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	slow := func(key string) Job {
		return Job{
			Key: key,
			Op:  "set",
			Run: func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, key)
				return nil
			},
		}
	}

	w := New(Config{
		QueueSize: 10,
		Workers:   2,
		MaxWait:   10 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		err := w.Enqueue(context.Background(), slow(fmt.Sprintf("key%d", i)))
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}

	// Close drains the queue before returning.
	err := w.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(seen) != 3 {
		t.Errorf("Expected 3 jobs after close, got %d", len(seen))
	}
}

func TestWriter_EnqueueAfterClose(t *testing.T) {
	w := New(Config{
		QueueSize: 10,
		Workers:   1,
		MaxWait:   10 * time.Millisecond,
	})

	w.Close()

	err := w.Enqueue(context.Background(), Job{Key: "key", Op: "set", Run: func(ctx context.Context) error { return nil }})
	if err != ErrWriterClosed {
		t.Errorf("Expected ErrWriterClosed, got %v", err)
	}
}

func TestWriter_Stats(t *testing.T) {
	w := New(Config{
		QueueSize: 10,
		Workers:   1,
		MaxWait:   10 * time.Millisecond,
	})
	defer w.Close()

	stats := w.Stats()
	if stats.Total != 0 {
		t.Errorf("Expected 0 initial jobs, got %d", stats.Total)
	}

	for i := 0; i < 3; i++ {
		w.Enqueue(context.Background(), Job{Key: fmt.Sprintf("key%d", i), Op: "set", Run: func(ctx context.Context) error { return nil }})
	}

	stats = w.Stats()
	if stats.Total != 3 {
		t.Errorf("Expected 3 total jobs, got %d", stats.Total)
	}

	if stats.QueueDepth > 3 {
		t.Errorf("Expected queue depth <= 3, got %d", stats.QueueDepth)
	}
}

func TestWriter_Ordering(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	w := New(Config{
		QueueSize: 20,
		Workers:   1, // Single worker ensures FIFO
		MaxWait:   10 * time.Millisecond,
	})
	defer w.Close()

	keys := []string{"key1", "key2", "key3", "key4", "key5"}
	for _, key := range keys {
		w.Enqueue(context.Background(), recordJob(&mu, &seen, key))
	}

	// Wait for processing
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(seen) != len(keys) {
		t.Fatalf("Expected %d jobs, got %d", len(keys), len(seen))
	}

	for i, key := range keys {
		if seen[i] != key {
			t.Errorf("Expected job %d to be %s, got %s", i, key, seen[i])
		}
	}
}

func BenchmarkWriter_Enqueue(b *testing.B) {
	w := New(Config{
		QueueSize: 10000,
		Workers:   4,
		MaxWait:   10 * time.Millisecond,
	})
	defer w.Close()

	job := Job{Key: "key", Op: "set", Run: func(ctx context.Context) error { return nil }}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Enqueue(context.Background(), job)
	}
}

func BenchmarkWriter_ConcurrentEnqueue(b *testing.B) {
	w := New(Config{
		QueueSize: 10000,
		Workers:   4,
		MaxWait:   10 * time.Millisecond,
	})
	defer w.Close()

	job := Job{Key: "key", Op: "set", Run: func(ctx context.Context) error { return nil }}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			w.Enqueue(context.Background(), job)
		}
	})
}

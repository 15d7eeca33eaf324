package manager

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cachefront/pkg/cache"
	"cachefront/pkg/cache/mock"
	"cachefront/pkg/logging"
	memorymetrics "cachefront/pkg/metrics/memory"
)

// newMeteredManager builds a manager wired to an in-memory collector.
func newMeteredManager(t *testing.T, store cache.RemoteStore) (*Manager, *memorymetrics.Collector) {
	t.Helper()

	mc := memorymetrics.New()
	cfg := newTestConfig()
	opts := []Option{WithLogger(logging.NewNop()), WithMetrics(mc)}
	if store == nil {
		cfg.Remote.Enabled = false
		cfg.Invalidation.Enabled = false
	} else {
		opts = append(opts, WithRemote(store))
	}

	m, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, mc
}

func TestManager_RecordsCacheOps(t *testing.T) {
	m, mc := newMeteredManager(t, nil)
	ctx := context.Background()

	if _, err := m.Get(ctx, cache.Key{Key: "user:1"}, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mc.CacheOps("read", "all", "miss"); got != 1 {
		t.Errorf("read miss count = %d, want 1", got)
	}

	if err := m.Set(ctx, cache.Key{Key: "user:1"}, account{ID: 1}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := mc.CacheOps("write", "all", "none"); got != 1 {
		t.Errorf("write count = %d, want 1", got)
	}

	if _, err := m.Get(ctx, cache.Key{Key: "user:1"}, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mc.CacheOps("read", "l2", "hit"); got != 1 {
		t.Errorf("l2 hit count = %d, want 1", got)
	}

	if _, err := m.Delete(ctx, cache.Key{Key: "user:1"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := mc.CacheOps("delete", "all", "none"); got != 1 {
		t.Errorf("delete count = %d, want 1", got)
	}
}

func TestManager_RecordsRemoteTierMetrics(t *testing.T) {
	store := mock.New()
	writerSide, _ := newMeteredManager(t, store)
	readerSide, mc := newMeteredManager(t, store)
	ctx := context.Background()

	if err := writerSide.Set(ctx, cache.Key{Key: "user:9", TTL: time.Minute}, account{ID: 9}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	mustFlush(t, writerSide)

	// The reader has nothing in L2, so the hit is served by L3.
	res, err := readerSide.Get(ctx, cache.Key{Key: "user:9"}, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !res.Hit || res.Level != cache.LevelL3 {
		t.Fatalf("Get() = %+v, want L3 hit", res)
	}
	if got := mc.CacheOps("read", "l3", "hit"); got != 1 {
		t.Errorf("l3 hit count = %d, want 1", got)
	}
}

func TestManager_RecordsAsyncWrites(t *testing.T) {
	store := mock.New()
	m, mc := newMeteredManager(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := cache.Key{Key: fmt.Sprintf("job:%d", i), TTL: time.Minute}
		if err := m.Set(ctx, key, i); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	mustFlush(t, m)

	writes, failures := mc.AsyncWrites("remote")
	if writes != 3 {
		t.Errorf("async writes = %d, want 3", writes)
	}
	if failures != 0 {
		t.Errorf("async failures = %d, want 0", failures)
	}
}

func TestManager_RecordsInvalidations(t *testing.T) {
	store := mock.New()
	m, mc := newMeteredManager(t, store)
	ctx := context.Background()

	m.Set(ctx, cache.Key{Key: "user:1", Tags: []string{"users"}}, account{ID: 1})
	m.Set(ctx, cache.Key{Key: "user:2", Tags: []string{"users"}}, account{ID: 2})
	mustFlush(t, m)

	if _, err := m.InvalidateByTag(ctx, "users"); err != nil {
		t.Fatalf("InvalidateByTag() error = %v", err)
	}

	count, keys := mc.Invalidations("tag")
	if count != 1 || keys != 2 {
		t.Errorf("tag invalidations = %d/%d keys, want 1/2", count, keys)
	}
}

func TestManager_MonitoringDisabled(t *testing.T) {
	mc := memorymetrics.New()
	cfg := newTestConfig()
	cfg.Remote.Enabled = false
	cfg.Invalidation.Enabled = false
	cfg.Monitoring.Enabled = false

	m, err := New(cfg, WithLogger(logging.NewNop()), WithMetrics(mc))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })

	ctx := context.Background()
	m.Set(ctx, cache.Key{Key: "user:1"}, account{ID: 1})
	m.Get(ctx, cache.Key{Key: "user:1"}, nil)

	if got := mc.CacheOps("write", "all", "none") + mc.CacheOps("read", "l2", "hit"); got != 0 {
		t.Errorf("collector recorded %d ops with monitoring disabled, want 0", got)
	}
}

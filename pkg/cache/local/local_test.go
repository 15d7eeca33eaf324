package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cachefront/pkg/cache"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()

	if cfg.Name == "" {
		cfg.Name = "test"
	}
	if cfg.TTL.Default == 0 {
		cfg.TTL.Default = time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetSet(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	err := s.Set(ctx, "user:1", []byte(`{"name":"ada"}`), 0)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, ok := s.Get(ctx, "user:1")
	if !ok {
		t.Fatal("Get should find the key")
	}
	if string(entry.Value) != `{"name":"ada"}` {
		t.Errorf("Get value = %q, want %q", entry.Value, `{"name":"ada"}`)
	}
	if entry.HitCount != 1 {
		t.Errorf("HitCount = %d, want 1", entry.HitCount)
	}
	if entry.Size <= len("user:1") {
		t.Errorf("Size = %d, should account for key, value and overhead", entry.Size)
	}
}

func TestStore_GetMiss(t *testing.T) {
	s := newTestStore(t, Config{})

	if _, ok := s.Get(context.Background(), "missing"); ok {
		t.Error("Get should miss for unknown key")
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "key1", []byte("v"), 0)

	if !s.Delete(ctx, "key1") {
		t.Error("Delete of existing key should report true")
	}
	if s.Delete(ctx, "key1") {
		t.Error("Delete of missing key should report false")
	}
	if _, ok := s.Get(ctx, "key1"); ok {
		t.Error("key should be gone after Delete")
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "short", []byte("v"), 30*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	// Sweeper has not run yet; the entry is still counted.
	if got := s.Len(); got != 1 {
		t.Fatalf("Len before read = %d, want 1", got)
	}

	// An expired entry reads as a miss and is removed eagerly.
	if _, ok := s.Get(ctx, "short"); ok {
		t.Error("expired entry should read as a miss")
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len after expired read = %d, want 0", got)
	}

	stats := s.Stats()
	if stats.Expirations != 1 {
		t.Errorf("Expirations = %d, want 1", stats.Expirations)
	}
}

func TestStore_GetStale(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "fresh", []byte("f"), time.Hour)
	s.Set(ctx, "old", []byte("o"), 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	entry, stale, ok := s.GetStale(ctx, "fresh")
	if !ok || stale {
		t.Errorf("GetStale(fresh) = stale %v ok %v, want fresh hit", stale, ok)
	}
	if string(entry.Value) != "f" {
		t.Errorf("GetStale(fresh) value = %q, want \"f\"", entry.Value)
	}

	entry, stale, ok = s.GetStale(ctx, "old")
	if !ok || !stale {
		t.Errorf("GetStale(old) = stale %v ok %v, want stale hit", stale, ok)
	}
	if string(entry.Value) != "o" {
		t.Errorf("GetStale(old) value = %q, want \"o\"", entry.Value)
	}

	// GetStale must not purge; the entry is still there for a refresh to replace.
	if got := s.Len(); got != 2 {
		t.Errorf("Len after GetStale = %d, want 2", got)
	}

	if _, _, ok := s.GetStale(ctx, "missing"); ok {
		t.Error("GetStale should miss for unknown key")
	}
}

func TestStore_LRUOrder(t *testing.T) {
	s := newTestStore(t, Config{MaxEntries: 3})
	ctx := context.Background()

	s.Set(ctx, "a", []byte("1"), 0)
	s.Set(ctx, "b", []byte("2"), 0)
	s.Set(ctx, "c", []byte("3"), 0)

	// Touch a so b becomes the least recently used entry.
	if _, ok := s.Get(ctx, "a"); !ok {
		t.Fatal("Get a failed")
	}

	s.Set(ctx, "d", []byte("4"), 0)

	if _, ok := s.Get(ctx, "b"); ok {
		t.Error("b should have been evicted as least recently used")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := s.Get(ctx, key); !ok {
			t.Errorf("%s should still be present", key)
		}
	}

	if got := s.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestStore_UpdateDoesNotEvict(t *testing.T) {
	s := newTestStore(t, Config{MaxEntries: 2})
	ctx := context.Background()

	s.Set(ctx, "a", []byte("1"), 0)
	s.Set(ctx, "b", []byte("2"), 0)
	s.Set(ctx, "a", []byte("1-updated"), 0)

	if _, ok := s.Get(ctx, "b"); !ok {
		t.Error("updating an existing key must not evict")
	}
	entry, _ := s.Get(ctx, "a")
	if string(entry.Value) != "1-updated" {
		t.Errorf("a = %q, want updated value", entry.Value)
	}
}

func TestStore_TTLBounds(t *testing.T) {
	s := newTestStore(t, Config{
		TTL: cache.TTLPolicy{Default: time.Minute, Max: time.Hour},
	})
	ctx := context.Background()

	s.Set(ctx, "default", []byte("v"), 0)
	entry, _ := s.Get(ctx, "default")
	if ttl := entry.TimeToLive(); ttl <= 50*time.Second || ttl > time.Minute {
		t.Errorf("default TTL remaining = %v, want about a minute", ttl)
	}

	s.Set(ctx, "capped", []byte("v"), 24*time.Hour)
	entry, _ = s.Get(ctx, "capped")
	if ttl := entry.TimeToLive(); ttl > time.Hour {
		t.Errorf("capped TTL remaining = %v, want at most an hour", ttl)
	}
}

func TestStore_DeleteMatching(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "user:1", []byte("a"), 0)
	s.Set(ctx, "user:2", []byte("b"), 0)
	s.Set(ctx, "order:1", []byte("c"), 0)

	removed := s.DeleteMatching(ctx, "user:*")
	if removed != 2 {
		t.Errorf("DeleteMatching removed %d, want 2", removed)
	}
	if _, ok := s.Get(ctx, "order:1"); !ok {
		t.Error("non-matching key should survive")
	}
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "a", []byte("1"), 0)
	s.Set(ctx, "b", []byte("2"), 0)
	s.Clear(ctx)

	if got := s.Len(); got != 0 {
		t.Errorf("Len after Clear = %d, want 0", got)
	}
	if got := s.Stats().Bytes; got != 0 {
		t.Errorf("Bytes after Clear = %d, want 0", got)
	}
}

func TestStore_Sweep(t *testing.T) {
	s := newTestStore(t, Config{SweepInterval: 20 * time.Millisecond})
	ctx := context.Background()

	s.Set(ctx, "a", []byte("1"), 10*time.Millisecond)
	s.Set(ctx, "b", []byte("2"), 10*time.Millisecond)
	s.Set(ctx, "keep", []byte("3"), time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() > 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := s.Len(); got != 1 {
		t.Fatalf("Len after sweep = %d, want 1", got)
	}
	if _, ok := s.Get(ctx, "keep"); !ok {
		t.Error("unexpired entry should survive the sweep")
	}
	if got := s.Stats().Expirations; got != 2 {
		t.Errorf("Expirations = %d, want 2", got)
	}
}

func TestStore_OnEvict(t *testing.T) {
	var mu sync.Mutex
	evicted := make(map[string]EvictReason)

	s := newTestStore(t, Config{
		MaxEntries:    2,
		SweepInterval: 20 * time.Millisecond,
		OnEvict: func(key string, reason EvictReason) {
			mu.Lock()
			evicted[key] = reason
			mu.Unlock()
		},
	})
	ctx := context.Background()

	s.Set(ctx, "a", []byte("1"), 10*time.Millisecond)
	s.Set(ctx, "b", []byte("2"), time.Hour)
	s.Set(ctx, "c", []byte("3"), time.Hour) // evicts a or b by recency; a is LRU

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(evicted)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if reason, ok := evicted["a"]; !ok || reason != ReasonLRU {
		t.Errorf("evicted[a] = %v %v, want lru eviction", reason, ok)
	}
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(t, Config{MaxEntries: 10})
	ctx := context.Background()

	s.Set(ctx, "a", []byte("1"), 0)
	s.Get(ctx, "a")
	s.Get(ctx, "a")
	s.Get(ctx, "missing")
	s.Delete(ctx, "a")

	stats := s.Stats()
	if stats.Hits != 2 {
		t.Errorf("Hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
	if stats.Sets != 1 {
		t.Errorf("Sets = %d, want 1", stats.Sets)
	}
	if stats.Deletes != 1 {
		t.Errorf("Deletes = %d, want 1", stats.Deletes)
	}
	if stats.Entries != 0 {
		t.Errorf("Entries = %d, want 0", stats.Entries)
	}
	if stats.MaxEntries != 10 {
		t.Errorf("MaxEntries = %d, want 10", stats.MaxEntries)
	}
}

func TestStore_Close(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "a", []byte("1"), 0)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := s.Set(ctx, "b", []byte("2"), 0); !errors.Is(err, cache.ErrStoreClosed) {
		t.Errorf("Set after Close = %v, want ErrStoreClosed", err)
	}
	if _, ok := s.Get(ctx, "a"); ok {
		t.Error("Get after Close should miss")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestStore_KeyValidation(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	if err := s.Set(ctx, "", []byte("v"), 0); err == nil {
		t.Error("Set with empty key should fail")
	}
	if err := s.Set(ctx, "bad\x00key", []byte("v"), 0); err == nil {
		t.Error("Set with control character should fail")
	}
	if _, ok := s.Get(ctx, ""); ok {
		t.Error("Get with empty key should miss")
	}
}

func TestStore_Concurrency(t *testing.T) {
	s := newTestStore(t, Config{MaxEntries: 128})
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			key := fmt.Sprintf("key-%d", id)
			value := []byte(fmt.Sprintf("value-%d", id))

			for j := 0; j < 50; j++ {
				if err := s.Set(ctx, key, value, 0); err != nil {
					t.Errorf("concurrent Set failed: %v", err)
					return
				}
				if entry, ok := s.Get(ctx, key); ok && string(entry.Value) != string(value) {
					t.Errorf("concurrent Get = %q, want %q", entry.Value, value)
					return
				}
				s.GetStale(ctx, key)
			}
			s.Delete(ctx, key)
		}(i)
	}

	wg.Wait()
}

func BenchmarkStore_Get(b *testing.B) {
	s, _ := New(Config{TTL: cache.TTLPolicy{Default: time.Hour}})
	defer s.Close()
	ctx := context.Background()

	s.Set(ctx, "bench", []byte("value"), 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Get(ctx, "bench")
	}
}

func BenchmarkStore_Set(b *testing.B) {
	s, _ := New(Config{MaxEntries: 1024, TTL: cache.TTLPolicy{Default: time.Hour}})
	defer s.Close()
	ctx := context.Background()
	value := []byte("value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set(ctx, fmt.Sprintf("bench-%d", i%2048), value, 0)
	}
}

package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cachefront/pkg/cache"
)

func skipIfNoRedis(t *testing.T, s *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Ping(ctx); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Name = "test-redis"
	cfg.KeyPrefix = "test:cachefront:"

	s, err := New(cfg)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	skipIfNoRedis(t, s)
	s.FlushDB(context.Background())

	return s
}

func TestNew_NoAddresses(t *testing.T) {
	_, err := New(Config{Name: "empty"})
	if err == nil {
		t.Fatal("New without addresses should fail")
	}
}

func TestStore_SetGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	value := []byte(`{"id":1,"name":"ada"}`)
	if err := s.Set(ctx, "user:1", value, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "user:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(value) {
		t.Errorf("Get = %q, want %q", got, value)
	}
}

func TestStore_GetMiss(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Get miss = %v, want ErrKeyNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	s.Set(ctx, "a", []byte("1"), time.Minute)
	s.Set(ctx, "b", []byte("2"), time.Minute)

	removed, err := s.Delete(ctx, "a", "b", "missing")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Delete removed = %d, want 2", removed)
	}
}

func TestStore_Sets(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.AddToSet(ctx, "tag:users", "user:1", "user:2"); err != nil {
		t.Fatalf("AddToSet failed: %v", err)
	}
	if err := s.AddToSet(ctx, "tag:users", "user:2", "user:3"); err != nil {
		t.Fatalf("AddToSet failed: %v", err)
	}

	members, err := s.SetMembers(ctx, "tag:users")
	if err != nil {
		t.Fatalf("SetMembers failed: %v", err)
	}
	if len(members) != 3 {
		t.Errorf("SetMembers returned %d members, want 3 (deduplicated)", len(members))
	}

	empty, err := s.SetMembers(ctx, "tag:none")
	if err != nil {
		t.Fatalf("SetMembers on missing set failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("SetMembers on missing set = %v, want empty", empty)
	}
}

func TestStore_ExpireAtLeast(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", []byte("v"), 10*time.Second)

	// Raising the TTL should work.
	if err := s.ExpireAtLeast(ctx, "k", time.Hour); err != nil {
		t.Fatalf("ExpireAtLeast failed: %v", err)
	}
	ttl, err := s.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 10*time.Second {
		t.Errorf("TTL after raise = %v, want above 10s", ttl)
	}

	// A lower TTL must not shorten the current one.
	if err := s.ExpireAtLeast(ctx, "k", time.Second); err != nil {
		t.Fatalf("ExpireAtLeast failed: %v", err)
	}
	ttl, _ = s.TTL(ctx, "k")
	if ttl <= 10*time.Second {
		t.Errorf("TTL was shortened to %v by ExpireAtLeast", ttl)
	}
}

func TestStore_ScanKeys(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"user:1", "user:2", "user:3", "order:1"} {
		s.Set(ctx, key, []byte("v"), time.Minute)
	}

	keys, err := s.ScanKeys(ctx, "user:*")
	if err != nil {
		t.Fatalf("ScanKeys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("ScanKeys returned %d keys, want 3: %v", len(keys), keys)
	}
	for _, key := range keys {
		if key == "order:1" {
			t.Error("ScanKeys matched a key outside the pattern")
		}
	}
}

func TestStore_TTL(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	s.Set(ctx, "with-ttl", []byte("v"), time.Minute)
	ttl, err := s.TTL(ctx, "with-ttl")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}

	s.Set(ctx, "no-ttl", []byte("v"), 0)
	ttl, err = s.TTL(ctx, "no-ttl")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Errorf("TTL without expiry = %v, want -1", ttl)
	}

	if _, err := s.TTL(ctx, "missing"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("TTL of missing key = %v, want ErrKeyNotFound", err)
	}
}

func TestStore_PubSub(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []string

	err := s.Subscribe(ctx, "cachefront-test-events", func(payload string) {
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Give the subscription a moment to establish.
	time.Sleep(100 * time.Millisecond)

	if err := s.Publish(ctx, "cachefront-test-events", "hello"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "hello" {
		t.Errorf("received = %v, want [hello]", received)
	}
}

func TestTTLSeconds(t *testing.T) {
	tests := []struct {
		ttl      time.Duration
		expected int64
	}{
		{0, 0},
		{-time.Second, 0},
		{500 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{time.Minute, 60},
	}

	for _, tt := range tests {
		if got := ttlSeconds(tt.ttl); got != tt.expected {
			t.Errorf("ttlSeconds(%v) = %d, want %d", tt.ttl, got, tt.expected)
		}
	}
}

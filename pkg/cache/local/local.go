package local

import (
	"container/heap"
	"container/list"
	"context"
	"path"
	"sync"
	"time"

	"cachefront/pkg/cache"
)

// EvictReason says why an entry left the store.
type EvictReason string

const (
	// ReasonLRU marks eviction of the least recently used entry at capacity.
	ReasonLRU EvictReason = "lru"

	// ReasonExpired marks removal of an entry past its TTL.
	ReasonExpired EvictReason = "expired"
)

// Config holds configuration for the in-process store.
type Config struct {
	// Name is the store identifier used in logs and metrics
	Name string

	// MaxEntries is the maximum number of entries (0 = unlimited).
	// Inserting a new key at capacity evicts the least recently used entry.
	MaxEntries int

	// TTL bounds the time-to-live applied to writes
	TTL cache.TTLPolicy

	// SweepInterval is how often the background sweeper removes expired entries
	SweepInterval time.Duration

	// OnEvict, when set, is called after an entry is evicted or expires.
	// It runs outside the store lock, so it may call back into the store.
	OnEvict func(key string, reason EvictReason)
}

// DefaultConfig returns a config with the standard limits:
// 1000 entries, 5 minute default TTL, sweep every minute.
func DefaultConfig() Config {
	return Config{
		Name:          "local",
		MaxEntries:    1000,
		TTL:           cache.TTLPolicy{Default: 5 * time.Minute},
		SweepInterval: time.Minute,
	}
}

// Store is the in-process cache tier. It keeps entries in strict
// least-recently-used order, expires them by TTL, and sweeps expired
// entries in the background so memory is reclaimed without reads.
type Store struct {
	// mu protects everything below
	mu sync.Mutex

	// entries indexes items by key
	entries map[string]*item

	// lru orders items by recency, front = most recently used
	lru *list.List

	// expiry orders items by expiry, earliest first
	expiry expiryHeap

	cfg    Config
	closed bool

	sweeper *time.Ticker
	stop    chan struct{}
	done    chan struct{}

	hits        int64
	staleHits   int64
	misses      int64
	sets        int64
	deletes     int64
	evictions   int64
	expirations int64
	bytes       int64
}

// item is a stored entry plus its index positions.
type item struct {
	entry     cache.Entry
	elem      *list.Element
	heapIndex int // -1 when the entry has no expiry
}

const entryOverhead = 96 // struct, map slot and list element bookkeeping

// New creates an in-process store and starts its background sweeper.
func New(cfg Config) (*Store, error) {
	if cfg.Name == "" {
		cfg.Name = "local"
	}
	if err := cfg.TTL.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxEntries < 0 {
		return nil, cache.ErrInvalidValue
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	s := &Store{
		entries: make(map[string]*item),
		lru:     list.New(),
		cfg:     cfg,
		sweeper: time.NewTicker(cfg.SweepInterval),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go s.sweep()

	return s, nil
}

// Name returns the store identifier.
func (s *Store) Name() string {
	return s.cfg.Name
}

// Get retrieves the entry for key. An expired entry counts as a miss and
// is removed immediately rather than waiting for the sweeper.
func (s *Store) Get(ctx context.Context, key string) (cache.Entry, bool) {
	if cache.ValidateKey(key) != nil {
		return cache.Entry{}, false
	}

	now := time.Now()

	s.mu.Lock()
	it, exists := s.entries[key]
	if !exists || s.closed {
		s.misses++
		s.mu.Unlock()
		return cache.Entry{}, false
	}

	if it.entry.IsExpiredAt(now) {
		s.remove(it)
		s.expirations++
		s.misses++
		s.mu.Unlock()
		if s.cfg.OnEvict != nil {
			s.cfg.OnEvict(key, ReasonExpired)
		}
		return cache.Entry{}, false
	}

	it.entry.HitCount++
	it.entry.LastAccessedAt = now
	s.lru.MoveToFront(it.elem)
	s.hits++
	snapshot := it.entry
	s.mu.Unlock()

	return snapshot, true
}

// GetStale retrieves the entry for key even when it has expired, without
// purging it. Used by stale-while-revalidate reads, which serve the old
// value while a refresh runs. The stale flag reports whether the entry
// is past its expiry.
func (s *Store) GetStale(ctx context.Context, key string) (entry cache.Entry, stale bool, ok bool) {
	if cache.ValidateKey(key) != nil {
		return cache.Entry{}, false, false
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	it, exists := s.entries[key]
	if !exists || s.closed {
		s.misses++
		return cache.Entry{}, false, false
	}

	stale = it.entry.IsExpiredAt(now)
	it.entry.HitCount++
	it.entry.LastAccessedAt = now
	if stale {
		s.staleHits++
	} else {
		s.lru.MoveToFront(it.elem)
		s.hits++
	}

	return it.entry, stale, true
}

// Set stores value under key. A zero ttl uses the configured default and
// TTLs above the configured maximum are capped. Inserting a new key at
// capacity evicts the least recently used entry first.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	ttl = s.cfg.TTL.Effective(ttl)
	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	size := entryOverhead + len(key) + len(value)

	var evictedKey string

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return cache.ErrStoreClosed
	}

	if it, exists := s.entries[key]; exists {
		s.bytes += int64(size - it.entry.Size)
		it.entry.Value = value
		it.entry.ExpiresAt = expiresAt
		it.entry.CreatedAt = now
		it.entry.LastAccessedAt = now
		it.entry.Size = size
		s.lru.MoveToFront(it.elem)
		s.fixExpiry(it)
		s.sets++
		s.mu.Unlock()
		return nil
	}

	if s.cfg.MaxEntries > 0 && len(s.entries) >= s.cfg.MaxEntries {
		if back := s.lru.Back(); back != nil {
			victim := back.Value.(*item)
			evictedKey = victim.entry.Key
			s.remove(victim)
			s.evictions++
		}
	}

	it := &item{
		entry: cache.Entry{
			Key:            key,
			Value:          value,
			CreatedAt:      now,
			ExpiresAt:      expiresAt,
			LastAccessedAt: now,
			Size:           size,
		},
		heapIndex: -1,
	}
	it.elem = s.lru.PushFront(it)
	s.entries[key] = it
	s.bytes += int64(size)
	if !expiresAt.IsZero() {
		heap.Push(&s.expiry, it)
	}
	s.sets++
	s.mu.Unlock()

	if evictedKey != "" && s.cfg.OnEvict != nil {
		s.cfg.OnEvict(evictedKey, ReasonLRU)
	}

	return nil
}

// Delete removes key from the store. Reports whether an entry existed.
func (s *Store) Delete(ctx context.Context, key string) bool {
	if cache.ValidateKey(key) != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, exists := s.entries[key]
	if !exists || s.closed {
		return false
	}

	s.remove(it)
	s.deletes++
	return true
}

// DeleteMatching removes every entry whose key matches the glob pattern
// (e.g. "user:*") and returns how many were removed.
func (s *Store) DeleteMatching(ctx context.Context, pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	removed := 0
	for key, it := range s.entries {
		if matched, err := path.Match(pattern, key); err == nil && matched {
			s.remove(it)
			s.deletes++
			removed++
		}
	}
	return removed
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.entries = make(map[string]*item)
	s.lru.Init()
	s.expiry = nil
	s.bytes = 0
}

// Keys returns the keys of all live entries, most recently used first.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(s.entries))
	for elem := s.lru.Front(); elem != nil; elem = elem.Next() {
		it := elem.Value.(*item)
		if !it.entry.IsExpiredAt(now) {
			keys = append(keys, it.entry.Key)
		}
	}
	return keys
}

// Len returns the current number of entries, including expired entries
// the sweeper has not reached yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background sweeper and drops all entries.
// Operations after Close report misses or ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.entries = make(map[string]*item)
	s.lru.Init()
	s.expiry = nil
	s.bytes = 0
	s.mu.Unlock()

	s.sweeper.Stop()
	close(s.stop)
	<-s.done

	return nil
}

// sweep runs in a background goroutine and removes expired entries on
// every tick, oldest expiry first.
func (s *Store) sweep() {
	defer close(s.done)

	for {
		select {
		case <-s.sweeper.C:
			s.removeExpired(time.Now())
		case <-s.stop:
			return
		}
	}
}

// removeExpired pops expired entries off the expiry heap until the
// earliest remaining expiry is in the future.
func (s *Store) removeExpired(now time.Time) {
	var expired []string

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for s.expiry.Len() > 0 {
		next := s.expiry[0]
		if !next.entry.IsExpiredAt(now) {
			break
		}
		expired = append(expired, next.entry.Key)
		s.remove(next)
		s.expirations++
	}
	s.mu.Unlock()

	if s.cfg.OnEvict != nil {
		for _, key := range expired {
			s.cfg.OnEvict(key, ReasonExpired)
		}
	}
}

// remove unlinks an item from the map, the LRU list and the expiry heap.
// Callers must hold mu.
func (s *Store) remove(it *item) {
	delete(s.entries, it.entry.Key)
	s.lru.Remove(it.elem)
	if it.heapIndex >= 0 {
		heap.Remove(&s.expiry, it.heapIndex)
	}
	s.bytes -= int64(it.entry.Size)
}

// fixExpiry reconciles an item's position in the expiry heap after its
// expiry changed. Callers must hold mu.
func (s *Store) fixExpiry(it *item) {
	hasExpiry := !it.entry.ExpiresAt.IsZero()
	switch {
	case hasExpiry && it.heapIndex >= 0:
		heap.Fix(&s.expiry, it.heapIndex)
	case hasExpiry:
		heap.Push(&s.expiry, it)
	case it.heapIndex >= 0:
		heap.Remove(&s.expiry, it.heapIndex)
	}
}

// Stats returns current store statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Entries:     len(s.entries),
		MaxEntries:  s.cfg.MaxEntries,
		Bytes:       s.bytes,
		Hits:        s.hits,
		StaleHits:   s.staleHits,
		Misses:      s.misses,
		Sets:        s.sets,
		Deletes:     s.deletes,
		Evictions:   s.evictions,
		Expirations: s.expirations,
	}
}

// Stats holds store statistics.
type Stats struct {
	Entries     int   // current number of entries
	MaxEntries  int   // configured capacity (0 = unlimited)
	Bytes       int64 // approximate memory held by entries
	Hits        int64
	StaleHits   int64
	Misses      int64
	Sets        int64
	Deletes     int64
	Evictions   int64 // LRU evictions at capacity
	Expirations int64 // entries removed past their TTL
}

// HitRate returns hits / (hits + misses), or 0 before any read.
// Stale hits count as hits.
func (st Stats) HitRate() float64 {
	total := st.Hits + st.StaleHits + st.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Hits+st.StaleHits) / float64(total)
}

// expiryHeap orders items by expiry, earliest first.
type expiryHeap []*item

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool {
	return h[i].entry.ExpiresAt.Before(h[j].entry.ExpiresAt)
}

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *expiryHeap) Push(x any) {
	it := x.(*item)
	it.heapIndex = len(*h)
	*h = append(*h, it)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.heapIndex = -1
	*h = old[:n-1]
	return it
}

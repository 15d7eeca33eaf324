// Package bloom shields a remote store from lookups for keys that were
// never written. A rejected read costs one filter probe instead of a
// network round trip; the price is that keys written only by other
// processes read as misses here, which the read path already treats as
// a recompute.
package bloom

import (
	"context"
	"sync"
	"time"

	"cachefront/pkg/cache"

	"github.com/bits-and-blooms/bloom/v3"
)

// Shield adds probabilistic membership testing in front of a remote store.
type Shield struct {
	store         cache.RemoteStore
	filter        *bloom.BloomFilter
	expectedItems uint
	fpRate        float64
	mu            sync.RWMutex

	totalQueries   uint64
	rejected       uint64
	falsePositives uint64
}

// New wraps store with a bloom filter sized for expectedItems at the
// given false positive rate.
func New(store cache.RemoteStore, expectedItems uint, falsePositiveRate float64) *Shield {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	return &Shield{
		store:         store,
		filter:        bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems: expectedItems,
		fpRate:        falsePositiveRate,
	}
}

// Name returns the shielded store name.
func (s *Shield) Name() string {
	return "bloom(" + s.store.Name() + ")"
}

// Get consults the filter before the store. Keys the filter has never
// seen are reported as not found without touching the network.
func (s *Shield) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.totalQueries++
	mayExist := s.filter.Test([]byte(key))
	if !mayExist {
		s.rejected++
		s.mu.Unlock()
		return nil, cache.ErrKeyNotFound
	}
	s.mu.Unlock()

	value, err := s.store.Get(ctx, key)

	if cache.IsNotFound(err) {
		s.mu.Lock()
		s.falsePositives++
		s.mu.Unlock()
	}

	return value, err
}

// Set records the key in the filter and stores the value.
func (s *Shield) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.filter.Add([]byte(key))
	s.mu.Unlock()

	return s.store.Set(ctx, key, value, ttl)
}

// Delete removes keys from the store. Bloom filters cannot unlearn a key,
// so deleted keys keep costing a round trip until the next Reset.
func (s *Shield) Delete(ctx context.Context, keys ...string) (int64, error) {
	return s.store.Delete(ctx, keys...)
}

// AddToSet passes through to the store.
func (s *Shield) AddToSet(ctx context.Context, key string, members ...string) error {
	return s.store.AddToSet(ctx, key, members...)
}

// SetMembers passes through to the store.
func (s *Shield) SetMembers(ctx context.Context, key string) ([]string, error) {
	return s.store.SetMembers(ctx, key)
}

// Expire passes through to the store.
func (s *Shield) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.store.Expire(ctx, key, ttl)
}

// ExpireAtLeast passes through to the store.
func (s *Shield) ExpireAtLeast(ctx context.Context, key string, ttl time.Duration) error {
	return s.store.ExpireAtLeast(ctx, key, ttl)
}

// ScanKeys passes through to the store.
func (s *Shield) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	return s.store.ScanKeys(ctx, pattern)
}

// TTL passes through to the store.
func (s *Shield) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.store.TTL(ctx, key)
}

// Publish passes through to the store.
func (s *Shield) Publish(ctx context.Context, channel, payload string) error {
	return s.store.Publish(ctx, channel, payload)
}

// Subscribe passes through to the store.
func (s *Shield) Subscribe(ctx context.Context, channel string, fn func(payload string)) error {
	return s.store.Subscribe(ctx, channel, fn)
}

// Ping passes through to the store.
func (s *Shield) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close closes the underlying store.
func (s *Shield) Close() error {
	return s.store.Close()
}

// Reset clears the filter and its counters. Useful after bulk deletes
// have made the filter mostly stale.
func (s *Shield) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filter = bloom.NewWithEstimates(s.expectedItems, s.fpRate)
	s.totalQueries = 0
	s.rejected = 0
	s.falsePositives = 0
}

// Stats returns filter effectiveness counters.
func (s *Shield) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rejectionRate := 0.0
	falsePositiveRate := 0.0

	if s.totalQueries > 0 {
		rejectionRate = float64(s.rejected) / float64(s.totalQueries)
		queried := s.totalQueries - s.rejected
		if queried > 0 {
			falsePositiveRate = float64(s.falsePositives) / float64(queried)
		}
	}

	return Stats{
		TotalQueries:      s.totalQueries,
		Rejected:          s.rejected,
		FalsePositives:    s.falsePositives,
		RejectionRate:     rejectionRate,
		FalsePositiveRate: falsePositiveRate,
		FilterCapacity:    uint(s.filter.Cap()),
	}
}

// Stats holds filter performance counters.
type Stats struct {
	TotalQueries      uint64
	Rejected          uint64
	FalsePositives    uint64
	RejectionRate     float64
	FalsePositiveRate float64
	FilterCapacity    uint // bit array size
}

var _ cache.RemoteStore = (*Shield)(nil)

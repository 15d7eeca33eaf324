// Package mock provides an in-memory cache.RemoteStore for tests.
// By default it behaves like a tiny single-node Redis: byte values with
// TTLs, sets, glob scans and loopback pub/sub. Function hooks override
// individual operations and every call is counted.
package mock

import (
	"context"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"cachefront/pkg/cache"
)

// RemoteStore is a mock implementation of cache.RemoteStore.
type RemoteStore struct {
	// Function hooks - set these to customize behavior
	GetFunc           func(ctx context.Context, key string) ([]byte, error)
	SetFunc           func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteFunc        func(ctx context.Context, keys ...string) (int64, error)
	AddToSetFunc      func(ctx context.Context, key string, members ...string) error
	SetMembersFunc    func(ctx context.Context, key string) ([]string, error)
	ExpireFunc        func(ctx context.Context, key string, ttl time.Duration) error
	ExpireAtLeastFunc func(ctx context.Context, key string, ttl time.Duration) error
	ScanKeysFunc      func(ctx context.Context, pattern string) ([]string, error)
	TTLFunc           func(ctx context.Context, key string) (time.Duration, error)
	PublishFunc       func(ctx context.Context, channel, payload string) error
	PingFunc          func(ctx context.Context) error

	// Err, when set, is returned by every data operation. Convenient for
	// simulating a store that is down.
	Err error

	mu       sync.Mutex
	values   map[string][]byte
	sets     map[string]map[string]struct{}
	expiries map[string]time.Time
	subs     map[string][]subscriber
	closed   bool

	getCalls           int64
	setCalls           int64
	deleteCalls        int64
	addToSetCalls      int64
	setMembersCalls    int64
	expireCalls        int64
	expireAtLeastCalls int64
	scanCalls          int64
	ttlCalls           int64
	publishCalls       int64
	closeCalls         int64
}

type subscriber struct {
	ctx context.Context
	fn  func(payload string)
}

// New creates an empty mock store.
func New() *RemoteStore {
	return &RemoteStore{
		values:   make(map[string][]byte),
		sets:     make(map[string]map[string]struct{}),
		expiries: make(map[string]time.Time),
		subs:     make(map[string][]subscriber),
	}
}

// Get implements cache.RemoteStore.
func (m *RemoteStore) Get(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	if m.Err != nil {
		return nil, m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropExpired(key)
	value, ok := m.values[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set implements cache.RemoteStore.
func (m *RemoteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	if m.Err != nil {
		return m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[key] = stored
	if ttl > 0 {
		m.expiries[key] = time.Now().Add(ttl)
	} else {
		delete(m.expiries, key)
	}
	return nil
}

// Delete implements cache.RemoteStore.
func (m *RemoteStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keys...)
	}
	if m.Err != nil {
		return 0, m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for _, key := range keys {
		m.dropExpired(key)
		if _, ok := m.values[key]; ok {
			delete(m.values, key)
			delete(m.expiries, key)
			removed++
			continue
		}
		if _, ok := m.sets[key]; ok {
			delete(m.sets, key)
			delete(m.expiries, key)
			removed++
		}
	}
	return removed, nil
}

// AddToSet implements cache.RemoteStore.
func (m *RemoteStore) AddToSet(ctx context.Context, key string, members ...string) error {
	atomic.AddInt64(&m.addToSetCalls, 1)
	if m.AddToSetFunc != nil {
		return m.AddToSetFunc(ctx, key, members...)
	}
	if m.Err != nil {
		return m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropExpired(key)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

// SetMembers implements cache.RemoteStore.
func (m *RemoteStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	atomic.AddInt64(&m.setMembersCalls, 1)
	if m.SetMembersFunc != nil {
		return m.SetMembersFunc(ctx, key)
	}
	if m.Err != nil {
		return nil, m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropExpired(key)
	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

// Expire implements cache.RemoteStore.
func (m *RemoteStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	atomic.AddInt64(&m.expireCalls, 1)
	if m.ExpireFunc != nil {
		return m.ExpireFunc(ctx, key, ttl)
	}
	if m.Err != nil {
		return m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exists(key) {
		m.expiries[key] = time.Now().Add(ttl)
	}
	return nil
}

// ExpireAtLeast implements cache.RemoteStore.
func (m *RemoteStore) ExpireAtLeast(ctx context.Context, key string, ttl time.Duration) error {
	atomic.AddInt64(&m.expireAtLeastCalls, 1)
	if m.ExpireAtLeastFunc != nil {
		return m.ExpireAtLeastFunc(ctx, key, ttl)
	}
	if m.Err != nil {
		return m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(key) {
		return nil
	}
	deadline := time.Now().Add(ttl)
	if current, ok := m.expiries[key]; !ok || current.Before(deadline) {
		m.expiries[key] = deadline
	}
	return nil
}

// ScanKeys implements cache.RemoteStore.
func (m *RemoteStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	atomic.AddInt64(&m.scanCalls, 1)
	if m.ScanKeysFunc != nil {
		return m.ScanKeysFunc(ctx, pattern)
	}
	if m.Err != nil {
		return nil, m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key := range m.values {
		if m.isExpired(key) {
			continue
		}
		if matched, err := path.Match(pattern, key); err == nil && matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// TTL implements cache.RemoteStore.
func (m *RemoteStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	atomic.AddInt64(&m.ttlCalls, 1)
	if m.TTLFunc != nil {
		return m.TTLFunc(ctx, key)
	}
	if m.Err != nil {
		return 0, m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropExpired(key)
	if !m.exists(key) {
		return 0, cache.ErrKeyNotFound
	}
	deadline, ok := m.expiries[key]
	if !ok {
		return -1, nil
	}
	return time.Until(deadline), nil
}

// Publish implements cache.RemoteStore. Messages are delivered
// synchronously to subscribers registered on this same mock, which lets
// tests exercise cross-instance broadcasts in-process.
func (m *RemoteStore) Publish(ctx context.Context, channel, payload string) error {
	atomic.AddInt64(&m.publishCalls, 1)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, channel, payload)
	}
	if m.Err != nil {
		return m.Err
	}

	m.mu.Lock()
	subs := make([]subscriber, len(m.subs[channel]))
	copy(subs, m.subs[channel])
	m.mu.Unlock()

	for _, sub := range subs {
		if sub.ctx.Err() == nil {
			sub.fn(payload)
		}
	}
	return nil
}

// Subscribe implements cache.RemoteStore.
func (m *RemoteStore) Subscribe(ctx context.Context, channel string, fn func(payload string)) error {
	if m.Err != nil {
		return m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return cache.ErrStoreClosed
	}
	m.subs[channel] = append(m.subs[channel], subscriber{ctx: ctx, fn: fn})
	return nil
}

// Ping implements cache.RemoteStore.
func (m *RemoteStore) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return m.Err
}

// Name implements cache.RemoteStore.
func (m *RemoteStore) Name() string {
	return "mock"
}

// Close implements cache.RemoteStore.
func (m *RemoteStore) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.subs = make(map[string][]subscriber)
	return nil
}

// Len returns the number of live string values held by the mock.
func (m *RemoteStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.values {
		if !m.isExpired(key) {
			n++
		}
	}
	return n
}

// Contains reports whether key currently holds a live string value.
func (m *RemoteStore) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropExpired(key)
	_, ok := m.values[key]
	return ok
}

// exists reports whether key holds a value or a set. Callers must hold mu.
func (m *RemoteStore) exists(key string) bool {
	if m.isExpired(key) {
		return false
	}
	if _, ok := m.values[key]; ok {
		return true
	}
	_, ok := m.sets[key]
	return ok
}

func (m *RemoteStore) isExpired(key string) bool {
	deadline, ok := m.expiries[key]
	return ok && time.Now().After(deadline)
}

// dropExpired removes key if its TTL has lapsed. Callers must hold mu.
func (m *RemoteStore) dropExpired(key string) {
	if m.isExpired(key) {
		delete(m.values, key)
		delete(m.sets, key)
		delete(m.expiries, key)
	}
}

// GetCalls returns the number of Get calls.
func (m *RemoteStore) GetCalls() int { return int(atomic.LoadInt64(&m.getCalls)) }

// SetCalls returns the number of Set calls.
func (m *RemoteStore) SetCalls() int { return int(atomic.LoadInt64(&m.setCalls)) }

// DeleteCalls returns the number of Delete calls.
func (m *RemoteStore) DeleteCalls() int { return int(atomic.LoadInt64(&m.deleteCalls)) }

// AddToSetCalls returns the number of AddToSet calls.
func (m *RemoteStore) AddToSetCalls() int { return int(atomic.LoadInt64(&m.addToSetCalls)) }

// SetMembersCalls returns the number of SetMembers calls.
func (m *RemoteStore) SetMembersCalls() int { return int(atomic.LoadInt64(&m.setMembersCalls)) }

// ExpireCalls returns the number of Expire calls.
func (m *RemoteStore) ExpireCalls() int { return int(atomic.LoadInt64(&m.expireCalls)) }

// ExpireAtLeastCalls returns the number of ExpireAtLeast calls.
func (m *RemoteStore) ExpireAtLeastCalls() int { return int(atomic.LoadInt64(&m.expireAtLeastCalls)) }

// ScanCalls returns the number of ScanKeys calls.
func (m *RemoteStore) ScanCalls() int { return int(atomic.LoadInt64(&m.scanCalls)) }

// TTLCalls returns the number of TTL calls.
func (m *RemoteStore) TTLCalls() int { return int(atomic.LoadInt64(&m.ttlCalls)) }

// PublishCalls returns the number of Publish calls.
func (m *RemoteStore) PublishCalls() int { return int(atomic.LoadInt64(&m.publishCalls)) }

// CloseCalls returns the number of Close calls.
func (m *RemoteStore) CloseCalls() int { return int(atomic.LoadInt64(&m.closeCalls)) }

var _ cache.RemoteStore = (*RemoteStore)(nil)

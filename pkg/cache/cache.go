package cache

import (
	"context"
	"time"
)

// Level identifies a cache tier.
// L1 is the request-scoped batch collector, L2 the in-process store,
// L3 the shared remote store. The zero value targets every tier.
type Level int

const (
	// LevelAll targets every tier the manager is configured with.
	LevelAll Level = iota

	// LevelL1 is the request-scoped tier owned by the batch collector.
	// Manager operations reject it; it appears only in results and events.
	LevelL1

	// LevelL2 is the in-process LRU+TTL store.
	LevelL2

	// LevelL3 is the shared remote store.
	LevelL3
)

// String returns the lowercase tier name used in logs and metric labels.
func (l Level) String() string {
	switch l {
	case LevelL1:
		return "l1"
	case LevelL2:
		return "l2"
	case LevelL3:
		return "l3"
	case LevelAll:
		return "all"
	default:
		return "unknown"
	}
}

// IncludesLocal reports whether the level targets the in-process store.
func (l Level) IncludesLocal() bool {
	return l == LevelAll || l == LevelL2
}

// IncludesRemote reports whether the level targets the shared remote store.
func (l Level) IncludesRemote() bool {
	return l == LevelAll || l == LevelL3
}

// Key addresses a cache entry and carries per-write options.
type Key struct {
	// Key is the entry address (e.g. "user:123").
	Key string

	// Level selects which tiers the operation touches. Defaults to LevelAll.
	// LevelL1 is owned by the batch collector and is not valid here.
	Level Level

	// TTL is the requested time-to-live. Zero means the tier default;
	// tiers cap it at their configured maximum.
	TTL time.Duration

	// Tags are invalidation groups this entry belongs to.
	Tags []string
}

// Entry is a stored cache value with bookkeeping metadata.
// Values are held as serialized bytes so tiers never share a mutable
// reference with callers or with each other.
type Entry struct {
	// Key is the cache key
	Key string

	// Value is the serialized cached value
	Value []byte

	// CreatedAt is when this entry was stored
	CreatedAt time.Time

	// ExpiresAt is when this entry expires; zero means no expiry
	ExpiresAt time.Time

	// LastAccessedAt is the time of the most recent hit
	LastAccessedAt time.Time

	// HitCount is the number of reads served from this entry
	HitCount int64

	// Size is the approximate in-memory footprint in bytes
	Size int
}

// IsExpired checks if the entry has expired based on the current time.
// Entries without an expiry never expire.
func (e *Entry) IsExpired() bool {
	return e.IsExpiredAt(time.Now())
}

// IsExpiredAt checks expiry against the given instant.
func (e *Entry) IsExpiredAt(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// TimeToLive returns the remaining time-to-live for this entry.
// Returns 0 if already expired and -1 if the entry has no expiry.
func (e *Entry) TimeToLive() time.Duration {
	if e.ExpiresAt.IsZero() {
		return -1
	}
	if e.IsExpired() {
		return 0
	}
	return time.Until(e.ExpiresAt)
}

// Result reports the outcome of a cache read.
type Result struct {
	// Value is the decoded value when the read supplied no destination;
	// nil otherwise and on a miss
	Value any

	// Hit indicates whether any tier held the key
	Hit bool

	// Level is the tier that served the value
	Level Level

	// TTLRemaining is the time left before the served entry expires
	TTLRemaining time.Duration

	// Stale marks a value served past its expiry (stale-while-revalidate)
	Stale bool
}

// RemoteStore is the surface the manager needs from a shared store:
// string get/set with expiry, delete, set-add and set-members, key expiry
// updates, cursor scans, and publish/subscribe. Values are opaque bytes;
// serialization is the caller's concern.
type RemoteStore interface {
	// Get retrieves the raw value for key.
	// Returns ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL.
	// A non-positive TTL stores the value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// AddToSet adds members to the set stored at key, creating it if needed.
	AddToSet(ctx context.Context, key string, members ...string) error

	// SetMembers returns all members of the set stored at key.
	// A missing set yields an empty slice, not an error.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Expire sets the TTL of an existing key unconditionally.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ExpireAtLeast ensures an existing key expires no sooner than ttl
	// from now, initializing the expiry if the key has none. It never
	// shortens a TTL.
	ExpireAtLeast(ctx context.Context, key string, ttl time.Duration) error

	// ScanKeys returns all keys matching the glob pattern using an
	// incremental cursor walk, never a blocking full-keyspace command.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// TTL returns the remaining time-to-live of key.
	// Returns -1 for keys without expiry and ErrKeyNotFound for missing keys.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Publish sends payload to all subscribers of channel.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe invokes fn for every message on channel until ctx is
	// canceled or the store is closed. It does not block the caller.
	Subscribe(ctx context.Context, channel string, fn func(payload string)) error

	// Ping verifies connectivity to the store.
	Ping(ctx context.Context) error

	// Name returns the identifier for this store, used in logs and metrics.
	Name() string

	// Close releases any resources held by the store.
	Close() error
}

// Package remote implements the shared cache tier on Redis via rueidis.
// It stores opaque byte values and layers the invalidation primitives the
// manager needs on top: tag membership sets, cursor scans and pub/sub.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cachefront/pkg/cache"

	"github.com/redis/rueidis"
)

// Store is a cache.RemoteStore backed by a Redis server, cluster or
// sentinel deployment.
type Store struct {
	client rueidis.Client
	name   string
	cfg    Config
	closed atomic.Bool
}

// Config holds connection settings for the remote store.
type Config struct {
	Name string

	// Addr is the Redis server address for single node mode.
	// For cluster mode, use ClusterAddrs instead.
	Addr string

	// ClusterAddrs is a list of Redis cluster node addresses.
	// If set, cluster mode is enabled automatically.
	ClusterAddrs []string

	Username string
	Password string

	// DB is the Redis database number. Cluster mode supports only DB 0.
	DB int

	// KeyPrefix is prepended to every key. Pub/sub channels are not prefixed.
	KeyPrefix string

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// ScanCount is the COUNT hint passed to SCAN during pattern walks.
	ScanCount int64

	// ResubscribeWait is how long Subscribe waits before reconnecting
	// after a dropped subscription.
	ResubscribeWait time.Duration

	// Sentinel configuration for high availability.
	// If SentinelAddrs is set, sentinel mode is enabled.
	SentinelMasterSet string
	SentinelAddrs     []string
	SentinelUsername  string
	SentinelPassword  string
}

// DefaultConfig returns a config for a local single-node Redis.
func DefaultConfig() Config {
	return Config{
		Name:            "redis",
		Addr:            "localhost:6379",
		KeyPrefix:       "cache:",
		DialTimeout:     5 * time.Second,
		WriteTimeout:    3 * time.Second,
		ScanCount:       100,
		ResubscribeWait: time.Second,
	}
}

// ClusterConfig returns a configuration for Redis Cluster mode.
func ClusterConfig(name string, clusterAddrs []string, password string) Config {
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.ClusterAddrs = clusterAddrs
	cfg.Password = password
	cfg.Addr = ""
	cfg.DB = 0 // cluster only supports DB 0
	return cfg
}

// SentinelConfig returns a configuration for Redis Sentinel mode.
// masterSet is the name of the monitored master set.
func SentinelConfig(name string, sentinelAddrs []string, masterSet, password string) Config {
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.SentinelAddrs = sentinelAddrs
	cfg.SentinelMasterSet = masterSet
	cfg.Password = password
	cfg.Addr = ""
	return cfg
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config) (*Store, error) {
	if cfg.Name == "" {
		cfg.Name = "redis"
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}
	if cfg.ResubscribeWait <= 0 {
		cfg.ResubscribeWait = time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	var initAddress []string
	switch {
	case len(cfg.ClusterAddrs) > 0:
		initAddress = cfg.ClusterAddrs
	case len(cfg.SentinelAddrs) > 0:
		initAddress = cfg.SentinelAddrs
	case cfg.Addr != "":
		initAddress = []string{cfg.Addr}
	default:
		return nil, fmt.Errorf("remote: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         cfg.Username,
		Password:         cfg.Password,
		SelectDB:         cfg.DB,
		ConnWriteTimeout: cfg.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	}

	if len(cfg.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: cfg.SentinelMasterSet,
			Username:  cfg.SentinelUsername,
			Password:  cfg.SentinelPassword,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("remote: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("remote: failed to ping server: %w", err)
	}

	return &Store{client: client, name: cfg.Name, cfg: cfg}, nil
}

// Get retrieves the raw value for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Get().Key(s.cfg.KeyPrefix + key).Build()
	resp := s.client.Do(ctx, cmd)

	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, cache.ErrKeyNotFound
		}
		return nil, fmt.Errorf("remote get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("remote get: failed to read response: %w", err)
	}

	return data, nil
}

// Set stores value under key. A non-positive ttl stores without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	builder := s.client.B().Set().Key(s.cfg.KeyPrefix + key).Value(rueidis.BinaryString(value))

	var cmd rueidis.Completed
	if ttl > 0 {
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("remote set: %w", err)
	}

	return nil
}

// Delete removes the given keys and returns how many existed.
func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = s.cfg.KeyPrefix + key
	}

	resp := s.client.Do(ctx, s.client.B().Del().Key(fullKeys...).Build())
	if err := resp.Error(); err != nil {
		return 0, fmt.Errorf("remote delete: %w", err)
	}

	removed, err := resp.AsInt64()
	if err != nil {
		return 0, fmt.Errorf("remote delete: failed to read response: %w", err)
	}

	return removed, nil
}

// AddToSet adds members to the set stored at key.
func (s *Store) AddToSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	cmd := s.client.B().Sadd().Key(s.cfg.KeyPrefix + key).Member(members...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("remote sadd: %w", err)
	}

	return nil
}

// SetMembers returns all members of the set stored at key.
// A missing set yields an empty slice.
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	resp := s.client.Do(ctx, s.client.B().Smembers().Key(s.cfg.KeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("remote smembers: %w", err)
	}

	members, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("remote smembers: failed to read response: %w", err)
	}

	return members, nil
}

// Expire sets the TTL of an existing key unconditionally.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	cmd := s.client.B().Expire().Key(s.cfg.KeyPrefix + key).Seconds(ttlSeconds(ttl)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("remote expire: %w", err)
	}
	return nil
}

// ExpireAtLeast ensures an existing key expires no sooner than ttl from
// now. EXPIRE NX initializes keys without an expiry and EXPIRE GT raises
// shorter ones; a longer existing TTL is left alone, so repeated calls
// never shorten a key's life.
func (s *Store) ExpireAtLeast(ctx context.Context, key string, ttl time.Duration) error {
	fullKey := s.cfg.KeyPrefix + key
	secs := ttlSeconds(ttl)

	cmds := []rueidis.Completed{
		s.client.B().Expire().Key(fullKey).Seconds(secs).Nx().Build(),
		s.client.B().Expire().Key(fullKey).Seconds(secs).Gt().Build(),
	}

	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("remote expire: %w", err)
		}
	}

	return nil
}

// ScanKeys returns all keys matching the glob pattern using an
// incremental SCAN walk so large keyspaces are never blocked.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	fullPattern := s.cfg.KeyPrefix + pattern
	prefixLen := len(s.cfg.KeyPrefix)

	var keys []string
	var cursor uint64

	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(fullPattern).Count(s.cfg.ScanCount).Build()
		resp := s.client.Do(ctx, cmd)
		if err := resp.Error(); err != nil {
			return nil, fmt.Errorf("remote scan: %w", err)
		}

		entry, err := resp.AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("remote scan: failed to read response: %w", err)
		}

		for _, key := range entry.Elements {
			if len(key) >= prefixLen {
				keys = append(keys, key[prefixLen:])
			} else {
				keys = append(keys, key)
			}
		}

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// TTL returns the remaining time-to-live of key.
// Returns -1 for keys without expiry and ErrKeyNotFound for missing keys.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	resp := s.client.Do(ctx, s.client.B().Ttl().Key(s.cfg.KeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		return 0, fmt.Errorf("remote ttl: %w", err)
	}

	seconds, err := resp.AsInt64()
	if err != nil {
		return 0, fmt.Errorf("remote ttl: failed to read response: %w", err)
	}

	if seconds == -2 {
		return 0, cache.ErrKeyNotFound
	}

	if seconds == -1 {
		return -1, nil
	}

	return time.Duration(seconds) * time.Second, nil
}

// Publish sends payload to all subscribers of channel.
// Channels are not key-prefixed.
func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	cmd := s.client.B().Publish().Channel(channel).Message(payload).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("remote publish: %w", err)
	}
	return nil
}

// Subscribe invokes fn for every message published to channel. It returns
// immediately; delivery runs on a background goroutine that resubscribes
// after transient failures and stops when ctx is canceled or the store
// is closed.
func (s *Store) Subscribe(ctx context.Context, channel string, fn func(payload string)) error {
	if s.closed.Load() {
		return cache.ErrStoreClosed
	}

	go func() {
		for {
			err := s.client.Receive(ctx, s.client.B().Subscribe().Channel(channel).Build(), func(msg rueidis.PubSubMessage) {
				fn(msg.Message)
			})

			if err == nil || ctx.Err() != nil || s.closed.Load() || errors.Is(err, rueidis.ErrClosing) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ResubscribeWait):
			}
		}
	}()

	return nil
}

// Ping verifies connectivity to the server.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("remote ping: %w", err)
	}
	return nil
}

// FlushDB removes every key in the selected database. Test helper.
func (s *Store) FlushDB(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Flushdb().Build()).Error(); err != nil {
		return fmt.Errorf("remote flushdb: %w", err)
	}
	return nil
}

// Name returns the store identifier.
func (s *Store) Name() string {
	return s.name
}

// Close shuts down the client and stops active subscriptions.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.client.Close()
	return nil
}

// ttlSeconds converts a duration to whole seconds, rounding sub-second
// TTLs up so they do not become 0 (which Redis treats as delete-now).
func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 || secs == 0 {
		secs++
	}
	return secs
}

var _ cache.RemoteStore = (*Store)(nil)

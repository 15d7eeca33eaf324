// Package manager orchestrates the cache tiers: the in-process store
// (L2) and the shared remote store (L3). It implements scoped reads and
// writes, read strategies, tag and pattern invalidation with
// cross-process purge broadcasts, middleware hooks and lifecycle events.
//
// The request-scoped collector (L1) lives in pkg/batch and is composed
// by callers per request, not by the manager.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cachefront/pkg/cache"
	"cachefront/pkg/cache/local"
	"cachefront/pkg/logging"
	"cachefront/pkg/metrics"
	"cachefront/pkg/writer"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// errLevelL1 rejects manager operations addressed to the request tier.
var errLevelL1 = errors.New("manager: l1 is request-scoped, use a batch collector")

// Manager coordinates the cache tiers.
type Manager struct {
	cfg     Config
	local   *local.Store
	remote  cache.RemoteStore
	writer  *writer.Writer
	logger  *logging.Logger
	metrics metrics.Collector

	// origin identifies this instance in invalidation broadcasts so it
	// can skip its own messages.
	origin string

	sf        singleflight.Group
	refreshSF singleflight.Group
	refreshWG sync.WaitGroup

	mu          sync.RWMutex
	middlewares []Middleware
	listeners   []EventListener

	subCancel context.CancelFunc
	closed    atomic.Bool

	invalidations   atomic.Int64
	invalidatedKeys atomic.Int64
	broadcastPurges atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithRemote supplies the shared remote store. Required when
// Config.Remote.Enabled. The manager does not close it; the caller owns
// its lifecycle.
func WithRemote(store cache.RemoteStore) Option {
	return func(m *Manager) { m.remote = store }
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics collector. Ignored unless
// Config.Monitoring.Enabled.
func WithMetrics(mc metrics.Collector) Option {
	return func(m *Manager) { m.metrics = mc }
}

// New creates a manager, starts the local store's sweeper, the remote
// write queue and, when configured, the invalidation listener.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Invalidation.Enabled && cfg.Invalidation.Channel == "" {
		cfg.Invalidation.Channel = DefaultChannel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{origin: uuid.NewString()}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.L().Named("manager")
	}
	if m.metrics == nil || !cfg.Monitoring.Enabled {
		m.metrics = metrics.NoOpCollector{}
	}

	if cfg.Remote.Enabled && m.remote == nil {
		return nil, errors.New("manager: remote tier enabled but no store supplied")
	}
	if !cfg.Remote.Enabled {
		m.remote = nil
	}

	// Surface local evictions as events, keeping any callback the caller
	// installed.
	userEvict := cfg.Local.OnEvict
	cfg.Local.OnEvict = func(key string, reason local.EvictReason) {
		m.emit(EventEvict, key, cache.LevelL2)
		if userEvict != nil {
			userEvict(key, reason)
		}
	}
	m.cfg = cfg

	ls, err := local.New(cfg.Local)
	if err != nil {
		return nil, err
	}
	m.local = ls

	if m.remote != nil {
		m.writer = writer.New(writer.Config{
			Component: "remote",
			Logger:    m.logger,
			Metrics:   m.metrics,
		})
	}

	if cfg.Invalidation.Enabled && m.remote != nil {
		subCtx, cancel := context.WithCancel(context.Background())
		m.subCancel = cancel
		if err := m.remote.Subscribe(subCtx, cfg.Invalidation.Channel, m.handleBroadcast); err != nil {
			m.logger.Warn("invalidation listener unavailable",
				zap.String("channel", cfg.Invalidation.Channel),
				zap.Error(err),
			)
		}
	}

	m.logger.Info("cache manager initialized",
		zap.Bool("remote", m.remote != nil),
		zap.Bool("invalidation", cfg.Invalidation.Enabled),
		zap.Bool("coalesce", cfg.Coalesce),
		zap.String("origin", m.origin),
	)

	return m, nil
}

// Get reads key from the tiers in its scope, L2 before L3. An L3 hit
// back-fills L2 with the smaller of the remaining TTL and the L2
// default. When dest is non-nil the value is decoded into it; otherwise
// the decoded value is returned in Result.Value. A miss is not an error.
func (m *Manager) Get(ctx context.Context, key cache.Key, dest any) (cache.Result, error) {
	start := time.Now()

	if err := cache.ValidateKey(key.Key); err != nil {
		return cache.Result{}, err
	}
	if key.Level == cache.LevelL1 {
		return cache.Result{}, errLevelL1
	}

	m.beforeGet(ctx, key.Key)
	result, err := m.read(ctx, key, dest, start)
	m.afterGet(ctx, key.Key, result)
	return result, err
}

// read performs the tiered lookup for Get.
func (m *Manager) read(ctx context.Context, key cache.Key, dest any, start time.Time) (cache.Result, error) {
	if key.Level.IncludesLocal() {
		if entry, ok := m.local.Get(ctx, key.Key); ok {
			value, derr := decode(entry.Value, dest)
			if derr != nil {
				return cache.Result{}, cache.NewOperationError("get", cache.LevelL2, key.Key, derr)
			}
			m.metrics.RecordCacheOp("read", "l2", "hit", time.Since(start))
			m.emit(EventHit, key.Key, cache.LevelL2)
			return cache.Result{
				Value:        value,
				Hit:          true,
				Level:        cache.LevelL2,
				TTLRemaining: entry.TimeToLive(),
			}, nil
		}
	}

	if key.Level.IncludesRemote() && m.remote != nil {
		payload, err := m.remote.Get(ctx, key.Key)
		switch {
		case err == nil:
			remaining := m.remoteRemaining(ctx, key.Key)
			if key.Level.IncludesLocal() {
				if serr := m.local.Set(ctx, key.Key, payload, m.backfillTTL(remaining)); serr != nil {
					m.logger.Warn("local backfill failed",
						zap.String("key", key.Key),
						zap.Error(serr),
					)
				}
			}
			value, derr := decode(payload, dest)
			if derr != nil {
				return cache.Result{}, cache.NewOperationError("get", cache.LevelL3, key.Key, derr)
			}
			m.metrics.RecordCacheOp("read", "l3", "hit", time.Since(start))
			m.emit(EventHit, key.Key, cache.LevelL3)
			return cache.Result{
				Value:        value,
				Hit:          true,
				Level:        cache.LevelL3,
				TTLRemaining: remaining,
			}, nil
		case cache.IsNotFound(err):
			// fall through to miss
		default:
			// Remote trouble degrades to a miss so callers can continue
			// to the origin.
			m.logger.Warn("remote read failed, treating as miss",
				zap.String("key", key.Key),
				zap.Error(cache.NewOperationError("get", cache.LevelL3, key.Key, err)),
			)
		}
	}

	m.metrics.RecordCacheOp("read", key.Level.String(), "miss", time.Since(start))
	m.emit(EventMiss, key.Key, key.Level)
	return cache.Result{}, nil
}

// remoteRemaining returns key's remaining TTL in L3, or 0 when unknown.
func (m *Manager) remoteRemaining(ctx context.Context, key string) time.Duration {
	ttl, err := m.remote.TTL(ctx, key)
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// backfillTTL bounds an L3 remaining TTL by the local default, so a
// back-filled entry never outlives either.
func (m *Manager) backfillTTL(remaining time.Duration) time.Duration {
	def := m.cfg.Local.TTL.Default
	if remaining <= 0 {
		return def
	}
	if def > 0 && remaining > def {
		return def
	}
	return remaining
}

// Set encodes value as JSON and writes it to every tier in the key's
// scope. The L2 write is synchronous; the L3 write (including tag-set
// registration) goes through the async write queue and never blocks or
// fails the caller.
func (m *Manager) Set(ctx context.Context, key cache.Key, value any) error {
	start := time.Now()

	if err := cache.ValidateKey(key.Key); err != nil {
		return err
	}
	if key.Level == cache.LevelL1 {
		return errLevelL1
	}
	for _, tag := range key.Tags {
		if err := cache.ValidateTag(tag); err != nil {
			return err
		}
	}

	m.beforeSet(ctx, key.Key, value)

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", cache.ErrInvalidValue, err)
	}

	err = m.store(ctx, key, payload)
	m.metrics.RecordCacheOp("write", key.Level.String(), cache.ClassifyError(err), time.Since(start))
	if err == nil {
		m.emit(EventSet, key.Key, key.Level)
	}
	m.afterSet(ctx, key.Key)
	return err
}

// store writes already-encoded bytes to the tiers in scope.
func (m *Manager) store(ctx context.Context, key cache.Key, payload []byte) error {
	var errs []error

	if key.Level.IncludesLocal() {
		if err := m.local.Set(ctx, key.Key, payload, key.TTL); err != nil {
			errs = append(errs, cache.NewOperationError("set", cache.LevelL2, key.Key, err))
		}
	}

	if key.Level.IncludesRemote() && m.remote != nil {
		m.enqueueRemoteSet(ctx, key, payload)
	}

	return errors.Join(errs...)
}

// enqueueRemoteSet ships the L3 write through the async queue: SET the
// value, register the key under each tag set, and push every tag set's
// expiry past twice the member TTL so tags outlive their members.
// The TTL follows the same policy the local tier applies.
func (m *Manager) enqueueRemoteSet(ctx context.Context, key cache.Key, payload []byte) {
	ttl := m.cfg.Local.TTL.Effective(key.TTL)
	tags := append([]string(nil), key.Tags...)

	job := writer.Job{
		Key: key.Key,
		Op:  "set",
		Run: func(jctx context.Context) error {
			if err := m.remote.Set(jctx, key.Key, payload, ttl); err != nil {
				return cache.NewOperationError("set", cache.LevelL3, key.Key, err)
			}
			for _, tag := range tags {
				tagKey := cache.TagKey(tag)
				if err := m.remote.AddToSet(jctx, tagKey, key.Key); err != nil {
					return cache.NewOperationError("set", cache.LevelL3, tagKey, err)
				}
				if ttl > 0 {
					if err := m.remote.ExpireAtLeast(jctx, tagKey, 2*ttl); err != nil {
						return cache.NewOperationError("set", cache.LevelL3, tagKey, err)
					}
				}
			}
			return nil
		},
	}

	if err := m.writer.Enqueue(ctx, job); err != nil {
		m.logger.Warn("remote write not queued",
			zap.String("key", key.Key),
			zap.Error(err),
		)
	}
}

// Delete removes key from every tier in its scope and reports whether
// any tier held it. Remote failures degrade to a warn log.
func (m *Manager) Delete(ctx context.Context, key cache.Key) (bool, error) {
	start := time.Now()

	if err := cache.ValidateKey(key.Key); err != nil {
		return false, err
	}
	if key.Level == cache.LevelL1 {
		return false, errLevelL1
	}

	m.beforeDelete(ctx, key.Key)

	removed := false
	if key.Level.IncludesLocal() {
		removed = m.local.Delete(ctx, key.Key)
	}
	if key.Level.IncludesRemote() && m.remote != nil {
		n, err := m.remote.Delete(ctx, key.Key)
		if err != nil {
			m.logger.Warn("remote delete failed",
				zap.String("key", key.Key),
				zap.Error(cache.NewOperationError("delete", cache.LevelL3, key.Key, err)),
			)
		} else if n > 0 {
			removed = true
		}
	}

	m.metrics.RecordCacheOp("delete", key.Level.String(), "none", time.Since(start))
	if removed {
		m.emit(EventDelete, key.Key, key.Level)
	}
	m.afterDelete(ctx, key.Key, removed)
	return removed, nil
}

// Flush blocks until queued remote writes drain or the timeout elapses.
func (m *Manager) Flush(timeout time.Duration) error {
	if m.writer == nil {
		return nil
	}
	return m.writer.Flush(timeout)
}

// Stats aggregates tier and manager counters.
type Stats struct {
	// Local holds the in-process store's counters
	Local local.Stats

	// Writer holds the remote write queue's counters; zero when the
	// remote tier is disabled
	Writer writer.Stats

	// Invalidations counts tag and pattern invalidations run here
	Invalidations int64

	// InvalidatedKeys counts keys those invalidations removed
	InvalidatedKeys int64

	// BroadcastPurges counts local keys purged by foreign broadcasts
	BroadcastPurges int64
}

// Stats returns a snapshot of manager statistics.
func (m *Manager) Stats() Stats {
	st := Stats{
		Local:           m.local.Stats(),
		Invalidations:   m.invalidations.Load(),
		InvalidatedKeys: m.invalidatedKeys.Load(),
		BroadcastPurges: m.broadcastPurges.Load(),
	}
	if m.writer != nil {
		st.Writer = m.writer.Stats()
	}
	return st
}

// Close stops the invalidation listener, waits for background
// revalidations, drains the write queue and closes the local store.
// The remote store is owned by the caller and stays open.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	if m.subCancel != nil {
		m.subCancel()
	}
	m.refreshWG.Wait()

	var errs []error
	if m.writer != nil {
		errs = append(errs, m.writer.Close())
	}
	errs = append(errs, m.local.Close())
	return errors.Join(errs...)
}

// decode unmarshals payload into dest when given, otherwise into a
// generic value that is returned for Result.Value.
func decode(payload []byte, dest any) (any, error) {
	if dest != nil {
		if err := json.Unmarshal(payload, dest); err != nil {
			return nil, fmt.Errorf("%w: %v", cache.ErrInvalidValue, err)
		}
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", cache.ErrInvalidValue, err)
	}
	return value, nil
}

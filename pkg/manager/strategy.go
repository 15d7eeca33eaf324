package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cachefront/pkg/cache"

	"go.uber.org/zap"
)

// Strategy selects how GetOrSet balances cached data against the
// factory.
type Strategy int

const (
	// CacheFirst returns a cached value when present, otherwise calls
	// the factory and stores the result. The default.
	CacheFirst Strategy = iota

	// NetworkFirst calls the factory and stores the result. When the
	// factory fails it falls back to a cached value, stale included,
	// masking the failure.
	NetworkFirst

	// CacheOnly never calls the factory. A miss returns ErrCacheMiss.
	CacheOnly

	// NetworkOnly always calls the factory and stores the result,
	// never reading the cache.
	NetworkOnly

	// StaleWhileRevalidate serves any cached value immediately, stale
	// included, and refreshes it in the background. With nothing cached
	// it behaves like CacheFirst.
	StaleWhileRevalidate
)

// String returns the strategy name used in logs.
func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache_first"
	case NetworkFirst:
		return "network_first"
	case CacheOnly:
		return "cache_only"
	case NetworkOnly:
		return "network_only"
	case StaleWhileRevalidate:
		return "stale_while_revalidate"
	default:
		return "unknown"
	}
}

// Factory produces the value for a key when the cache cannot.
type Factory func(ctx context.Context) (any, error)

// revalidateTimeout bounds a background refresh.
const revalidateTimeout = 30 * time.Second

// GetOrSet reads key per the strategy, calling factory on demand and
// writing its result through every tier in the key's scope. Decoding
// follows the same dest rules as Get.
func (m *Manager) GetOrSet(ctx context.Context, key cache.Key, dest any, factory Factory, strategy Strategy) (cache.Result, error) {
	if err := cache.ValidateKey(key.Key); err != nil {
		return cache.Result{}, err
	}
	if key.Level == cache.LevelL1 {
		return cache.Result{}, errLevelL1
	}

	switch strategy {
	case CacheFirst:
		res, err := m.Get(ctx, key, dest)
		if err != nil || res.Hit {
			return res, err
		}
		return m.fetch(ctx, key, dest, factory, m.cfg.Coalesce)

	case NetworkFirst:
		return m.networkFirst(ctx, key, dest, factory)

	case CacheOnly:
		res, err := m.Get(ctx, key, dest)
		if err != nil {
			return res, err
		}
		if !res.Hit {
			return res, cache.ErrCacheMiss
		}
		return res, nil

	case NetworkOnly:
		return m.fetch(ctx, key, dest, factory, false)

	case StaleWhileRevalidate:
		return m.staleWhileRevalidate(ctx, key, dest, factory)

	default:
		return cache.Result{}, fmt.Errorf("manager: unknown strategy %d", strategy)
	}
}

// fetch runs the factory, stores its result and returns it decoded.
// With coalesce set, concurrent fetches of the same key share one
// factory call.
func (m *Manager) fetch(ctx context.Context, key cache.Key, dest any, factory Factory, coalesce bool) (cache.Result, error) {
	fill := func() (any, error) {
		value, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		payload, merr := json.Marshal(value)
		if merr != nil {
			return nil, fmt.Errorf("%w: %v", cache.ErrInvalidValue, merr)
		}
		if serr := m.store(ctx, key, payload); serr != nil {
			m.logger.Warn("store after fetch failed",
				zap.String("key", key.Key),
				zap.Error(serr),
			)
		} else {
			m.emit(EventSet, key.Key, key.Level)
		}
		return payload, nil
	}

	var payload []byte
	if coalesce {
		v, err, _ := m.sf.Do(key.Key, func() (interface{}, error) { return fill() })
		if err != nil {
			return cache.Result{}, err
		}
		payload = v.([]byte)
	} else {
		v, err := fill()
		if err != nil {
			return cache.Result{}, err
		}
		payload = v.([]byte)
	}

	value, derr := decode(payload, dest)
	if derr != nil {
		return cache.Result{}, derr
	}
	return cache.Result{Value: value}, nil
}

// networkFirst tries the factory and falls back to any cached value,
// stale included, when it fails.
func (m *Manager) networkFirst(ctx context.Context, key cache.Key, dest any, factory Factory) (cache.Result, error) {
	res, err := m.fetch(ctx, key, dest, factory, m.cfg.Coalesce)
	if err == nil {
		return res, nil
	}

	if cached, ok := m.cachedValue(ctx, key, dest, true); ok {
		m.logger.Warn("factory failed, serving cached value",
			zap.String("key", key.Key),
			zap.Bool("stale", cached.Stale),
			zap.Error(err),
		)
		m.metrics.RecordCacheOp("read", cached.Level.String(), readStatus(cached), 0)
		return cached, nil
	}
	return cache.Result{}, err
}

// staleWhileRevalidate serves whatever is cached and refreshes it out
// of band. Even a fresh hit triggers a refresh.
func (m *Manager) staleWhileRevalidate(ctx context.Context, key cache.Key, dest any, factory Factory) (cache.Result, error) {
	if cached, ok := m.cachedValue(ctx, key, dest, true); ok {
		m.metrics.RecordCacheOp("read", cached.Level.String(), readStatus(cached), 0)
		m.emit(EventHit, key.Key, cached.Level)
		m.revalidate(key, factory)
		return cached, nil
	}
	return m.fetch(ctx, key, dest, factory, m.cfg.Coalesce)
}

// cachedValue reads key from its scope without recording a miss and,
// when allowStale is set, accepts an expired L2 entry.
func (m *Manager) cachedValue(ctx context.Context, key cache.Key, dest any, allowStale bool) (cache.Result, bool) {
	if key.Level.IncludesLocal() {
		var (
			entry cache.Entry
			stale bool
			ok    bool
		)
		if allowStale {
			entry, stale, ok = m.local.GetStale(ctx, key.Key)
		} else {
			entry, ok = m.local.Get(ctx, key.Key)
		}
		if ok {
			value, derr := decode(entry.Value, dest)
			if derr != nil {
				return cache.Result{}, false
			}
			return cache.Result{
				Value:        value,
				Hit:          true,
				Level:        cache.LevelL2,
				Stale:        stale,
				TTLRemaining: entry.TimeToLive(),
			}, true
		}
	}

	if key.Level.IncludesRemote() && m.remote != nil {
		payload, err := m.remote.Get(ctx, key.Key)
		if err == nil {
			value, derr := decode(payload, dest)
			if derr != nil {
				return cache.Result{}, false
			}
			return cache.Result{
				Value:        value,
				Hit:          true,
				Level:        cache.LevelL3,
				TTLRemaining: m.remoteRemaining(ctx, key.Key),
			}, true
		}
		if !cache.IsNotFound(err) {
			m.logger.Warn("remote read failed",
				zap.String("key", key.Key),
				zap.Error(err),
			)
		}
	}

	return cache.Result{}, false
}

// revalidate refreshes key from the factory in the background. The
// refresh gets its own deadline so it survives the caller's request
// context. Concurrent refreshes of the same key collapse to one.
func (m *Manager) revalidate(key cache.Key, factory Factory) {
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("revalidation panic",
					zap.String("key", key.Key),
					zap.Any("panic", r),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
		defer cancel()

		run := func() (interface{}, error) {
			value, err := factory(ctx)
			if err != nil {
				return nil, err
			}
			payload, merr := json.Marshal(value)
			if merr != nil {
				return nil, fmt.Errorf("%w: %v", cache.ErrInvalidValue, merr)
			}
			return nil, m.store(ctx, key, payload)
		}

		var err error
		if m.cfg.Coalesce {
			_, err, _ = m.refreshSF.Do(key.Key, run)
		} else {
			_, err = run()
		}
		if err != nil {
			m.logger.Warn("background revalidation failed",
				zap.String("key", key.Key),
				zap.Error(err),
			)
		}
	}()
}

// readStatus labels a served cache read for metrics.
func readStatus(res cache.Result) string {
	if res.Stale {
		return "stale"
	}
	return "hit"
}

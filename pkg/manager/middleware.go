package manager

import (
	"context"

	"cachefront/pkg/cache"

	"go.uber.org/zap"
)

// Middleware holds optional hooks that run around the primary cache
// operations. Every field may be nil. A hook error or panic is logged
// at warn level and never aborts the operation it wraps.
type Middleware struct {
	BeforeGet    func(ctx context.Context, key string) error
	AfterGet     func(ctx context.Context, key string, result cache.Result) error
	BeforeSet    func(ctx context.Context, key string, value any) error
	AfterSet     func(ctx context.Context, key string) error
	BeforeDelete func(ctx context.Context, key string) error
	AfterDelete  func(ctx context.Context, key string, removed bool) error
}

// Use appends a middleware. Hooks run in registration order.
func (m *Manager) Use(mw Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middlewares = append(m.middlewares, mw)
}

// runHook executes one hook, containing errors and panics.
func (m *Manager) runHook(name, key string, hook func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("middleware hook panicked",
				zap.String("hook", name),
				zap.String("key", key),
				zap.Any("panic", r),
			)
		}
	}()
	if err := hook(); err != nil {
		m.logger.Warn("middleware hook failed",
			zap.String("hook", name),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (m *Manager) beforeGet(ctx context.Context, key string) {
	m.mu.RLock()
	mws := m.middlewares
	m.mu.RUnlock()
	for _, mw := range mws {
		if mw.BeforeGet != nil {
			m.runHook("before_get", key, func() error { return mw.BeforeGet(ctx, key) })
		}
	}
}

func (m *Manager) afterGet(ctx context.Context, key string, result cache.Result) {
	m.mu.RLock()
	mws := m.middlewares
	m.mu.RUnlock()
	for _, mw := range mws {
		if mw.AfterGet != nil {
			m.runHook("after_get", key, func() error { return mw.AfterGet(ctx, key, result) })
		}
	}
}

func (m *Manager) beforeSet(ctx context.Context, key string, value any) {
	m.mu.RLock()
	mws := m.middlewares
	m.mu.RUnlock()
	for _, mw := range mws {
		if mw.BeforeSet != nil {
			m.runHook("before_set", key, func() error { return mw.BeforeSet(ctx, key, value) })
		}
	}
}

func (m *Manager) afterSet(ctx context.Context, key string) {
	m.mu.RLock()
	mws := m.middlewares
	m.mu.RUnlock()
	for _, mw := range mws {
		if mw.AfterSet != nil {
			m.runHook("after_set", key, func() error { return mw.AfterSet(ctx, key) })
		}
	}
}

func (m *Manager) beforeDelete(ctx context.Context, key string) {
	m.mu.RLock()
	mws := m.middlewares
	m.mu.RUnlock()
	for _, mw := range mws {
		if mw.BeforeDelete != nil {
			m.runHook("before_delete", key, func() error { return mw.BeforeDelete(ctx, key) })
		}
	}
}

func (m *Manager) afterDelete(ctx context.Context, key string, removed bool) {
	m.mu.RLock()
	mws := m.middlewares
	m.mu.RUnlock()
	for _, mw := range mws {
		if mw.AfterDelete != nil {
			m.runHook("after_delete", key, func() error { return mw.AfterDelete(ctx, key, removed) })
		}
	}
}

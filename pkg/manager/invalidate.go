package manager

import (
	"context"
	"encoding/json"

	"cachefront/pkg/cache"

	"go.uber.org/zap"
)

// broadcastMessage is the payload published on the invalidation
// channel. Origin lets instances skip their own broadcasts.
type broadcastMessage struct {
	Origin string   `json:"origin"`
	Kind   string   `json:"kind"`
	Keys   []string `json:"keys"`
}

// InvalidateByTag removes every key registered under tag from all
// tiers, removes the tag set itself, and broadcasts the purged keys to
// other instances. It returns the number of keys the tag held. Tag
// membership lives in the remote store, so the remote tier is required.
func (m *Manager) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	if err := cache.ValidateTag(tag); err != nil {
		return 0, err
	}
	tagKey := cache.TagKey(tag)
	if m.remote == nil {
		return 0, cache.NewOperationError("invalidate", cache.LevelL3, tagKey, cache.ErrStoreUnavailable)
	}

	members, err := m.remote.SetMembers(ctx, tagKey)
	if err != nil {
		return 0, cache.NewOperationError("invalidate", cache.LevelL3, tagKey, err)
	}

	if _, err := m.remote.Delete(ctx, append(append([]string(nil), members...), tagKey)...); err != nil {
		return 0, cache.NewOperationError("invalidate", cache.LevelL3, tagKey, err)
	}
	for _, key := range members {
		m.local.Delete(ctx, key)
	}
	m.broadcast(ctx, "tag", members)

	m.invalidations.Add(1)
	m.invalidatedKeys.Add(int64(len(members)))
	m.metrics.RecordInvalidation("tag", len(members))
	for _, key := range members {
		m.emit(EventInvalidate, key, cache.LevelAll)
	}
	m.logger.Info("tag invalidated",
		zap.String("tag", tag),
		zap.Int("keys", len(members)),
	)
	return len(members), nil
}

// InvalidateByPattern removes every key matching the glob pattern from
// all tiers and broadcasts the purge. Matching runs against the remote
// store's keyspace; only keys it resolves are purged locally, so the
// remote tier is required.
func (m *Manager) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	if m.remote == nil {
		return 0, cache.NewOperationError("invalidate", cache.LevelL3, pattern, cache.ErrStoreUnavailable)
	}

	keys, err := m.remote.ScanKeys(ctx, pattern)
	if err != nil {
		return 0, cache.NewOperationError("invalidate", cache.LevelL3, pattern, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if _, err := m.remote.Delete(ctx, keys...); err != nil {
		return 0, cache.NewOperationError("invalidate", cache.LevelL3, pattern, err)
	}
	for _, key := range keys {
		m.local.Delete(ctx, key)
	}
	m.broadcast(ctx, "pattern", keys)

	m.invalidations.Add(1)
	m.invalidatedKeys.Add(int64(len(keys)))
	m.metrics.RecordInvalidation("pattern", len(keys))
	for _, key := range keys {
		m.emit(EventInvalidate, key, cache.LevelAll)
	}
	m.logger.Info("pattern invalidated",
		zap.String("pattern", pattern),
		zap.Int("keys", len(keys)),
	)
	return len(keys), nil
}

// broadcast publishes the purged keys on the invalidation channel.
// Best effort: a failed publish leaves other instances to their TTLs.
func (m *Manager) broadcast(ctx context.Context, kind string, keys []string) {
	if !m.cfg.Invalidation.Enabled || len(keys) == 0 {
		return
	}

	payload, err := json.Marshal(broadcastMessage{
		Origin: m.origin,
		Kind:   kind,
		Keys:   keys,
	})
	if err != nil {
		return
	}

	if err := m.remote.Publish(ctx, m.cfg.Invalidation.Channel, string(payload)); err != nil {
		m.logger.Warn("invalidation broadcast failed",
			zap.String("kind", kind),
			zap.Int("keys", len(keys)),
			zap.Error(err),
		)
	}
}

// handleBroadcast purges local copies of keys another instance
// invalidated.
func (m *Manager) handleBroadcast(payload string) {
	var msg broadcastMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		m.logger.Warn("malformed invalidation message", zap.Error(err))
		return
	}
	if msg.Origin == m.origin {
		return
	}

	ctx := context.Background()
	purged := 0
	for _, key := range msg.Keys {
		if m.local.Delete(ctx, key) {
			purged++
		}
		m.emit(EventInvalidate, key, cache.LevelL2)
	}

	m.broadcastPurges.Add(int64(purged))
	m.metrics.RecordInvalidation("broadcast", purged)
	m.logger.Debug("applied invalidation broadcast",
		zap.String("kind", msg.Kind),
		zap.Int("keys", len(msg.Keys)),
		zap.Int("purged", purged),
	)
}

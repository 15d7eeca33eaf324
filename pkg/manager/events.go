package manager

import (
	"time"

	"cachefront/pkg/cache"

	"go.uber.org/zap"
)

// EventType labels a cache lifecycle event.
type EventType string

const (
	EventHit        EventType = "hit"
	EventMiss       EventType = "miss"
	EventSet        EventType = "set"
	EventDelete     EventType = "delete"
	EventEvict      EventType = "evict"
	EventInvalidate EventType = "invalidate"
)

// Event describes one cache lifecycle occurrence.
type Event struct {
	Type  EventType
	Key   string
	Level cache.Level
	At    time.Time
}

// EventListener receives cache events. Delivery is synchronous on the
// operation's goroutine; slow listeners slow the cache.
type EventListener func(Event)

// Notify registers a listener for all future events.
func (m *Manager) Notify(listener EventListener) {
	if listener == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// emit delivers an event to every listener. A panicking listener is
// logged and isolated so it cannot take down the operation or its peers.
func (m *Manager) emit(eventType EventType, key string, level cache.Level) {
	m.mu.RLock()
	listeners := m.listeners
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	event := Event{Type: eventType, Key: key, Level: level, At: time.Now()}
	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("event listener panicked",
						zap.String("event", string(eventType)),
						zap.String("key", key),
						zap.Any("panic", r),
					)
				}
			}()
			listener(event)
		}()
	}
}

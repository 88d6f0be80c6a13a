// Package observer lets interested parties learn that the rows behind a
// locator changed.
package observer

import (
	"sync"

	"cineshelf/locator"

	"go.uber.org/zap"
)

// Callback receives the locator that was notified.
type Callback func(locator.Locator)

// Registry maps locator strings to callbacks. Matching is exact: a
// notification for content://cineshelf/movie does not reach observers of
// content://cineshelf/movie/3.
type Registry struct {
	mu     sync.RWMutex
	nextID uint64
	// routes maps locator string -> subscription id -> callback
	routes map[string]map[uint64]Callback
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		routes: make(map[string]map[uint64]Callback),
		logger: logger.Named("observer"),
	}
}

// Subscription is the handle returned by Register.
type Subscription struct {
	registry *Registry
	key      string
	id       uint64
	once     sync.Once
}

// Unregister removes the callback. Calling it more than once is harmless.
func (s *Subscription) Unregister() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.registry.remove(s.key, s.id)
	})
}

// Register adds fn as an observer of loc.
func (r *Registry) Register(loc locator.Locator, fn Callback) *Subscription {
	key := loc.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	callbacks, ok := r.routes[key]
	if !ok {
		callbacks = make(map[uint64]Callback)
		r.routes[key] = callbacks
	}
	callbacks[id] = fn

	r.logger.Debug("observer registered", zap.String("locator", key), zap.Uint64("id", id))
	return &Subscription{registry: r, key: key, id: id}
}

func (r *Registry) remove(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	callbacks, ok := r.routes[key]
	if !ok {
		return
	}
	delete(callbacks, id)
	if len(callbacks) == 0 {
		delete(r.routes, key)
	}
	r.logger.Debug("observer removed", zap.String("locator", key), zap.Uint64("id", id))
}

// Notify calls every observer registered for exactly loc. Callbacks run on
// the calling goroutine after the registry lock is released, so they may
// register or unregister freely.
func (r *Registry) Notify(loc locator.Locator) {
	key := loc.String()

	r.mu.RLock()
	callbacks := make([]Callback, 0, len(r.routes[key]))
	for _, fn := range r.routes[key] {
		callbacks = append(callbacks, fn)
	}
	r.mu.RUnlock()

	r.logger.Debug("notify", zap.String("locator", key), zap.Int("observers", len(callbacks)))
	for _, fn := range callbacks {
		fn(loc)
	}
}

// Count returns the number of observers of loc.
func (r *Registry) Count(loc locator.Locator) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes[loc.String()])
}

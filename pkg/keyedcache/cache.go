package keyedcache

import (
	"log/slog"
	"sync"
)

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithAlive sets the liveness predicate checked on every lookup.
// Entries failing the check are treated as absent and replaced on the next
// GetOrCreate. Without a predicate, presence alone means alive.
func WithAlive[V any](fn func(V) bool) Option[V] {
	return func(c *Cache[V]) {
		if fn != nil {
			c.alive = fn
		}
	}
}

// WithTeardown sets the cleanup function invoked on a stale entry before it
// is replaced and on entries dropped by Clear. Teardown errors are logged and
// swallowed; they must never block provisioning a replacement.
func WithTeardown[V any](fn func(V) error) Option[V] {
	return func(c *Cache[V]) {
		if fn != nil {
			c.teardown = fn
		}
	}
}

func WithLogger[V any](log *slog.Logger) Option[V] {
	return func(c *Cache[V]) {
		if log != nil {
			c.log = log
		}
	}
}

// Cache is a thread-safe mapping from fingerprint keys to live resources.
// The zero value is not usable; construct instances with New.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]V

	// Per-key creation locks. Allocated lazily via LoadOrStore so racing
	// callers agree on a single lock per key; losers are discarded.
	locks sync.Map // string -> *sync.Mutex

	alive    func(V) bool
	teardown func(V) error
	log      *slog.Logger
}

// New creates an empty cache.
func New[V any](opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]V),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCreate returns the live entry for key, creating it with factory if the
// entry is missing or dead. At most one factory invocation runs per key at a
// time; concurrent callers for the same key block until the winner stores its
// result and then receive that same resource.
//
// Factory errors propagate unchanged to the caller and are never cached.
func (c *Cache[V]) GetOrCreate(key string, factory func() (V, error)) (V, error) {
	// Fast path: live entry, no per-key lock taken.
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have created or replaced the entry while this one
	// waited on the lock.
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	c.mu.RLock()
	stale, hasStale := c.entries[key]
	c.mu.RUnlock()
	if hasStale {
		c.dispose(key, stale)
	}

	v, err := factory()
	if err != nil {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()

	return v, nil
}

// Get returns the live entry for key without creating anything.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lookup(key)
}

// Remove deletes the entry for key without tearing it down, returning the
// removed value. The per-key lock is left in place for in-flight retries and
// is reclaimed later by ReapLocks.
func (c *Cache[V]) Remove(key string) (V, bool) {
	c.mu.Lock()
	v, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return v, ok
}

// RemoveLock deletes the per-key lock, if any. Used by disposal callbacks
// that already know the key is gone for good.
func (c *Cache[V]) RemoveLock(key string) {
	c.locks.Delete(key)
}

// Keys returns an advisory snapshot of the keys currently in the entry table.
// It may race benignly with concurrent insertions and removals.
func (c *Cache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ReapLocks removes per-key locks whose key is absent from the entry table,
// returning the number removed. The sweep is best-effort: it is not
// synchronized with in-flight creation, so a lock may be legitimately
// recreated right after reclamation.
func (c *Cache[V]) ReapLocks() int {
	c.mu.RLock()
	live := make(map[string]struct{}, len(c.entries))
	for key := range c.entries {
		live[key] = struct{}{}
	}
	c.mu.RUnlock()

	reaped := 0
	c.locks.Range(func(key, _ any) bool {
		if _, ok := live[key.(string)]; !ok {
			c.locks.Delete(key)
			reaped++
		}
		return true
	})
	return reaped
}

// Clear tears down and removes all entries and drops all per-key locks.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]V)
	c.mu.Unlock()

	for key, v := range entries {
		c.dispose(key, v)
	}
	c.locks.Range(func(key, _ any) bool {
		c.locks.Delete(key)
		return true
	})
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || (c.alive != nil && !c.alive(v)) {
		var zero V
		return zero, false
	}
	return v, true
}

func (c *Cache[V]) keyLock(key string) *sync.Mutex {
	if l, ok := c.locks.Load(key); ok {
		return l.(*sync.Mutex)
	}
	l, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (c *Cache[V]) dispose(key string, v V) {
	if c.teardown == nil {
		return
	}
	if err := c.teardown(v); err != nil {
		c.log.Error("failed to tear down stale cache entry",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

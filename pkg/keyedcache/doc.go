// Package keyedcache provides a generic, thread-safe cache that maps opaque
// fingerprints to live resources such as database engines or SSH tunnels,
// guaranteeing at most one in-flight creation per key.
//
// The cache pairs an entry table with a lazily populated per-key lock table.
// Lookups of live entries never contend: the fast path takes only a short
// table-level read lock. Creation and replacement are serialized per key via
// double-checked locking, so concurrent callers asking for the same key block
// on each other while callers for different keys proceed fully in parallel.
//
// # Usage
//
//	cache := keyedcache.New[*Conn](
//		keyedcache.WithAlive[*Conn](func(c *Conn) bool { return c.Healthy() }),
//		keyedcache.WithTeardown[*Conn](func(c *Conn) error { return c.Close() }),
//	)
//
//	conn, err := cache.GetOrCreate(key, func() (*Conn, error) {
//		return dial(addr)
//	})
//
// Factory failures are never cached: the caller receives the error unchanged
// and the next caller retries. Teardown failures during replacement are
// logged and swallowed so a dead resource can always be replaced.
//
// # Lock reclamation
//
// Per-key locks are created on first miss and persist after their entry is
// gone, so long-running processes must reclaim them. ReapLocks removes locks
// whose key is absent from the entry table; the Reaper type runs that sweep
// on a fixed interval as a background task:
//
//	reaper := keyedcache.NewReaper(func() {
//		cache.ReapLocks()
//	})
//	reaper.Start()
//	defer reaper.Stop()
//
// Reclamation is best-effort and unsynchronized with in-flight creation: a
// reclaimed lock may be immediately recreated by a retrying caller, costing
// one extra allocation but never correctness.
package keyedcache

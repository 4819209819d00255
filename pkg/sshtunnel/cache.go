package sshtunnel

import (
	"log/slog"
	"net/url"
	"time"

	"github.com/dmitrymomot/dbconn/pkg/keyedcache"
)

// DefaultKeepalive is the probe interval for cached, long-lived tunnels.
const DefaultKeepalive = 30 * time.Second

// Option configures a Cache.
type Option func(*Cache)

// WithKeepalive sets the keepalive probe interval for tunnels opened by the
// cache. Zero disables the probe; short-lived tunnels that are not meant to
// be reused do not need one.
func WithKeepalive(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.keepalive = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// Cache reuses healthy tunnels across callers asking for the same forwarding
// parameters. An inactive tunnel is always torn down and replaced, never
// patched in place.
type Cache struct {
	tunnels   *keyedcache.Cache[*Tunnel]
	keepalive time.Duration
	log       *slog.Logger
}

// NewCache creates an empty tunnel cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		keepalive: DefaultKeepalive,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tunnels = keyedcache.New(
		keyedcache.WithAlive[*Tunnel]((*Tunnel).Active),
		keyedcache.WithTeardown[*Tunnel]((*Tunnel).Stop),
		keyedcache.WithLogger[*Tunnel](c.log),
	)
	return c
}

// GetTunnel returns a live tunnel forwarding to the target database,
// creating one if none exists or the cached one reports inactive. Concurrent
// callers with identical parameters share a single tunnel creation.
func (c *Cache) GetTunnel(cfg Config, target *url.URL) (*Tunnel, error) {
	params, err := newForwardParams(cfg, target, int(c.keepalive/time.Second))
	if err != nil {
		return nil, err
	}

	key, err := keyedcache.Fingerprint(params)
	if err != nil {
		return nil, err
	}

	tunnel, err := c.tunnels.GetOrCreate(key, func() (*Tunnel, error) {
		t, err := open(params, c.log)
		if err != nil {
			c.log.Error("failed to create ssh tunnel",
				slog.String("key", key),
				slog.String("error", err.Error()))
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return tunnel, nil
}

// Keys returns an advisory snapshot of live tunnel keys.
func (c *Cache) Keys() []string {
	return c.tunnels.Keys()
}

// ReapLocks removes per-key locks whose tunnel no longer exists, returning
// the number removed.
func (c *Cache) ReapLocks() int {
	return c.tunnels.ReapLocks()
}

// Close stops every cached tunnel and clears the cache.
func (c *Cache) Close() {
	c.tunnels.Clear()
}

package engine

import "time"

// Mode controls whether engines are cached across requests.
type Mode string

const (
	// ModePerConnection builds a fresh, non-pooling engine for every request
	// and disposes it on release. This is the default: it trades repeated
	// setup cost for isolation between requests.
	ModePerConnection Mode = "per_connection"

	// ModePooled caches engines under a fingerprint of their connection
	// parameters and reuses them across requests. Databases running in this
	// mode should configure a connection pool in their extra settings.
	ModePooled Mode = "pooled"
)

// Config holds manager settings.
type Config struct {
	Mode Mode `env:"DBCONN_MODE" envDefault:"per_connection"` // Mode is the engine caching mode.

	CleanupInterval time.Duration `env:"DBCONN_CLEANUP_INTERVAL" envDefault:"5m"`  // CleanupInterval is how often abandoned per-key locks are reclaimed.
	TunnelKeepalive time.Duration `env:"DBCONN_TUNNEL_KEEPALIVE" envDefault:"30s"` // TunnelKeepalive is the ssh keepalive probe interval for cached tunnels. Ignored in per-connection mode.

	DefaultPoolSize    int           `env:"DBCONN_DEFAULT_POOL_SIZE" envDefault:"5"`     // DefaultPoolSize is used when a pooled database does not set one.
	DefaultPoolRecycle time.Duration `env:"DBCONN_DEFAULT_POOL_RECYCLE" envDefault:"1h"` // DefaultPoolRecycle bounds the lifetime of pooled connections when no recycle interval is configured.
}

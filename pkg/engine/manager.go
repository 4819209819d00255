package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/dmitrymomot/dbconn/pkg/keyedcache"
	"github.com/dmitrymomot/dbconn/pkg/sshtunnel"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithUserDirectory sets the username directory consulted by the
// email-prefix impersonation feature.
func WithUserDirectory(users UserDirectory) ManagerOption {
	return func(m *Manager) { m.users = users }
}

// WithFlagChecker sets the feature-flag collaborator.
func WithFlagChecker(flags FlagChecker) ManagerOption {
	return func(m *Manager) { m.flags = flags }
}

// WithTokenStore sets the delegated-access token store used for
// impersonated connections.
func WithTokenStore(tokens TokenStore) ManagerOption {
	return func(m *Manager) { m.tokens = tokens }
}

// WithEngineContextHook sets the hook wrapping scoped engine acquisition.
func WithEngineContextHook(hook EngineContextHook) ManagerOption {
	return func(m *Manager) { m.engineCtx = hook }
}

// WithURIMutator sets the globally configured URI/params mutator.
func WithURIMutator(mutator URIMutator) ManagerOption {
	return func(m *Manager) { m.mutator = mutator }
}

// WithReauthDetector sets the delegated-auth-expiry detector.
func WithReauthDetector(detector ReauthDetector) ManagerOption {
	return func(m *Manager) { m.reauth = detector }
}

// Manager builds and caches database engines, tunneling through SSH when the
// database requires it. Construct one Manager per process and pass the handle
// to request-handling code; it is safe for concurrent use.
type Manager struct {
	cfg Config
	log *slog.Logger

	engines *keyedcache.Cache[*Engine]
	tunnels *sshtunnel.Cache
	reaper  *keyedcache.Reaper

	users     UserDirectory
	flags     FlagChecker
	tokens    TokenStore
	engineCtx EngineContextHook
	mutator   URIMutator
	reauth    ReauthDetector
}

// NewManager creates a manager. Zero config fields fall back to defaults
// (per-connection mode, 5m cleanup interval, 30s tunnel keepalive, pool size
// 5, 1h pool recycle).
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = ModePerConnection
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = keyedcache.DefaultReapInterval
	}
	if cfg.TunnelKeepalive <= 0 {
		cfg.TunnelKeepalive = sshtunnel.DefaultKeepalive
	}
	if cfg.DefaultPoolSize <= 0 {
		cfg.DefaultPoolSize = 5
	}
	if cfg.DefaultPoolRecycle <= 0 {
		cfg.DefaultPoolRecycle = defaultPoolRecycle
	}

	m := &Manager{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.engines = keyedcache.New(
		keyedcache.WithTeardown[*Engine]((*Engine).Dispose),
		keyedcache.WithLogger[*Engine](m.log),
	)

	// Per-connection tunnels are not reused long enough to need keepalive.
	keepalive := cfg.TunnelKeepalive
	if cfg.Mode == ModePerConnection {
		keepalive = 0
	}
	m.tunnels = sshtunnel.NewCache(
		sshtunnel.WithKeepalive(keepalive),
		sshtunnel.WithLogger(m.log),
	)

	m.reaper = keyedcache.NewReaper(m.reapLocks,
		keyedcache.WithReapInterval(cfg.CleanupInterval),
		keyedcache.WithReaperLogger(m.log),
	)

	return m
}

// Mode returns the manager's caching mode.
func (m *Manager) Mode() Mode { return m.cfg.Mode }

// AcquireEngine returns an engine for the database scoped to the requested
// catalog, schema and query source, plus a release function the caller must
// invoke when done. In per-connection mode release disposes the engine; for
// cached engines it only unwinds the engine-context hook.
//
// A connection failure caused by an expired delegated-access token is
// surfaced as an error wrapping ErrReauthRequired so callers can start the
// re-authentication flow instead of retrying.
func (m *Manager) AcquireEngine(ctx context.Context, db Database, catalog, schema string, source QuerySource) (*Engine, func(), error) {
	if db == nil {
		return nil, nil, ErrNilDatabase
	}
	if source == SourceUnknown {
		if s, ok := QuerySourceFromContext(ctx); ok {
			source = s
		}
	}

	// Callers can wrap engine acquisition in their own context for
	// gating or instrumentation.
	cleanup := func() {}
	if m.engineCtx != nil {
		wrapped, hookCleanup, err := m.engineCtx(ctx, db, catalog, schema)
		if err != nil {
			return nil, nil, err
		}
		if wrapped != nil {
			ctx = wrapped
		}
		if hookCleanup != nil {
			cleanup = hookCleanup
		}
	}

	eng, err := m.getEngine(ctx, db, catalog, schema, source)
	if err != nil {
		cleanup()
		if m.reauth != nil && m.reauth(err) {
			return nil, nil, errors.Join(ErrReauthRequired, err)
		}
		return nil, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if m.cfg.Mode == ModePerConnection {
				if err := eng.Dispose(); err != nil {
					m.log.Warn("failed to dispose per-connection engine",
						slog.String("engine_id", eng.ID().String()),
						slog.String("error", err.Error()))
				}
			}
			cleanup()
		})
	}
	return eng, release, nil
}

// getEngine returns a cached engine or creates one. In per-connection mode
// no key is computed and nothing is cached.
func (m *Manager) getEngine(ctx context.Context, db Database, catalog, schema string, source QuerySource) (*Engine, error) {
	userID, _ := UserIDFromContext(ctx)

	params, err := m.assembleParams(ctx, db, catalog, schema, source, userID)
	if err != nil {
		return nil, err
	}

	if m.cfg.Mode == ModePerConnection {
		return m.buildEngine(db, params)
	}

	key, err := params.fingerprint(catalog, schema, source)
	if err != nil {
		return nil, err
	}

	return m.engines.GetOrCreate(key, func() (*Engine, error) {
		eng, err := m.buildEngine(db, params)
		if err != nil {
			m.log.Error("failed to create engine",
				slog.String("database", db.Name()),
				slog.String("key", key),
				slog.String("error", err.Error()))
			return nil, err
		}

		// When the pooling layer disposes the engine for its own reasons,
		// evict the entry and its lock instead of waiting for the reaper.
		eng.OnDispose(func(e *Engine) {
			if _, ok := m.engines.Remove(key); ok {
				m.engines.RemoveLock(key)
				m.log.Info("engine disposed and removed from cache",
					slog.String("engine_id", e.ID().String()),
					slog.String("key", key))
			}
		})

		return eng, nil
	})
}

// buildEngine obtains a tunnel when the database needs one, rewires the URI
// to the tunnel's local endpoint and constructs the engine. Driver errors
// are translated through the family dialect before propagation.
func (m *Manager) buildEngine(db Database, params engineParams) (*Engine, error) {
	if tcfg := db.SSHTunnel(); tcfg != nil {
		tunnel, err := m.tunnels.GetTunnel(*tcfg, params.uri)
		if err != nil {
			return nil, err
		}
		u := *params.uri
		u.Host = net.JoinHostPort(tunnel.LocalAddr(), strconv.Itoa(tunnel.LocalPort()))
		params.uri = &u
	}

	eng, err := newEngine(params, m.log)
	if err != nil {
		if errors.Is(err, ErrUnknownDriver) {
			return nil, err
		}
		return nil, db.Dialect().MapDriverError(err)
	}
	return eng, nil
}

// StartReaper launches the background lock reaper. Idempotent.
func (m *Manager) StartReaper() { m.reaper.Start() }

// StopReaper stops the background lock reaper with a bounded wait. Idempotent.
func (m *Manager) StopReaper() { m.reaper.Stop() }

// Cleanup triggers an out-of-band lock sweep, e.g. from an administrative
// endpoint or tests.
func (m *Manager) Cleanup() { m.reaper.Trigger() }

// EngineKeys returns an advisory snapshot of cached engine keys.
func (m *Manager) EngineKeys() []string { return m.engines.Keys() }

// TunnelKeys returns an advisory snapshot of live tunnel keys.
func (m *Manager) TunnelKeys() []string { return m.tunnels.Keys() }

// Close stops the reaper, disposes all cached engines and stops all tunnels.
// The manager must not be used afterwards.
func (m *Manager) Close() {
	m.reaper.Stop()
	m.engines.Clear()
	m.tunnels.Close()
}

// reapLocks removes per-key locks whose resource no longer exists, for both
// caches independently.
func (m *Manager) reapLocks() {
	if n := m.engines.ReapLocks(); n > 0 {
		m.log.Debug("reclaimed abandoned engine locks", slog.Int("count", n))
	}
	if n := m.tunnels.ReapLocks(); n > 0 {
		m.log.Debug("reclaimed abandoned tunnel locks", slog.Int("count", n))
	}
}

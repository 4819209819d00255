// Package engine is the connection-resource layer for applications that
// issue queries against many heterogeneous external databases, some
// reachable only through an SSH tunnel.
//
// Given a logical database configuration plus request context (catalog,
// schema, caller identity, query source), the Manager produces a ready-to-use
// engine handle while minimizing expensive connection and tunnel setup,
// guaranteeing that concurrent callers asking for the same resource share at
// most one in-flight creation, and never logging or persisting the
// credentials used to build the resource.
//
// # Modes
//
// In the default per-connection mode every acquisition builds a fresh,
// non-pooling engine that is disposed on release: full isolation between
// requests at the cost of repeated setup. In pooled mode engines are cached
// under a fingerprint of their fully assembled connection parameters and
// reused across requests; databases running pooled should configure a pool
// class in their extra settings.
//
// # Usage
//
//	manager := engine.NewManager(cfg,
//		engine.WithLogger(log),
//		engine.WithTokenStore(tokens),
//	)
//	manager.StartReaper()
//	defer manager.Close()
//
//	eng, release, err := manager.AcquireEngine(ctx, db, "analytics", "public", engine.SourceChart)
//	if err != nil {
//		// errors.Is(err, engine.ErrReauthRequired) starts the re-auth flow
//		return err
//	}
//	defer release()
//
//	rows, err := eng.DB().QueryContext(ctx, query)
//
// Construct one Manager per process and pass the handle to request-handling
// code; all methods are safe for concurrent use. The background reaper
// reclaims per-key creation locks whose engine or tunnel is gone, keeping
// the lock tables bounded in long-running processes.
package engine

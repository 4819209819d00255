package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"
)

// Engine is a configured connection handle to an external database. It wraps
// a database/sql pool with the resolved pooling profile and supports
// disposal observers so caches can evict entries when the engine is disposed
// out from under them.
//
// An engine stays individually usable after removal from a cache; disposal
// is the only operation that invalidates it.
type Engine struct {
	id      uuid.UUID
	db      *sql.DB
	uri     string // redacted, safe for logs
	driver  string
	profile poolProfile
	log     *slog.Logger

	mu        sync.Mutex
	disposed  bool
	onDispose []func(*Engine)
}

// newEngine opens the database handle and applies the pooling profile.
// Opening is lazy: no connection is dialed until the handle is used, so
// errors here are configuration errors (unknown driver, malformed DSN).
func newEngine(p engineParams, log *slog.Logger) (*Engine, error) {
	driver := p.driver
	if driver == "" {
		driver = p.uri.Scheme
	}
	if driver == "" {
		return nil, ErrUnknownDriver
	}

	db, err := sql.Open(driver, p.dsn())
	if err != nil {
		return nil, err
	}
	p.pool.apply(db)

	e := &Engine{
		id:      uuid.New(),
		db:      db,
		uri:     redactURI(p.uri),
		driver:  driver,
		profile: p.pool,
		log:     log,
	}

	log.Info("engine created",
		slog.String("engine_id", e.id.String()),
		slog.String("uri", e.uri),
		slog.String("pool_class", string(p.pool.Class)))

	return e, nil
}

// ID identifies the engine instance in logs.
func (e *Engine) ID() uuid.UUID { return e.id }

// DB returns the underlying handle.
func (e *Engine) DB() *sql.DB { return e.db }

// Conn checks out a dedicated connection from the engine. It returns
// ErrEngineDisposed once Dispose has run.
func (e *Engine) Conn(ctx context.Context) (*sql.Conn, error) {
	e.mu.Lock()
	disposed := e.disposed
	e.mu.Unlock()
	if disposed {
		return nil, ErrEngineDisposed
	}
	return e.db.Conn(ctx)
}

// URI returns the connection URI with credentials redacted.
func (e *Engine) URI() string { return e.uri }

// PoolClass returns the pooling profile the engine was built with.
func (e *Engine) PoolClass() PoolClass { return e.profile.Class }

// Disposed reports whether Dispose has run.
func (e *Engine) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// OnDispose registers a callback fired when the engine is disposed.
// Registering on an already disposed engine fires the callback immediately.
func (e *Engine) OnDispose(fn func(*Engine)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	disposed := e.disposed
	if !disposed {
		e.onDispose = append(e.onDispose, fn)
	}
	e.mu.Unlock()

	if disposed {
		e.fire(fn)
	}
}

// Dispose closes the underlying handle and fires registered callbacks.
// Callback failures are logged and swallowed; they must not affect the
// handle's own disposal. Dispose is idempotent.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	e.disposed = true
	callbacks := e.onDispose
	e.onDispose = nil
	e.mu.Unlock()

	err := e.db.Close()
	for _, fn := range callbacks {
		e.fire(fn)
	}

	e.log.Info("engine disposed", slog.String("engine_id", e.id.String()))
	return err
}

func (e *Engine) fire(fn func(*Engine)) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("engine disposal callback panicked",
				slog.String("engine_id", e.id.String()),
				slog.String("panic", fmt.Sprint(rec)))
		}
	}()
	fn(e)
}

// redactURI strips the password from a URI for logging.
func redactURI(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	r := *u
	if _, hasPassword := u.User.Password(); hasPassword {
		r.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return r.String()
}

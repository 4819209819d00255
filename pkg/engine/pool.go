package engine

import (
	"database/sql"
	"time"
)

// defaultPoolRecycle bounds staleness of pooled connections when neither the
// database extra nor the manager config sets a recycle interval.
const defaultPoolRecycle = time.Hour

// PoolClass names a connection-pooling profile. The names mirror the pool
// classes databases configure in their extra settings.
type PoolClass string

const (
	// PoolQueue is a bounded pool of reusable connections, the default for
	// pooled databases.
	PoolQueue PoolClass = "queue"

	// PoolSingleton keeps a single reusable connection.
	PoolSingleton PoolClass = "singleton"

	// PoolAssertion allows a single connection and no idle reuse, useful for
	// flushing out connection leaks.
	PoolAssertion PoolClass = "assertion"

	// PoolNull disables pooling entirely; every use dials fresh.
	PoolNull PoolClass = "null"

	// PoolStatic keeps exactly one pinned connection.
	PoolStatic PoolClass = "static"
)

// normalizePoolClass maps a configured pool-class name to a known class,
// falling back to queue for unrecognized names.
func normalizePoolClass(name string) PoolClass {
	switch PoolClass(name) {
	case PoolQueue, PoolSingleton, PoolAssertion, PoolNull, PoolStatic:
		return PoolClass(name)
	default:
		return PoolQueue
	}
}

// poolProfile is the resolved pooling configuration applied to an engine.
type poolProfile struct {
	Class   PoolClass     `json:"class"`
	Size    int           `json:"size"`
	Recycle time.Duration `json:"recycle"`
}

// apply maps the profile onto database/sql pool knobs.
func (p poolProfile) apply(db *sql.DB) {
	switch p.Class {
	case PoolNull:
		db.SetMaxIdleConns(0)
	case PoolStatic, PoolSingleton:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case PoolAssertion:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(0)
	case PoolQueue:
		db.SetMaxOpenConns(p.Size)
		db.SetMaxIdleConns(p.Size)
	}
	if p.Class != PoolNull && p.Recycle > 0 {
		db.SetConnMaxLifetime(p.Recycle)
	}
}

package engine

import (
	"context"
	"net/url"
)

// EngineContextHook wraps scoped engine acquisition. It may transform the
// context or gate access; the returned cleanup runs when the engine is
// released. It is invoked around, not inside, the cache logic.
type EngineContextHook func(ctx context.Context, db Database, catalog, schema string) (context.Context, func(), error)

// URIMutator is a globally configured hook applied to the assembled URI and
// engine params right before validation. It receives the resolved connecting
// username and the query source.
type URIMutator func(uri *url.URL, params map[string]any, username string, source QuerySource) (*url.URL, map[string]any, error)

// ReauthDetector reports whether a connection failure indicates an expired
// delegated-access token, in which case the manager surfaces
// ErrReauthRequired instead of a generic connection error.
type ReauthDetector func(err error) bool

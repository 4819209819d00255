package engine

import (
	"context"
	"errors"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/dbconn/pkg/keyedcache"
)

// engineParams is the fully assembled input to engine construction. "Fully"
// up to the SSH tunnel: when the database tunnels, the URI host/port are
// rewritten to the tunnel's local endpoint only at creation time, because the
// local port is not known until the tunnel exists.
type engineParams struct {
	uri         *url.URL
	pool        poolProfile
	connectArgs map[string]string
	params      map[string]any
	username    string
	driver      string
}

// dsn folds the connect args into the URI query and renders the final DSN.
func (p engineParams) dsn() string {
	u := *p.uri
	q := u.Query()
	for k, v := range p.connectArgs {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// fingerprint derives the engine cache key. Every parameter that changes
// connection behavior is part of the hashed payload so keys never collide
// across semantically different engines, and secrets never appear as keys.
func (p engineParams) fingerprint(catalog, schema string, source QuerySource) (string, error) {
	payload := map[string]any{
		"uri":                  p.uri.String(),
		"pool_class":           string(p.pool.Class),
		"pool_size":            p.pool.Size,
		"pool_recycle_seconds": int(p.pool.Recycle / time.Second),
		"connect_args":         p.connectArgs,
		"engine_params":        p.params,
		"username":             p.username,
		"catalog":              catalog,
		"schema":               schema,
		"source":               string(source),
	}
	return keyedcache.Fingerprint(payload)
}

// assembleParams runs the parameter pipeline. Order matters: later steps
// rewrite the URI produced by earlier ones.
func (m *Manager) assembleParams(ctx context.Context, db Database, catalog, schema string, source QuerySource, userID int64) (engineParams, error) {
	d := db.Dialect()

	// Decrypt and parse the stored connection URI.
	rawURI, err := db.URI()
	if err != nil {
		return engineParams{}, err
	}
	uri, err := url.Parse(rawURI)
	if err != nil {
		return engineParams{}, errors.Join(ErrInvalidURI, err)
	}

	// Per-database settings scoped by query source.
	extra, err := db.Extra(source)
	if err != nil {
		return engineParams{}, err
	}
	params := make(map[string]any, len(extra.Params))
	maps.Copy(params, extra.Params)
	connectArgs := make(map[string]string, len(extra.ConnectArgs))
	maps.Copy(connectArgs, extra.ConnectArgs)

	// Pool selection. Per-connection mode and databases without a configured
	// pool class always get the null pool; real pools without an explicit
	// recycle interval default to the manager's, bounding connection
	// staleness.
	pool := poolProfile{Class: PoolNull}
	if m.cfg.Mode == ModePooled && extra.PoolClass != "" {
		pool.Class = normalizePoolClass(extra.PoolClass)
		if pool.Class != PoolNull {
			pool.Size = extra.PoolSize
			if pool.Size <= 0 {
				pool.Size = m.cfg.DefaultPoolSize
			}
			pool.Recycle = extra.PoolRecycle
			if pool.Recycle <= 0 {
				pool.Recycle = m.cfg.DefaultPoolRecycle
			}
		}
	}

	// Catalog/schema adjustment is family-specific.
	uri, connectArgs, err = d.AdjustEngineParams(uri, connectArgs, catalog, schema)
	if err != nil {
		return engineParams{}, err
	}

	// Resolve the effective connecting username, optionally truncated to the
	// email local part when the opt-in flag is enabled.
	username := d.EffectiveUser(uri)
	if username != "" && m.users != nil && m.flags != nil &&
		m.flags.IsEnabled(ctx, FlagImpersonateWithEmailPrefix) {
		if user, err := m.users.FindUser(ctx, username); err == nil && user != nil {
			if at := strings.Index(user.Email, "@"); at > 0 {
				username = user.Email[:at]
			}
		}
	}

	// User impersonation, with a delegated-access token when both an OAuth2
	// config and a user identity are present.
	if db.ImpersonateUser() {
		token, err := m.accessToken(ctx, db, userID)
		if err != nil {
			return engineParams{}, err
		}
		uri, connectArgs, err = d.ImpersonateUser(uri, connectArgs, username, token)
		if err != nil {
			return engineParams{}, err
		}
	}

	// Overlay params stored encrypted at rest.
	encrypted, err := db.EncryptedExtra()
	if err != nil {
		return engineParams{}, err
	}
	maps.Copy(params, encrypted)

	// Globally configured mutator hook.
	if m.mutator != nil {
		uri, params, err = m.mutator(uri, params, username, source)
		if err != nil {
			return engineParams{}, err
		}
	}

	// Validate the final URI; validation failure aborts creation.
	if err := d.ValidateURI(uri); err != nil {
		return engineParams{}, errors.Join(ErrURIValidation, err)
	}

	return engineParams{
		uri:         uri,
		pool:        pool,
		connectArgs: connectArgs,
		params:      params,
		username:    username,
		driver:      d.DriverName(),
	}, nil
}

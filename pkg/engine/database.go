package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/dmitrymomot/dbconn/pkg/engine/dialect"
	"github.com/dmitrymomot/dbconn/pkg/secrets"
	"github.com/dmitrymomot/dbconn/pkg/sshtunnel"
)

// Extra holds the per-database engine settings, optionally scoped by query
// source.
type Extra struct {
	// PoolClass selects the pooling profile by name (queue, singleton,
	// assertion, null, static). Empty means no pooling even in pooled mode.
	PoolClass string `json:"poolclass,omitempty"`

	// PoolSize bounds the queue pool. Zero uses the manager default.
	PoolSize int `json:"pool_size,omitempty"`

	// PoolRecycle bounds the lifetime of pooled connections. Zero uses the
	// manager default for real pools.
	PoolRecycle time.Duration `json:"pool_recycle,omitempty"`

	// ConnectArgs are driver-level connection parameters folded into the
	// final DSN (for example search_path).
	ConnectArgs map[string]string `json:"connect_args,omitempty"`

	// Params are engine parameters that affect connection behavior and are
	// therefore part of the engine fingerprint.
	Params map[string]any `json:"engine_params,omitempty"`
}

// Database supplies everything the manager needs to build an engine. It is
// an external collaborator; StoredDatabase is the bundled implementation
// over encrypted-at-rest columns.
type Database interface {
	// ID uniquely identifies the database configuration.
	ID() int64

	// Name is a human-readable label used in logs.
	Name() string

	// URI returns the decrypted connection URI.
	URI() (string, error)

	// Extra returns the engine settings for the given query source.
	Extra(source QuerySource) (Extra, error)

	// EncryptedExtra returns the parameter overlay stored encrypted at
	// rest, already decrypted. May be nil.
	EncryptedExtra() (map[string]any, error)

	// ImpersonateUser reports whether queries should run as the end user.
	ImpersonateUser() bool

	// OAuth2Config returns the delegated-auth configuration, or nil when
	// impersonation does not use delegated tokens.
	OAuth2Config() *oauth2.Config

	// SSHTunnel returns the tunnel configuration, or nil when the database
	// is directly reachable.
	SSHTunnel() *sshtunnel.Config

	// Dialect returns the family-specific adapter.
	Dialect() dialect.Dialect
}

// User is the directory record consulted by the email-prefix impersonation
// feature.
type User struct {
	Username string
	Email    string
}

// UserDirectory resolves usernames to directory records.
type UserDirectory interface {
	FindUser(ctx context.Context, username string) (*User, error)
}

// FlagChecker gates opt-in features. Implementations that cannot evaluate a
// flag should return false.
type FlagChecker interface {
	IsEnabled(ctx context.Context, flag string) bool
}

// FlagImpersonateWithEmailPrefix truncates the resolved username to the
// local part of the user's email before impersonation.
const FlagImpersonateWithEmailPrefix = "impersonate_with_email_prefix"

// StoredDatabase implements Database over columns stored encrypted at rest.
// URI and parameter overlays are decrypted with the compound of the
// application key and the per-database key.
type StoredDatabase struct {
	DatabaseID   int64
	DatabaseName string

	// EncryptedURI is the AES-GCM encrypted, base64-encoded connection URI.
	EncryptedURI string

	// EncryptedParams is the encrypted parameter overlay, a base64-encoded
	// JSON object. Empty means no overlay.
	EncryptedParams string

	// Extras holds engine settings per query source; SourceUnknown is the
	// fallback for sources without an entry.
	Extras map[QuerySource]Extra

	Impersonate bool
	OAuth2      *oauth2.Config
	Tunnel      *sshtunnel.Config
	Family      dialect.Dialect

	// AppKey and DatabaseKey form the compound decryption key.
	AppKey      []byte
	DatabaseKey []byte
}

var _ Database = (*StoredDatabase)(nil)

func (d *StoredDatabase) ID() int64    { return d.DatabaseID }
func (d *StoredDatabase) Name() string { return d.DatabaseName }

func (d *StoredDatabase) URI() (string, error) {
	return secrets.DecryptString(d.AppKey, d.DatabaseKey, d.EncryptedURI)
}

func (d *StoredDatabase) Extra(source QuerySource) (Extra, error) {
	if extra, ok := d.Extras[source]; ok {
		return extra, nil
	}
	return d.Extras[SourceUnknown], nil
}

func (d *StoredDatabase) EncryptedExtra() (map[string]any, error) {
	if d.EncryptedParams == "" {
		return nil, nil
	}
	plaintext, err := secrets.DecryptString(d.AppKey, d.DatabaseKey, d.EncryptedParams)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(plaintext), &params); err != nil {
		return nil, errors.Join(ErrInvalidEncryptedParams, err)
	}
	return params, nil
}

func (d *StoredDatabase) ImpersonateUser() bool        { return d.Impersonate }
func (d *StoredDatabase) OAuth2Config() *oauth2.Config { return d.OAuth2 }
func (d *StoredDatabase) SSHTunnel() *sshtunnel.Config { return d.Tunnel }

func (d *StoredDatabase) Dialect() dialect.Dialect {
	if d.Family != nil {
		return d.Family
	}
	return dialect.Generic{}
}

package dialect

import (
	"net/url"
	"strings"
	"sync"
)

// Dialect adapts URI handling and error translation to a database family.
// Implementations must be safe for concurrent use; they are shared across
// every engine of their family.
type Dialect interface {
	// DriverName returns the database/sql driver used to open connections.
	DriverName() string

	// AdjustEngineParams rewrites the URI and connect args for the requested
	// catalog and schema. Either may be empty, meaning "keep the default".
	AdjustEngineParams(uri *url.URL, connectArgs map[string]string, catalog, schema string) (*url.URL, map[string]string, error)

	// EffectiveUser resolves the username that will connect with this URI.
	EffectiveUser(uri *url.URL) string

	// ImpersonateUser rewrites the URI and connect args so queries run as
	// username. When accessToken is non-empty it replaces the password as
	// the credential.
	ImpersonateUser(uri *url.URL, connectArgs map[string]string, username, accessToken string) (*url.URL, map[string]string, error)

	// ValidateURI rejects URIs the family cannot connect to. Returned
	// errors wrap ErrInvalidURI.
	ValidateURI(uri *url.URL) error

	// MapDriverError translates a raw driver error into the normalized
	// taxonomy. nil is passed through.
	MapDriverError(err error) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Dialect)
)

// Register binds a dialect to a URI scheme family. Later registrations for
// the same family win, which lets applications override the built-ins.
func Register(family string, d Dialect) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(family)] = d
}

// Lookup resolves the dialect for a URI scheme, stripping any "+driver"
// suffix. Unregistered families resolve to the Generic dialect.
func Lookup(scheme string) Dialect {
	family := strings.ToLower(strings.SplitN(scheme, "+", 2)[0])

	registryMu.RLock()
	defer registryMu.RUnlock()
	if d, ok := registry[family]; ok {
		return d
	}
	return Generic{}
}

package dialect

import (
	"fmt"
	"net/url"
)

// Generic is the fallback dialect for families without a registered adapter.
// It passes URIs through untouched and opens connections with a driver named
// after the URI scheme, so it works for any database/sql driver registered
// under its conventional name.
type Generic struct {
	// Driver overrides the database/sql driver name. When empty, the URI
	// scheme is used as the driver name.
	Driver string
}

func (g Generic) DriverName() string { return g.Driver }

func (Generic) AdjustEngineParams(uri *url.URL, connectArgs map[string]string, catalog, schema string) (*url.URL, map[string]string, error) {
	if catalog != "" {
		u := *uri
		u.Path = "/" + catalog
		uri = &u
	}
	return uri, connectArgs, nil
}

func (Generic) EffectiveUser(uri *url.URL) string {
	if uri.User == nil {
		return ""
	}
	return uri.User.Username()
}

func (Generic) ImpersonateUser(uri *url.URL, connectArgs map[string]string, username, accessToken string) (*url.URL, map[string]string, error) {
	if username == "" {
		return uri, connectArgs, nil
	}
	u := *uri
	if accessToken != "" {
		u.User = url.UserPassword(username, accessToken)
	} else if password, ok := uri.User.Password(); ok {
		u.User = url.UserPassword(username, password)
	} else {
		u.User = url.User(username)
	}
	return &u, connectArgs, nil
}

func (Generic) ValidateURI(uri *url.URL) error {
	if uri.Scheme == "" {
		return fmt.Errorf("%w: missing scheme", ErrInvalidURI)
	}
	if uri.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURI)
	}
	return nil
}

func (Generic) MapDriverError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDriver, err)
}

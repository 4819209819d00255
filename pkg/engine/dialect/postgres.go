package dialect

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
)

func init() {
	Register("postgres", Postgres{})
	Register("postgresql", Postgres{})
}

// Postgres adapts engine construction for PostgreSQL and wire-compatible
// databases, connecting through the pgx stdlib driver.
type Postgres struct{}

func (Postgres) DriverName() string { return "pgx" }

// AdjustEngineParams maps the catalog to the database component of the URI
// and the schema to the search_path runtime parameter.
func (Postgres) AdjustEngineParams(uri *url.URL, connectArgs map[string]string, catalog, schema string) (*url.URL, map[string]string, error) {
	if catalog != "" {
		u := *uri
		u.Path = "/" + catalog
		uri = &u
	}
	if schema != "" {
		if connectArgs == nil {
			connectArgs = make(map[string]string)
		}
		connectArgs["search_path"] = schema
	}
	return uri, connectArgs, nil
}

func (Postgres) EffectiveUser(uri *url.URL) string {
	if uri.User == nil {
		return ""
	}
	return uri.User.Username()
}

// ImpersonateUser swaps the connecting role. With a delegated access token
// the token becomes the password; otherwise the stored password is kept for
// proxy-auth setups where the service account authenticates on behalf of the
// user.
func (Postgres) ImpersonateUser(uri *url.URL, connectArgs map[string]string, username, accessToken string) (*url.URL, map[string]string, error) {
	if username == "" {
		return uri, connectArgs, nil
	}
	u := *uri
	switch {
	case accessToken != "":
		u.User = url.UserPassword(username, accessToken)
	default:
		if password, ok := uri.User.Password(); ok {
			u.User = url.UserPassword(username, password)
		} else {
			u.User = url.User(username)
		}
	}
	return &u, connectArgs, nil
}

func (Postgres) ValidateURI(uri *url.URL) error {
	family := strings.SplitN(strings.ToLower(uri.Scheme), "+", 2)[0]
	if family != "postgres" && family != "postgresql" {
		return fmt.Errorf("%w: unexpected scheme %q", ErrInvalidURI, uri.Scheme)
	}
	if uri.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURI)
	}
	return nil
}

// MapDriverError translates pgconn error codes into the normalized taxonomy.
// Class 28 is invalid authorization, 3D000 is an unknown database, class 08
// covers connection exceptions.
func (Postgres) MapDriverError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "28"):
			return fmt.Errorf("%w: %s", ErrAccessDenied, pgErr.Message)
		case pgErr.Code == "3D000":
			return fmt.Errorf("%w: %s", ErrUnknownCatalog, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %s", ErrConnectionFailed, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrDriver, pgErr.Message)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return fmt.Errorf("%w: %w", ErrDriver, err)
}

package dialect

import "errors"

// Normalized error taxonomy. Driver errors surfaced during engine
// construction are translated into one of these families via MapDriverError.
var (
	// ErrAccessDenied covers authentication and authorization failures.
	ErrAccessDenied = errors.New("database access denied")

	// ErrUnknownCatalog is returned when the requested catalog/database
	// does not exist.
	ErrUnknownCatalog = errors.New("unknown catalog")

	// ErrConnectionFailed covers network-level connection failures.
	ErrConnectionFailed = errors.New("failed to connect to database")

	// ErrDriver is the fallback family for unrecognized driver errors.
	ErrDriver = errors.New("database driver error")

	// ErrInvalidURI is returned by ValidateURI for URIs the family cannot
	// connect to.
	ErrInvalidURI = errors.New("invalid database uri")
)

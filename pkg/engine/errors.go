package engine

import "errors"

var (
	// ErrNilDatabase is returned when a nil database is passed to the manager.
	ErrNilDatabase = errors.New("database cannot be nil")

	// ErrInvalidURI is returned when the stored connection URI cannot be parsed.
	ErrInvalidURI = errors.New("failed to parse connection uri")

	// ErrURIValidation is returned when the fully assembled URI is rejected
	// by the database family's dialect.
	ErrURIValidation = errors.New("connection uri failed validation")

	// ErrReauthRequired signals that the delegated-access token expired and
	// the user must re-authenticate before the connection can be retried.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrTokenRefresh is returned when a delegated-access token cannot be
	// refreshed for an impersonated connection.
	ErrTokenRefresh = errors.New("failed to refresh delegated access token")

	// ErrEngineDisposed is returned when a disposed engine is used.
	ErrEngineDisposed = errors.New("engine has been disposed")

	// ErrUnknownDriver is returned when no database/sql driver can be
	// resolved for the connection URI.
	ErrUnknownDriver = errors.New("no driver for connection uri")

	// ErrInvalidEncryptedParams is returned when the decrypted parameter
	// overlay is not a JSON object.
	ErrInvalidEncryptedParams = errors.New("invalid encrypted engine params")
)

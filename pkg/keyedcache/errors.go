package keyedcache

import "errors"

var (
	// ErrFingerprintFailed is returned when resource parameters cannot be
	// serialized for hashing.
	ErrFingerprintFailed = errors.New("failed to fingerprint resource parameters")
)

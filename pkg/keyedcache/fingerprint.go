package keyedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// Fingerprint derives a cache key from the parameters that define a
// resource's identity. The value is serialized to canonical JSON (map keys
// are marshaled in sorted order) and hashed, so identical parameter sets
// always produce the same key while the key itself never contains the
// credentials or key material used to build the resource.
//
// Returns a 64-character hex-encoded SHA-256 digest.
func Fingerprint(params any) (string, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return "", errors.Join(ErrFingerprintFailed, err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

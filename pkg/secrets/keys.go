package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the required size for both the app and per-database keys.
	KeySize = 32 // 256 bits for AES-256

	// saltInfo provides domain separation for HKDF derivation.
	saltInfo = "dbconn-secrets-v1"
)

// ValidateKeys checks that both keys are the correct length. Both checks
// always run so validation time does not depend on which key is wrong.
func ValidateKeys(appKey, databaseKey []byte) error {
	validApp := len(appKey) == KeySize
	validDatabase := len(databaseKey) == KeySize

	if !validApp {
		return ErrInvalidAppKey
	}
	if !validDatabase {
		return ErrInvalidDatabaseKey
	}
	return nil
}

// deriveKey creates the compound key from the app and database keys using
// HKDF-SHA-256. Callers must zero the returned key with clearBytes once done.
func deriveKey(appKey, databaseKey []byte) ([]byte, error) {
	hkdfReader := hkdf.New(sha256.New, appKey, databaseKey, []byte(saltInfo))

	derivedKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdfReader, derivedKey); err != nil {
		return nil, errors.Join(ErrKeyDerivationFailed, err)
	}
	return derivedKey, nil
}

// clearBytes zeros a byte slice to shorten the window key material stays in
// memory after use.
func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateKey creates a new random 32-byte key suitable for encryption.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

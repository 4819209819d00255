// Package secrets protects database credentials stored at rest: connection
// URIs, passwords embedded in them, and encrypted engine-parameter overlays.
//
// A compound 32-byte key is derived from the application key and a
// per-database key using HKDF-SHA-256, then used with AES-256-GCM. The nonce
// is prepended to the ciphertext so encrypted values are self-contained, and
// string helpers base64-encode the result for storage in text columns.
//
// # Usage
//
//	appKey, _ := secrets.GenerateKey()
//	dbKey, _ := secrets.GenerateKey()
//
//	stored, err := secrets.EncryptString(appKey, dbKey, "postgres://svc:hunter2@db/prod")
//	// persist stored alongside the database configuration
//
//	uri, err := secrets.DecryptString(appKey, dbKey, stored)
//
// Compromise of a single per-database key exposes only that database's
// credentials; the application key alone decrypts nothing.
package secrets

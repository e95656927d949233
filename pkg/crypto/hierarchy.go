package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key hierarchy: a single master key is derived from the user secret per
// authentication event, and every working key is expanded from it under a
// domain-separated label. No function here logs, persists, or transmits a
// derived key; callers are responsible for Wipe.

// dekDomain prefixes the expansion label for data encryption keys
const dekDomain = "DEK:"

// Expand derives length bytes from masterKey under the given context label
// using HKDF-SHA256. Distinct labels yield unlinkable outputs from the same
// master key.
func Expand(masterKey []byte, label string, length int) ([]byte, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKey
	}

	r := hkdf.New(sha256.New, masterKey, nil, []byte(label))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to expand key for %q: %w", label, err)
	}
	return out, nil
}

// DeriveMasterKey derives the master key from a user secret and the
// persisted PIN salt. The master key lives only for the duration of the
// authentication call.
func DeriveMasterKey(secret, pinSalt []byte) ([]byte, error) {
	return DeriveKey(secret, pinSalt)
}

// DeriveDEK derives the data encryption key from the master key. The
// context must be a stable installation identifier so the same install
// always re-derives the same DEK; the DEK itself is never persisted.
func DeriveDEK(masterKey []byte, context string) ([]byte, error) {
	return Expand(masterKey, dekDomain+context, KeySize)
}

// DeriveBEK derives the backup encryption key from a backup password and a
// fresh per-backup salt. Independent PBKDF2 path: the backup password is a
// different secret than the PIN, so compromise of one does not compromise
// the other.
func DeriveBEK(password []byte, backupSalt []byte) ([]byte, error) {
	return DeriveKey(password, backupSalt)
}

package crypto

import "fmt"

const (
	// KeySize is the length of all working keys (AES-256)
	KeySize = 32
	// NonceSize is the GCM nonce length used by the on-disk formats
	NonceSize = 16
	// TagSize is the GCM authentication tag length
	TagSize = 16
	// SaltSize is the salt length for PBKDF2 derivation
	SaltSize = 32
	// PBKDF2Iterations slows offline brute force of low-entropy secrets
	// to roughly 100ms per guess while staying usable interactively
	PBKDF2Iterations = 100000
	// ChecksumLength is the length of a hex-encoded SHA-256 digest
	ChecksumLength = 64
)

var (
	ErrInvalidKey           = fmt.Errorf("invalid encryption key")
	ErrInvalidSalt          = fmt.Errorf("invalid salt")
	ErrInvalidCiphertext    = fmt.Errorf("invalid ciphertext")
	ErrAuthenticationFailed = fmt.Errorf("authentication failed - data may be tampered")
)

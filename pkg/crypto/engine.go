package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Engine provides AES-256-GCM encryption and decryption bound to one key.
// The engine copies the key it is given; Close wipes the copy.
type Engine struct {
	key []byte
}

// NewEngine creates an encryption engine with the given 32-byte key
func NewEngine(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	// Copy to avoid external mutations
	k := make([]byte, KeySize)
	copy(k, key)

	return &Engine{key: k}, nil
}

// Encrypt encrypts plaintext with the engine's key
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	return EncryptWithKey(plaintext, e.key)
}

// Decrypt decrypts ciphertext with the engine's key
func (e *Engine) Decrypt(ciphertext []byte) ([]byte, error) {
	return DecryptWithKey(ciphertext, e.key)
}

// Close wipes the engine's key copy. The engine must not be used afterwards.
func (e *Engine) Close() {
	Wipe(e.key)
}

// GenerateSalt generates a cryptographically secure random salt
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// GenerateNonce generates a cryptographically secure random nonce
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// GenerateKey generates a cryptographically secure random encryption key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a 32-byte key from a secret and salt using
// PBKDF2-HMAC-SHA256. Deterministic: identical inputs always yield
// identical output.
func DeriveKey(secret, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, ErrInvalidSalt
	}
	return pbkdf2.Key(secret, salt, PBKDF2Iterations, KeySize, sha256.New), nil
}

// EncryptWithKey encrypts plaintext using AES-256-GCM.
// Returns: nonce + ciphertext + tag concatenated.
func EncryptWithKey(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	result := make([]byte, NonceSize+len(ciphertext))
	copy(result[:NonceSize], nonce)
	copy(result[NonceSize:], ciphertext)

	return result, nil
}

// DecryptWithKey decrypts ciphertext produced by EncryptWithKey.
// Input format: nonce + ciphertext + tag concatenated.
// Returns ErrAuthenticationFailed on tag mismatch or truncated input;
// corrupted data is never returned.
func DecryptWithKey(ciphertext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrAuthenticationFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := ciphertext[:NonceSize]
	ct := ciphertext[NonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	return plaintext, nil
}

// Checksum returns the lowercase hex-encoded SHA-256 digest of data.
// Used for provenance and archive integrity, not as a substitute for the
// AEAD authentication tag.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Wipe overwrites every byte of the buffer with zero. Must be called on
// every key buffer that will no longer be used, on every exit path.
func Wipe(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// IsValidKey reports whether b has the length of a working key.
// Length check only; never semantic validation of key quality.
func IsValidKey(b []byte) bool {
	return len(b) == KeySize
}

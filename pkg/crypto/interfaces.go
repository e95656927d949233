package crypto

// Encrypter is the interface for encryption operations.
// Packages that need encryption can depend on this instead of the
// concrete Engine.
type Encrypter interface {
	// Encrypt encrypts plaintext and returns ciphertext.
	// The returned ciphertext includes the nonce and authentication tag.
	Encrypt(plaintext []byte) ([]byte, error)
}

// Decrypter is the interface for decryption operations.
type Decrypter interface {
	// Decrypt decrypts ciphertext and returns plaintext.
	// Returns ErrAuthenticationFailed if the data has been tampered with.
	Decrypt(ciphertext []byte) ([]byte, error)
}

// EncryptDecrypter combines encryption and decryption capabilities.
type EncryptDecrypter interface {
	Encrypter
	Decrypter
}

// Verify that Engine implements the interfaces
var _ Encrypter = (*Engine)(nil)
var _ Decrypter = (*Engine)(nil)
var _ EncryptDecrypter = (*Engine)(nil)

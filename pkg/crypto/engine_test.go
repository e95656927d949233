package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("scanned invoice, page 1 of 2")

	ciphertext, err := EncryptWithKey(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	decrypted, err := DecryptWithKey(ciphertext, key)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Errorf("round trip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	key := testKey(t)

	ciphertext, err := EncryptWithKey([]byte{}, key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if len(ciphertext) != NonceSize+TagSize {
		t.Errorf("expected %d bytes for empty plaintext, got %d", NonceSize+TagSize, len(ciphertext))
	}

	decrypted, err := DecryptWithKey(ciphertext, key)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if len(decrypted) != 0 {
		t.Errorf("expected empty plaintext, got %d bytes", len(decrypted))
	}
}

func TestEncryptInvalidKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := EncryptWithKey([]byte("data"), make([]byte, n)); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("key length %d: expected ErrInvalidKey, got %v", n, err)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	k1 := testKey(t)
	k2 := testKey(t)

	ciphertext, err := EncryptWithKey([]byte("secret"), k1)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	if _, err := DecryptWithKey(ciphertext, k2); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestDecryptTruncated(t *testing.T) {
	key := testKey(t)

	ciphertext, err := EncryptWithKey([]byte("secret"), key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	for _, n := range []int{0, 1, NonceSize, NonceSize + TagSize - 1} {
		if _, err := DecryptWithKey(ciphertext[:n], key); !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("truncated to %d bytes: expected ErrAuthenticationFailed, got %v", n, err)
		}
	}
}

func TestTamperDetection(t *testing.T) {
	key := testKey(t)

	ciphertext, err := EncryptWithKey([]byte("original content"), key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	// Flip one bit at each byte position; decryption must never succeed
	for i := range ciphertext {
		tampered := make([]byte, len(ciphertext))
		copy(tampered, ciphertext)
		tampered[i] ^= 0x01

		if _, err := DecryptWithKey(tampered, key); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("bit flip at byte %d: expected ErrAuthenticationFailed, got %v", i, err)
		}
	}
}

func TestNonceUniqueness(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same plaintext every time")

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ciphertext, err := EncryptWithKey(plaintext, key)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		nonce := string(ciphertext[:NonceSize])
		if seen[nonce] {
			t.Fatalf("nonce collision after %d encryptions", i)
		}
		seen[nonce] = true
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	secret := []byte("482913")

	k1, err := DeriveKey(secret, salt)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	k2, err := DeriveKey(secret, salt)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}

	if !bytes.Equal(k1, k2) {
		t.Error("identical inputs produced different keys")
	}

	// Varying the secret changes the output
	k3, err := DeriveKey([]byte("482914"), salt)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("different secrets produced the same key")
	}

	// Varying the salt changes the output
	salt2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	k4, err := DeriveKey(secret, salt2)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if bytes.Equal(k1, k4) {
		t.Error("different salts produced the same key")
	}
}

func TestDeriveKeyInvalidSalt(t *testing.T) {
	if _, err := DeriveKey([]byte("secret"), make([]byte, 16)); !errors.Is(err, ErrInvalidSalt) {
		t.Errorf("expected ErrInvalidSalt, got %v", err)
	}
}

func TestChecksum(t *testing.T) {
	// Known SHA-256 vector
	sum := Checksum([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if sum != want {
		t.Errorf("Checksum(\"abc\") = %s, want %s", sum, want)
	}

	if len(sum) != ChecksumLength {
		t.Errorf("checksum length = %d, want %d", len(sum), ChecksumLength)
	}
	if sum != strings.ToLower(sum) {
		t.Error("checksum must be lowercase hex")
	}
}

func TestWipe(t *testing.T) {
	key := testKey(t)
	Wipe(key)
	for i, b := range key {
		if b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
}

func TestIsValidKey(t *testing.T) {
	if !IsValidKey(make([]byte, 32)) {
		t.Error("32-byte key rejected")
	}
	if IsValidKey(make([]byte, 16)) || IsValidKey(nil) {
		t.Error("short key accepted")
	}
}

func TestEngineClose(t *testing.T) {
	key := testKey(t)
	engine, err := NewEngine(key)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	ciphertext, err := engine.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plaintext, err := engine.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(plaintext) != "payload" {
		t.Errorf("round trip mismatch: %q", plaintext)
	}

	// Closing wipes the engine's copy, not the caller's buffer
	engine.Close()
	allZero := true
	for _, b := range key {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Error("engine wiped the caller's key buffer")
	}
}

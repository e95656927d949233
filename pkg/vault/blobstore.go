package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/smachala/docvault/pkg/crypto"
)

// BlobStore holds the independently encrypted document payload files.
// Every file is a complete AEAD artifact (nonce + ciphertext + tag)
// produced by the caller; the store never receives or returns plaintext
// payload bytes.
type BlobStore struct {
	dir string
}

// Blob kinds distinguish the two files a document owns
const (
	BlobImage     = "image"
	BlobThumbnail = "thumb"
)

// NewBlobStore creates the blob directory if needed
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Dir returns the blob directory
func (b *BlobStore) Dir() string { return b.dir }

// Write stores an already-encrypted blob for a document and returns its
// path. The ciphertext must carry at least a nonce and tag; anything
// shorter cannot be a valid AEAD artifact and is rejected before touching
// disk.
func (b *BlobStore) Write(docID, kind string, ciphertext []byte) (string, error) {
	if len(ciphertext) < crypto.NonceSize+crypto.TagSize {
		return "", crypto.ErrInvalidCiphertext
	}

	name, err := blobName(docID, kind)
	if err != nil {
		return "", err
	}

	path := filepath.Join(b.dir, name)
	if err := os.WriteFile(path, ciphertext, 0600); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return path, nil
}

// Read returns the encrypted bytes of a blob; decryption is the caller's
// job
func (b *BlobStore) Read(path string) ([]byte, error) {
	if err := b.contains(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Remove deletes a blob file; removing an absent blob is not an error
func (b *BlobStore) Remove(path string) error {
	if err := b.contains(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// contains rejects paths outside the blob directory
func (b *BlobStore) contains(path string) error {
	rel, err := filepath.Rel(b.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q is outside the blob directory", path)
	}
	return nil
}

// blobName builds the file name for a document's blob
func blobName(docID, kind string) (string, error) {
	if docID == "" || strings.ContainsAny(docID, "/\\") || strings.Contains(docID, "..") {
		return "", fmt.Errorf("invalid document id %q", docID)
	}
	switch kind {
	case BlobImage, BlobThumbnail:
	default:
		return "", fmt.Errorf("invalid blob kind %q", kind)
	}
	return docID + "." + kind + ".enc", nil
}

package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileCredentialStore is a CredentialStore backed by one file per key in a
// private directory. It stands in for platform keychains on headless
// systems; file modes are the only at-rest protection it offers, so
// deployments with an OS keystore should prefer that.
type FileCredentialStore struct {
	dir string
}

// NewFileCredentialStore creates the backing directory if needed
func NewFileCredentialStore(dir string) (*FileCredentialStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	return &FileCredentialStore{dir: dir}, nil
}

func (s *FileCredentialStore) path(key string) (string, error) {
	// Keys are internal identifiers; refuse anything that could escape the dir
	if key == "" || strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid credential key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}

// Read returns the stored value or ErrCredentialNotFound
func (s *FileCredentialStore) Read(key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential %s: %w", key, err)
	}
	return data, nil
}

// Write stores a value with owner-only permissions
func (s *FileCredentialStore) Write(key string, value []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, value, 0600); err != nil {
		return fmt.Errorf("failed to write credential %s: %w", key, err)
	}
	return nil
}

// Delete removes a value; deleting an absent key is not an error
func (s *FileCredentialStore) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credential %s: %w", key, err)
	}
	return nil
}

var _ CredentialStore = (*FileCredentialStore)(nil)

package keys

import (
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// keyFileExt is the extension for stored key files.
const keyFileExt = ".key"

// FileStore is a file-based implementation of the Store interface.
// Each key is stored as one PEM file under the base directory.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFileStore creates a new file-based key store rooted at baseDir.
// The directory is created on first Set.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// Get returns the key stored under name.
func (s *FileStore) Get(name string) (*ecdsa.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, err := ReadKeyFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return key, nil
}

// Set stores a key under name.
func (s *FileStore) Set(name string, key *ecdsa.PrivateKey) error {
	if key == nil {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.baseDir, 0700); err != nil {
		return err
	}
	return WriteKeyFile(s.path(name), key)
}

// Remove deletes the key stored under name.
func (s *FileStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return ErrKeyNotFound
	}
	return err
}

// List returns all stored key names.
func (s *FileStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), keyFileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), keyFileExt))
	}
	return names, nil
}

// path maps a key name to its file path. DNS names are safe file names
// apart from the path separator.
func (s *FileStore) path(name string) string {
	safe := strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return filepath.Join(s.baseDir, safe+keyFileExt)
}

// Verify FileStore implements Store.
var _ Store = (*FileStore)(nil)

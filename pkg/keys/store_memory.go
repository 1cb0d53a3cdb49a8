package keys

import (
	"crypto/ecdsa"
	"sync"
)

// MemoryStore is an in-memory implementation of the Store interface.
// This is primarily useful for testing and short-lived clients.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*ecdsa.PrivateKey
}

// NewMemoryStore creates a new in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*ecdsa.PrivateKey)}
}

// Get returns the key stored under name.
func (s *MemoryStore) Get(name string) (*ecdsa.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, exists := s.keys[name]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// Set stores a key under name.
func (s *MemoryStore) Set(name string, key *ecdsa.PrivateKey) error {
	if key == nil {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[name] = key
	return nil
}

// Remove deletes the key stored under name.
func (s *MemoryStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[name]; !exists {
		return ErrKeyNotFound
	}
	delete(s.keys, name)
	return nil
}

// List returns all stored key names.
func (s *MemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.keys))
	for name := range s.keys {
		names = append(names, name)
	}
	return names, nil
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

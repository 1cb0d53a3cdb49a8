// Package keys stores the ECDSA P-256 signing keys that bind SRP
// registrations to their owners. A host name belongs to whichever key first
// registered it, so clients must present the same key on every refresh.
package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
)

// Store errors.
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrInvalidKey  = errors.New("invalid key")
)

// Store defines the interface for registration key storage.
// Implementations must be safe for concurrent access.
type Store interface {
	// Get returns the key stored under name.
	// Returns ErrKeyNotFound if no key exists.
	Get(name string) (*ecdsa.PrivateKey, error)

	// Set stores a key under name, replacing any existing key.
	Set(name string, key *ecdsa.PrivateKey) error

	// Remove deletes the key stored under name.
	// Returns ErrKeyNotFound if no key exists.
	Remove(name string) error

	// List returns all stored key names.
	List() ([]string, error)
}

// Generate creates a new ECDSA P-256 private key.
func Generate() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// GetOrCreate returns the key stored under name, generating and storing a
// new one when none exists.
func GetOrCreate(s Store, name string) (*ecdsa.PrivateKey, error) {
	key, err := s.Get(name)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	key, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := s.Set(name, key); err != nil {
		return nil, fmt.Errorf("failed to store generated key: %w", err)
	}
	return key, nil
}

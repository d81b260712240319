package config

import (
	"errors"
	"fmt"
	"strings"
)

const keychainService = "studex"

var errSecretNotFound = errors.New("secret not found")

func trimSecret(b []byte) string {
	return strings.TrimSpace(string(b))
}

// KeychainStore keeps credentials in the platform secret store, one
// account per key under the "studex" service. It satisfies the session
// package's credential store contract.
type KeychainStore struct {
	service string
}

// NewKeychainStore returns a KeychainStore for the default service name.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{service: keychainService}
}

// Get returns the stored value and whether it exists.
func (k *KeychainStore) Get(key string) (string, bool, error) {
	out, err := keychainGet(k.service, key)
	if errors.Is(err, errSecretNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading secret %q: %w", key, err)
	}
	return trimSecret(out), true, nil
}

// Set writes a value, replacing any previous one.
func (k *KeychainStore) Set(key, value string) error {
	if err := keychainSet(k.service, key, value); err != nil {
		return fmt.Errorf("writing secret %q: %w", key, err)
	}
	return nil
}

// Remove deletes a key. Removing an absent key is not an error.
func (k *KeychainStore) Remove(key string) error {
	if err := keychainDelete(k.service, key); err != nil {
		return fmt.Errorf("deleting secret %q: %w", key, err)
	}
	return nil
}

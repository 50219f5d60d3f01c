package storage

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface assertion.
var _ KeyStore = (*MemoryKeyStore)(nil)

// MemoryKeyStore implements KeyStore in memory. Used in tests and for
// single-node development setups where keys are seeded at startup.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*Key // keyed by KeyLookup digest
	byID map[string]*Key
}

// NewMemoryKeyStore creates an empty in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		keys: make(map[string]*Key),
		byID: make(map[string]*Key),
	}
}

// FindByKey retrieves an API key by its plaintext value. The returned key has
// its plaintext replaced by a masked value.
func (s *MemoryKeyStore) FindByKey(_ context.Context, key string) (*Key, bool) {
	if key == "" {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.keys[KeyLookup(key)]
	if !ok || !stored.Valid(time.Now()) {
		return nil, false
	}

	clone := *stored
	clone.Key = MaskKey(key)

	return &clone, true
}

// Add stores a new API key.
func (s *MemoryKeyStore) Add(_ context.Context, apiKey *Key) error {
	if apiKey == nil {
		return ErrKeyNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lookup := KeyLookup(apiKey.Key)
	if _, exists := s.keys[lookup]; exists {
		return ErrKeyAlreadyExists
	}

	clone := *apiKey
	clone.Key = "" // plaintext is not retained

	s.keys[lookup] = &clone
	s.byID[clone.ID] = &clone

	return nil
}

// Deactivate revokes an API key by id.
func (s *MemoryKeyStore) Deactivate(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[keyID]
	if !ok {
		return ErrKeyNotFound
	}

	stored.Active = false

	return nil
}

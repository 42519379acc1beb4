package memory

import (
	"context"
	"errors"
	"sync"
)

// KVStore is an in-memory durable-store stand-in for demo/testing.
type KVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKVStore constructs a store.
func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string][]byte)}
}

// Load returns a copy of the value stored under key.
func (s *KVStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	if key == "" {
		return nil, false, errors.New("memory kv store: empty key")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Save replaces the value stored under key.
func (s *KVStore) Save(ctx context.Context, key string, value []byte) error {
	_ = ctx
	if key == "" {
		return errors.New("memory kv store: empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

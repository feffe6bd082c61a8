// Package memory provides a thread-safe in-memory implementation of
// storage.Store. Suitable for testing, demos, and single-process use.
package memory

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/jmcleod/halflife/internal/util"
	"github.com/jmcleod/halflife/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Write(location string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[location] = util.CopyBytes(data)
	return nil
}

func (s *Store) Read(location string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[location]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return util.CopyBytes(data), nil
}

// SecureOverwrite overwrites the buffer in place so that any aliased view
// of it observes random bytes, not the former ciphertext.
func (s *Store) SecureOverwrite(location string, passes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.data[location]
	if !ok {
		return storage.ErrNotFound
	}
	for pass := 0; pass < passes; pass++ {
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("overwrite pass %d: %w", pass, err)
		}
	}
	return nil
}

func (s *Store) Delete(location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[location]; !ok {
		return storage.ErrNotFound
	}
	delete(s.data, location)
	return nil
}

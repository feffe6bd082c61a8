// Package bbolt provides a BBolt-backed implementation of storage.Store.
package bbolt

import (
	"crypto/rand"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/halflife/storage"
)

var bucketName = []byte("fragments")

// Store implements storage.Store backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewStoreFromFile opens a BBolt database at the given path.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Write(location string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(location), data)
	})
}

func (s *Store) Read(location string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return fmt.Errorf("%s: %w", location, storage.ErrNotFound)
		}
		v := b.Get([]byte(location))
		if v == nil {
			return fmt.Errorf("%s: %w", location, storage.ErrNotFound)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SecureOverwrite replaces the stored value with pseudorandom bytes of
// the same length, once per pass. Each pass commits its own transaction
// so every overwrite reaches the write-ahead log rather than collapsing
// into a single page update.
func (s *Store) SecureOverwrite(location string, passes int) error {
	for pass := 0; pass < passes; pass++ {
		err := s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketName)
			if b == nil {
				return fmt.Errorf("%s: %w", location, storage.ErrNotFound)
			}
			v := b.Get([]byte(location))
			if v == nil {
				return fmt.Errorf("%s: %w", location, storage.ErrNotFound)
			}
			junk := make([]byte, len(v))
			if _, err := rand.Read(junk); err != nil {
				return fmt.Errorf("overwrite pass %d: %w", pass, err)
			}
			return b.Put([]byte(location), junk)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Delete(location string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return fmt.Errorf("%s: %w", location, storage.ErrNotFound)
		}
		if b.Get([]byte(location)) == nil {
			return fmt.Errorf("%s: %w", location, storage.ErrNotFound)
		}
		return b.Delete([]byte(location))
	})
}

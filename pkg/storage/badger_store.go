package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is the default Store backend. It is a thin wrapper: the
// namespacing that a "column family" would provide is handled entirely by
// the key prefixes in store.go, so the database stays an opaque ordered map.
type BadgerStore struct {
	db *badger.DB
}

// BadgerConfig configures the Badger-backed store.
type BadgerConfig struct {
	DataDir string
}

// DefaultBadgerConfig returns sane defaults for a node's data directory.
func DefaultBadgerConfig(dataDir string) *BadgerConfig {
	return &BadgerConfig{DataDir: dataDir}
}

// OpenBadgerStore opens (creating if absent) a Badger database at cfg.DataDir.
func OpenBadgerStore(cfg *BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.DataDir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Write(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) Read(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *BadgerStore) Has(key []byte) (bool, error) {
	_, err := s.Read(key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

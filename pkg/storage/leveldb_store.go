package storage

import (
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDBStore is an alternate Store backend, selectable via the node's
// storage.backend config value. It exists alongside BadgerStore so the
// node can exercise both embedded-KV ecosystems rather than committing to
// a single one; the two implement the identical Store contract.
type LevelDBStore struct {
	db *leveldb.DB
}

// LevelDBConfig configures the LevelDB-backed store.
type LevelDBConfig struct {
	DataDir     string
	Compression bool
}

// DefaultLevelDBConfig returns sane defaults for a node's data directory.
func DefaultLevelDBConfig(dataDir string) *LevelDBConfig {
	return &LevelDBConfig{DataDir: dataDir, Compression: true}
}

// OpenLevelDBStore opens (creating if absent) a LevelDB database at cfg.DataDir.
func OpenLevelDBStore(cfg *LevelDBConfig) (*LevelDBStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	options := &opt.Options{Compression: opt.SnappyCompression}
	if !cfg.Compression {
		options.Compression = opt.NoCompression
	}
	db, err := leveldb.OpenFile(cfg.DataDir, options)
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Write(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *LevelDBStore) Read(key []byte) ([]byte, error) {
	data, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *LevelDBStore) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *LevelDBStore) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

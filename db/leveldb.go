package db

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// DB defines the interface for database operations
type DB interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// LevelDB wraps a LevelDB instance
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewMemoryDB creates a LevelDB instance backed by memory storage
func NewMemoryDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Open returns an on-disk database when path is set, in-memory otherwise
func Open(path string) (*LevelDB, error) {
	if path == "" {
		return NewMemoryDB()
	}
	return NewLevelDB(path)
}

// Put stores a key-value pair in the database
func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

// Get retrieves a value by key from the database, nil if the key is unknown
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	data, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return data, err
}

// Iterate calls fn for every key with the given prefix, in key order
func (l *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close shuts down the database connection
func (l *LevelDB) Close() error {
	return l.db.Close()
}

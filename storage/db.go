package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrKeyNotFound is returned by Get when no value is stored under the key.
// Both backends normalise their native miss conditions to this sentinel so
// callers can distinguish absence from genuine I/O failures.
var ErrKeyNotFound = errors.New("storage: key not found")

// Database is the key-value store the state manager is written against.
// Production runs on LevelDB; tests use the in-memory backend.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Close()
}

// LevelDB persists keys on disk through goleveldb.
type LevelDB struct {
	inner *leveldb.DB
}

// NewLevelDB opens the database at path, creating it when absent.
func NewLevelDB(path string) (*LevelDB, error) {
	inner, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb at %s: %w", path, err)
	}
	return &LevelDB{inner: inner}, nil
}

func (l *LevelDB) Put(key []byte, value []byte) error {
	return l.inner.Put(key, value, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.inner.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (l *LevelDB) Close() {
	_ = l.inner.Close()
}

// MemDB keeps all keys in a mutex-guarded map. Values are copied on both
// sides of the API so callers cannot alias stored state.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) Put(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = bytes.Clone(value)
	return nil
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(value), nil
}

func (m *MemDB) Close() {}

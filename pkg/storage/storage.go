package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const (
	KindMemory  = "memory"
	KindBadger  = "badger"
	KindLevelDB = "leveldb"
)

// ErrNotFound is returned by a Backend when the requested key is absent.
var ErrNotFound = errors.New("key not found")

// Backend holds the blobs owned by a single node. Implementations must be
// safe for concurrent use and must return copies, never aliases of stored data.
type Backend interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Has(key string) (bool, error)
	// Keys returns every stored key in ascending order.
	Keys() ([]string, error)
	Close() error
}

// Open creates a backend of the given kind. Persistent kinds store their data
// under dir/name.
func Open(kind, dir, name string, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch kind {
	case "", KindMemory:
		return NewMemoryBackend(), nil
	case KindBadger:
		return NewBadgerBackend(filepath.Join(dir, name), logger)
	case KindLevelDB:
		return NewLevelDBBackend(filepath.Join(dir, name))
	default:
		return nil, fmt.Errorf("unknown storage backend %q (supported: %s, %s, %s)",
			kind, KindMemory, KindBadger, KindLevelDB)
	}
}

// MemoryBackend keeps blobs in a map. Contents live as long as the process.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		blobs: make(map[string][]byte),
	}
}

func (m *MemoryBackend) Put(key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.blobs[key] = stored
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.blobs[key]
	if !exists {
		return nil, ErrNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MemoryBackend) Has(key string) (bool, error) {
	m.mu.RLock()
	_, exists := m.blobs[key]
	m.mu.RUnlock()
	return exists, nil
}

func (m *MemoryBackend) Keys() ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.blobs))
	for key := range m.blobs {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

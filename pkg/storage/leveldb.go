package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"
)

// LevelDBBackend persists a node's blobs in a leveldb datastore. Filenames are
// hex encoded because datastore keys are cleaned like paths.
type LevelDBBackend struct {
	store *dslvl.Datastore
}

func NewLevelDBBackend(dir string) (*LevelDBBackend, error) {
	store, err := dslvl.NewDatastore(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", dir, err)
	}

	return &LevelDBBackend{store: store}, nil
}

func encodeKey(key string) ds.Key {
	return ds.NewKey(hex.EncodeToString([]byte(key)))
}

func decodeKey(raw string) (string, error) {
	decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "/"))
	if err != nil {
		return "", fmt.Errorf("corrupt leveldb key %q: %w", raw, err)
	}
	return string(decoded), nil
}

func (l *LevelDBBackend) Put(key string, value []byte) error {
	return l.store.Put(context.Background(), encodeKey(key), value)
}

func (l *LevelDBBackend) Get(key string) ([]byte, error) {
	value, err := l.store.Get(context.Background(), encodeKey(key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get %q: %w", key, err)
	}
	return value, nil
}

func (l *LevelDBBackend) Has(key string) (bool, error) {
	return l.store.Has(context.Background(), encodeKey(key))
}

func (l *LevelDBBackend) Keys() ([]string, error) {
	res, err := l.store.Query(context.Background(), dsq.Query{KeysOnly: true})
	if err != nil {
		return nil, fmt.Errorf("leveldb query: %w", err)
	}
	defer res.Close()

	keys := []string{}
	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}
		if r.Error != nil {
			return nil, fmt.Errorf("leveldb query: %w", r.Error)
		}

		key, err := decodeKey(r.Key)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys, nil
}

func (l *LevelDBBackend) Close() error {
	return l.store.Close()
}

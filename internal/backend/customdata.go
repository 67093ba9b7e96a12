package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const customDataPrefix = "cbd:"

// keyPool provides reusable byte slices for building custom data keys.
var keyPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 128)
	},
}

// buildKey constructs "cbd:<name>:<book id>" in a pooled buffer.
// Callers MUST call releaseKey when done with the key.
func buildKey(name string, bookID int64) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, customDataPrefix...)
	buf = append(buf, name...)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, bookID, 10)
	return buf
}

func releaseKey(key []byte) {
	if cap(key) <= 1024 {
		keyPool.Put(key[:0]) //nolint:staticcheck // slice header copy is fine here
	}
}

func namePrefix(name string) []byte {
	return []byte(customDataPrefix + name + ":")
}

// CustomDataStore keeps arbitrary per-book values that plugins and tools
// attach to books, namespaced by name. Values are JSON.
type CustomDataStore struct {
	db *badger.DB
}

// openCustomData opens the store at path, or in memory when path is "".
func openCustomData(path string) (*CustomDataStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
		opts.CompactL0OnClose = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open custom data store: %w", err)
	}
	return &CustomDataStore{db: db}, nil
}

// Close closes the store.
func (s *CustomDataStore) Close() error {
	return s.db.Close()
}

// Set stores a value per book under name.
func (s *CustomDataStore) Set(name string, vals map[int64]any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for bookID, v := range vals {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode custom data %s for book %d: %w", name, bookID, err)
			}
			key := buildKey(name, bookID)
			err = txn.Set(append([]byte(nil), key...), data)
			releaseKey(key)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the values stored under name for the given books. Books
// without a value get def.
func (s *CustomDataStore) Get(name string, bookIDs []int64, def any) (map[int64]any, error) {
	out := make(map[int64]any, len(bookIDs))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, bookID := range bookIDs {
			key := buildKey(name, bookID)
			item, err := txn.Get(key)
			releaseKey(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				out[bookID] = def
				continue
			}
			if err != nil {
				return err
			}
			var v any
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("decode custom data %s for book %d: %w", name, bookID, err)
			}
			out[bookID] = v
		}
		return nil
	})
	return out, err
}

// Delete removes values under name. With no book ids every value under
// name is removed.
func (s *CustomDataStore) Delete(name string, bookIDs []int64) error {
	if len(bookIDs) == 0 {
		ids, err := s.IDs(name)
		if err != nil {
			return err
		}
		bookIDs = ids
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, bookID := range bookIDs {
			key := buildKey(name, bookID)
			err := txn.Delete(append([]byte(nil), key...))
			releaseKey(key)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// IDs lists the books holding a value under name.
func (s *CustomDataStore) IDs(name string) ([]int64, error) {
	var ids []int64
	prefix := namePrefix(name)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// DeleteBooks removes every value held by the given books.
func (s *CustomDataStore) DeleteBooks(bookIDs []int64) error {
	if len(bookIDs) == 0 {
		return nil
	}
	doomed := make(map[int64]bool, len(bookIDs))
	for _, id := range bookIDs {
		doomed[id] = true
	}
	var keys [][]byte
	prefix := []byte(customDataPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			i := strings.LastIndexByte(string(k), ':')
			id, err := strconv.ParseInt(string(k[i+1:]), 10, 64)
			if err == nil && doomed[id] {
				keys = append(keys, k)
			}
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// CustomData returns the per-book custom data store.
func (b *Backend) CustomData() *CustomDataStore { return b.customData }

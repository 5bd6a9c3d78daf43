// Package hashcache memoizes file digests in an embedded Badger store.
// Hashing a large cut sheet library on every refresh is wasteful; the
// cache keys digests by absolute path and validates entries against the
// file's current size and modification time, so any touched file misses.
// The cache is an optimization only: callers must behave correctly when
// it is absent or cold.
package hashcache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// FormatVersion is incremented when the entry encoding changes.
// Entries written by other versions are treated as misses.
const FormatVersion = 1

// ErrNotFound is returned when no entry exists for a path.
var ErrNotFound = errors.New("hashcache entry not found")

// Entry is the cached digest of one file at one point in time.
type Entry struct {
	Version   int
	ByteSize  int64  // file size when hashed
	MtimeNano int64  // modification time (UnixNano) when hashed
	Hash      string // lowercase hex SHA-256
}

// Encode serializes the entry to bytes using gob.
func (e *Entry) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes bytes into the entry using gob.
func (e *Entry) Decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

// Cache wraps Badger for digest memoization.
type Cache struct {
	db *badger.DB
}

// Open opens or creates a cache at the given directory.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open hash cache: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the cache.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get retrieves the raw entry for a path regardless of validity.
func (c *Cache) Get(path string) (*Entry, error) {
	var entry Entry

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return item.Value(entry.Decode)
	})

	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Lookup returns the cached digest for a path if the entry matches the
// file's current size and mtime. Any error, version mismatch, or stat
// drift counts as a miss.
func (c *Cache) Lookup(path string, size, mtimeNano int64) (string, bool) {
	entry, err := c.Get(path)
	if err != nil {
		return "", false
	}
	if entry.Version != FormatVersion || entry.ByteSize != size || entry.MtimeNano != mtimeNano {
		return "", false
	}
	return entry.Hash, true
}

// Remember stores the digest for a path at the given size and mtime.
func (c *Cache) Remember(path string, size, mtimeNano int64, hash string) error {
	entry := &Entry{
		Version:   FormatVersion,
		ByteSize:  size,
		MtimeNano: mtimeNano,
		Hash:      hash,
	}
	value, err := entry.Encode()
	if err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(path), value)
	})
}

// Forget removes the entry for a path. Removing an absent path is not
// an error.
func (c *Cache) Forget(path string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(path))
	})
}

// Clear drops every entry.
func (c *Cache) Clear() error {
	return c.db.DropAll()
}

// Len counts the stored entries.
func (c *Cache) Len() (int, error) {
	count := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

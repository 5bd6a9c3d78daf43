// Package metastore persists the local cut sheet table.
// The table maps local paths to records and lives in a single JSON file
// that is rewritten atomically on every mutation, so a crash can never
// leave a torn store. A missing or corrupt file reinitializes an empty
// table rather than blocking startup.
package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/cutsync/pkg/cutsync/digest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
	"github.com/jamesainslie/cutsync/pkg/cutsync/logging"
)

// ErrNotFound is returned when no record exists for a path.
var ErrNotFound = errors.New("record not found")

// Record describes one tracked cut sheet on the local side.
type Record struct {
	// Identity names the document.
	Identity identity.Identity `json:"identity"`

	// LocalPath is the absolute path of the file; it is also the table key.
	LocalPath string `json:"localPath"`

	// RemoteURL is where the document lives remotely. Empty means the
	// document has never been uploaded.
	RemoteURL string `json:"remoteUrl,omitempty"`

	// ContentHash is the lowercase hex SHA-256 of the file content.
	ContentHash string `json:"contentHash"`

	// ByteSize is the file size in bytes when last hashed.
	ByteSize int64 `json:"byteSize"`

	// LastUpdated is when any field of the record last changed (UTC).
	LastUpdated time.Time `json:"lastUpdated"`
}

// sameContent reports whether the records agree on everything except
// LastUpdated.
func (r Record) sameContent(other Record) bool {
	return r.Identity == other.Identity &&
		r.LocalPath == other.LocalPath &&
		r.RemoteURL == other.RemoteURL &&
		r.ContentHash == other.ContentHash &&
		r.ByteSize == other.ByteSize
}

// tableFile is the persisted shape of the store.
type tableFile struct {
	Files       map[string]Record `json:"files"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

// Store is the local metadata table. All mutations hold the write lock
// and rewrite the backing file before returning.
type Store struct {
	path   string
	engine *digest.Engine
	logger *logging.Logger

	mu      sync.RWMutex
	files   map[string]Record
	updated time.Time
}

// Open loads the table at path. A missing file yields an empty store; a
// corrupt file is backed up as <path>.corrupt and replaced by an empty
// store on the next mutation.
func Open(path string, eng *digest.Engine) (*Store, error) {
	s := &Store{
		path:   path,
		engine: eng,
		logger: logging.Get("metastore"),
		files:  make(map[string]Record),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read store file %s: %w", s.path, err)
	}

	var tf tableFile
	if err := json.Unmarshal(data, &tf); err != nil {
		s.logger.Warn("store file is corrupt, reinitializing empty", "path", s.path, "error", err)
		if renameErr := os.Rename(s.path, s.path+".corrupt"); renameErr == nil {
			s.logger.Warn("corrupt store backed up", "path", s.path+".corrupt")
		}
		return nil
	}

	if tf.Files == nil {
		tf.Files = make(map[string]Record)
	}
	for key, rec := range tf.Files {
		if rec.LocalPath == "" {
			rec.LocalPath = key
			tf.Files[key] = rec
		}
	}
	s.files = tf.Files
	s.updated = tf.LastUpdated
	return nil
}

// save rewrites the backing file. Callers must hold the write lock.
func (s *Store) save() error {
	s.updated = time.Now().UTC()
	data, err := json.MarshalIndent(tableFile{Files: s.files, LastUpdated: s.updated}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit store file: %w", err)
	}
	return nil
}

// Refresh digests the file at localPath and upserts its record. The call
// is idempotent: refreshing an unchanged file leaves the record, including
// LastUpdated, untouched. An empty remoteURL preserves any URL already
// recorded. A missing or unreadable file fails without touching the table.
func (s *Store) Refresh(id identity.Identity, localPath, remoteURL string) (Record, error) {
	if err := id.Validate(); err != nil {
		return Record{}, err
	}

	hash, size, err := s.engine.File(localPath)
	if err != nil {
		return Record{}, fmt.Errorf("failed to refresh %s: %w", localPath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.files[localPath]
	rec := Record{
		Identity:    id,
		LocalPath:   localPath,
		RemoteURL:   remoteURL,
		ContentHash: hash,
		ByteSize:    size,
	}
	if remoteURL == "" && exists {
		rec.RemoteURL = prev.RemoteURL
	}
	if exists && prev.sameContent(rec) {
		return prev, nil
	}

	rec.LastUpdated = time.Now().UTC()
	s.files[localPath] = rec
	if err := s.save(); err != nil {
		if exists {
			s.files[localPath] = prev
		} else {
			delete(s.files, localPath)
		}
		return Record{}, err
	}
	s.logger.Debug("record refreshed", "path", localPath, "identity", id.Key(), "hash", hash)
	return rec, nil
}

// SetRemoteURL assigns the remote URL for an existing record, typically
// after a successful upload. Setting the URL it already has is a no-op.
func (s *Store) SetRemoteURL(localPath, url string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.files[localPath]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, localPath)
	}
	if prev.RemoteURL == url {
		return prev, nil
	}

	rec := prev
	rec.RemoteURL = url
	rec.LastUpdated = time.Now().UTC()
	s.files[localPath] = rec
	if err := s.save(); err != nil {
		s.files[localPath] = prev
		return Record{}, err
	}
	return rec, nil
}

// Get returns the record for a local path.
func (s *Store) Get(localPath string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[localPath]
	return rec, ok
}

// Find returns the first record, in local path order, whose identity
// matches id under fold comparison.
func (s *Store) Find(id identity.Identity) (Record, bool) {
	for _, rec := range s.List() {
		if rec.Identity.Equal(id) {
			return rec, true
		}
	}
	return Record{}, false
}

// List returns all records sorted by local path.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0, len(s.files))
	for _, rec := range s.files {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LocalPath < records[j].LocalPath
	})
	return records
}

// Remove deletes the record for a path and persists. Removing an
// untracked path reports false without error.
func (s *Store) Remove(localPath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.files[localPath]
	if !ok {
		return false, nil
	}

	delete(s.files, localPath)
	if err := s.save(); err != nil {
		s.files[localPath] = prev
		return false, err
	}
	return true, nil
}

// HasChanged reports whether the file at localPath differs from its
// record. Untracked, missing, or unreadable files count as changed; the
// error explains why when the answer was forced.
func (s *Store) HasChanged(localPath string) (bool, error) {
	s.mu.RLock()
	rec, ok := s.files[localPath]
	s.mu.RUnlock()

	if !ok {
		return true, fmt.Errorf("%w: %s", ErrNotFound, localPath)
	}

	hash, _, err := s.engine.File(localPath)
	if err != nil {
		return true, err
	}
	return hash != rec.ContentHash, nil
}

// Len returns the number of tracked records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// LastUpdated returns when the table itself last changed.
func (s *Store) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

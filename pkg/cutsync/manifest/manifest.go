// Package manifest publishes and loads the remote cut sheet manifest.
// The manifest is a wholesale snapshot of every uploaded document, keyed
// by normalized identity. Publishing replaces the previous snapshot
// entirely; loading validates external documents against a JSON Schema
// and rejects anything missing a remote URL or content hash.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
	"github.com/jamesainslie/cutsync/pkg/cutsync/logging"
	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
)

// FormatVersion is written into every published manifest.
const FormatVersion = "1.0"

// ErrInvalidManifest indicates a manifest document that failed validation.
var ErrInvalidManifest = errors.New("invalid manifest")

// Entry describes one document on the remote side.
type Entry struct {
	// Identity names the document.
	Identity identity.Identity `json:"identity"`

	// RemoteURL is where the document's bytes live. Always present; an
	// entry without one is rejected at load and never published.
	RemoteURL string `json:"remoteUrl"`

	// ContentHash is the lowercase hex SHA-256 of the remote bytes.
	ContentHash string `json:"contentHash"`

	// ByteSize is the document size in bytes.
	ByteSize int64 `json:"byteSize"`

	// LastUpdated is when the remote copy last changed (UTC).
	LastUpdated time.Time `json:"lastUpdated"`
}

// Metadata describes the manifest snapshot itself.
type Metadata struct {
	// GeneratedAt is when the snapshot was published (UTC).
	GeneratedAt time.Time `json:"generated_at"`

	// Version is the manifest format version.
	Version string `json:"version"`
}

// Manifest is a complete snapshot of the remote side.
type Manifest struct {
	Metadata Metadata         `json:"metadata"`
	Files    map[string]Entry `json:"files"`
}

// Lookup returns the entry whose key matches id's normal form.
func (m Manifest) Lookup(id identity.Identity) (Entry, bool) {
	entry, ok := m.Files[id.Key()]
	return entry, ok
}

// Len returns the number of entries.
func (m Manifest) Len() int {
	return len(m.Files)
}

// Build maps local records to manifest entries. Records without a remote
// URL have never been uploaded and are skipped. The mapping is pure and
// order-independent: the same record set yields a deeply equal map
// regardless of input order. Duplicate identity keys resolve to the
// record with the latest LastUpdated, ties to the greater local path.
func Build(records []metastore.Record) map[string]Entry {
	sorted := make([]metastore.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].LastUpdated.Equal(sorted[j].LastUpdated) {
			return sorted[i].LastUpdated.Before(sorted[j].LastUpdated)
		}
		return sorted[i].LocalPath < sorted[j].LocalPath
	})

	files := make(map[string]Entry)
	for _, rec := range sorted {
		if rec.RemoteURL == "" {
			continue
		}
		files[rec.Identity.Key()] = Entry{
			Identity:    rec.Identity,
			RemoteURL:   rec.RemoteURL,
			ContentHash: rec.ContentHash,
			ByteSize:    rec.ByteSize,
			LastUpdated: rec.LastUpdated,
		}
	}
	return files
}

// Store owns the manifest file and the current snapshot.
type Store struct {
	path   string
	logger *logging.Logger

	mu      sync.RWMutex
	current Manifest
}

// Open loads the manifest at path if one exists. A missing file starts
// empty; a corrupt or invalid file is kept on disk but ignored with a
// warning, since the next publish rewrites it.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		logger:  logging.Get("manifest"),
		current: Manifest{Files: make(map[string]Entry)},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	m, err := Load(bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("existing manifest is invalid, starting empty", "path", path, "error", err)
		return s, nil
	}
	s.current = m
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Current returns the current snapshot. The entry map is copied so
// callers cannot alias store state.
func (s *Store) Current() Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyManifest(s.current)
}

// Publish builds a fresh snapshot from records and replaces the manifest
// wholesale, on disk and in memory. Nothing from the previous snapshot
// survives.
func (s *Store) Publish(records []metastore.Record) (Manifest, error) {
	m := Manifest{
		Metadata: Metadata{
			GeneratedAt: time.Now().UTC(),
			Version:     FormatVersion,
		},
		Files: Build(records),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(m); err != nil {
		return Manifest{}, err
	}
	s.current = m
	s.logger.Info("manifest published", "path", s.path, "entries", len(m.Files))
	return copyManifest(m), nil
}

// Replace installs a manifest obtained elsewhere (typically LoadFile on a
// remote copy) as current and persists it.
func (s *Store) Replace(m Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(m); err != nil {
		return err
	}
	s.current = copyManifest(m)
	return nil
}

// write persists m atomically. Callers must hold the write lock.
func (s *Store) write(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit manifest: %w", err)
	}
	return nil
}

func copyManifest(m Manifest) Manifest {
	files := make(map[string]Entry, len(m.Files))
	for k, v := range m.Files {
		files[k] = v
	}
	return Manifest{Metadata: m.Metadata, Files: files}
}

// manifestSchema rejects documents that are structurally unusable:
// missing metadata, entries without a remote URL or content hash, or
// hashes that are not lowercase hex SHA-256.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["metadata", "files"],
  "properties": {
    "metadata": {
      "type": "object",
      "required": ["generated_at", "version"],
      "properties": {
        "generated_at": {"type": "string"},
        "version": {"type": "string"}
      }
    },
    "files": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["identity", "remoteUrl", "contentHash"],
        "properties": {
          "identity": {
            "type": "object",
            "required": ["manufacturer", "partNumber"],
            "properties": {
              "manufacturer": {"type": "string", "minLength": 1},
              "partNumber": {"type": "string", "minLength": 1}
            }
          },
          "remoteUrl": {"type": "string", "minLength": 1},
          "contentHash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
          "byteSize": {"type": "integer", "minimum": 0},
          "lastUpdated": {"type": "string"}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchema))
		if err != nil {
			schemaErr = fmt.Errorf("failed to parse manifest schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("manifest.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("failed to register manifest schema: %w", err)
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("manifest.schema.json")
	})
	return schemaCompiled, schemaErr
}

// Load parses and validates a manifest document. Any structural problem,
// including entries missing remoteUrl or contentHash, returns an error
// wrapping ErrInvalidManifest; callers keep whatever manifest they had.
func Load(r io.Reader) (Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return Manifest{}, err
	}
	if err := sch.Validate(doc); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.Files == nil {
		m.Files = make(map[string]Entry)
	}
	return m, nil
}

// LoadFile loads and validates the manifest at path.
func LoadFile(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

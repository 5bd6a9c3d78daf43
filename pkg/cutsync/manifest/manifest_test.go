package manifest

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/cutsync/pkg/cutsync/digest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
)

func record(mfr, part, path, url string, hash string, updated time.Time) metastore.Record {
	return metastore.Record{
		Identity:    identity.Identity{Manufacturer: mfr, PartNumber: part},
		LocalPath:   path,
		RemoteURL:   url,
		ContentHash: hash,
		ByteSize:    100,
		LastUpdated: updated,
	}
}

func TestBuildFiltersUnpublished(t *testing.T) {
	now := time.Now().UTC()
	records := []metastore.Record{
		record("ABB", "ACH550-01", "/lib/a.pdf", "https://blobs/abb.pdf", digest.Sum([]byte("a")), now),
		record("Eaton", "C25", "/lib/b.pdf", "", digest.Sum([]byte("b")), now),
	}

	files := Build(records)
	require.Len(t, files, 1)
	assert.Contains(t, files, "abb-ach550-01")
	assert.NotContains(t, files, "eaton-c25")
}

func TestBuildOrderIndependent(t *testing.T) {
	now := time.Now().UTC()
	records := []metastore.Record{
		record("ABB", "ACH550-01", "/lib/a.pdf", "u1", digest.Sum([]byte("a")), now),
		record("Eaton", "C25", "/lib/b.pdf", "u2", digest.Sum([]byte("b")), now.Add(time.Minute)),
		record("Square D", "9070T", "/lib/c.pdf", "u3", digest.Sum([]byte("c")), now.Add(2*time.Minute)),
		record("Siemens", "3RT20", "/lib/d.pdf", "u4", digest.Sum([]byte("d")), now.Add(3*time.Minute)),
	}

	want := Build(records)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := make([]metastore.Record, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		assert.Equal(t, want, Build(shuffled), "permutation %d produced a different manifest", i)
	}
}

func TestBuildDuplicateIdentityLastWriteWins(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	records := []metastore.Record{
		record("ABB", "ACH550-01", "/lib/old.pdf", "https://blobs/old.pdf", digest.Sum([]byte("old")), older),
		record("abb", "ach550_01", "/lib/new.pdf", "https://blobs/new.pdf", digest.Sum([]byte("new")), newer),
	}

	files := Build(records)
	require.Len(t, files, 1)
	entry := files["abb-ach550-01"]
	assert.Equal(t, "https://blobs/new.pdf", entry.RemoteURL)

	t.Run("timestamp tie resolves by path", func(t *testing.T) {
		tied := []metastore.Record{
			record("ABB", "ACH550-01", "/lib/a.pdf", "https://blobs/a.pdf", digest.Sum([]byte("a")), older),
			record("ABB", "ACH550-01", "/lib/z.pdf", "https://blobs/z.pdf", digest.Sum([]byte("z")), older),
		}
		for i := 0; i < 4; i++ {
			files := Build(tied)
			require.Len(t, files, 1)
			assert.Equal(t, "https://blobs/z.pdf", files["abb-ach550-01"].RemoteURL)
			tied[0], tied[1] = tied[1], tied[0]
		}
	})
}

func TestPublishAndCurrent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)

	hash := digest.Sum([]byte("content"))
	records := []metastore.Record{
		record("ABB", "ACH550-01", "/lib/a.pdf", "https://blobs/a.pdf", hash, time.Now().UTC()),
	}

	published, err := s.Publish(records)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, published.Metadata.Version)
	assert.False(t, published.Metadata.GeneratedAt.IsZero())
	assert.Equal(t, 1, published.Len())

	current := s.Current()
	assert.Equal(t, published.Files, current.Files)

	// Snapshot survives a reopen.
	reopened, err := Open(s.Path())
	require.NoError(t, err)
	entry, ok := reopened.Current().Lookup(identity.Identity{Manufacturer: "abb", PartNumber: "ach550_01"})
	require.True(t, ok)
	assert.Equal(t, hash, entry.ContentHash)
}

func TestPublishReplacesWholesale(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)

	now := time.Now().UTC()
	first := []metastore.Record{
		record("ABB", "ACH550-01", "/lib/a.pdf", "u1", digest.Sum([]byte("a")), now),
		record("Eaton", "C25", "/lib/b.pdf", "u2", digest.Sum([]byte("b")), now),
	}
	_, err = s.Publish(first)
	require.NoError(t, err)

	second := []metastore.Record{
		record("ABB", "ACH550-01", "/lib/a.pdf", "u1", digest.Sum([]byte("a")), now),
	}
	m, err := s.Publish(second)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Len(), "entries absent from the new record set must not survive")
	_, ok := m.Lookup(identity.Identity{Manufacturer: "Eaton", PartNumber: "C25"})
	assert.False(t, ok)
}

func validManifestJSON(t *testing.T) string {
	t.Helper()
	return `{
  "metadata": {"generated_at": "2026-01-02T15:04:05Z", "version": "1.0"},
  "files": {
    "abb-ach550-01": {
      "identity": {"manufacturer": "ABB", "partNumber": "ACH550-01"},
      "remoteUrl": "https://blobs.example.com/abb.pdf",
      "contentHash": "` + digest.Sum([]byte("abb")) + `",
      "byteSize": 1234,
      "lastUpdated": "2026-01-02T15:04:05Z"
    }
  }
}`
}

func TestLoadValid(t *testing.T) {
	m, err := Load(strings.NewReader(validManifestJSON(t)))
	require.NoError(t, err)

	assert.Equal(t, "1.0", m.Metadata.Version)
	require.Equal(t, 1, m.Len())
	entry, ok := m.Lookup(identity.Identity{Manufacturer: "ABB", PartNumber: "ACH550-01"})
	require.True(t, ok)
	assert.Equal(t, "https://blobs.example.com/abb.pdf", entry.RemoteURL)
	assert.Equal(t, int64(1234), entry.ByteSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	hash := digest.Sum([]byte("x"))
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "entry missing remoteUrl",
			doc: `{"metadata": {"generated_at": "2026-01-02T15:04:05Z", "version": "1.0"},
			      "files": {"abb-x": {"identity": {"manufacturer": "ABB", "partNumber": "X"},
			                          "contentHash": "` + hash + `"}}}`,
		},
		{
			name: "entry missing contentHash",
			doc: `{"metadata": {"generated_at": "2026-01-02T15:04:05Z", "version": "1.0"},
			      "files": {"abb-x": {"identity": {"manufacturer": "ABB", "partNumber": "X"},
			                          "remoteUrl": "https://blobs/x.pdf"}}}`,
		},
		{
			name: "uppercase hash",
			doc: `{"metadata": {"generated_at": "2026-01-02T15:04:05Z", "version": "1.0"},
			      "files": {"abb-x": {"identity": {"manufacturer": "ABB", "partNumber": "X"},
			                          "remoteUrl": "https://blobs/x.pdf",
			                          "contentHash": "` + strings.ToUpper(hash) + `"}}}`,
		},
		{
			name: "missing metadata",
			doc:  `{"files": {}}`,
		},
		{
			name: "files not an object",
			doc: `{"metadata": {"generated_at": "2026-01-02T15:04:05Z", "version": "1.0"},
			      "files": []}`,
		},
		{
			name: "not json",
			doc:  `{broken`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestLoadFailureKeepsCurrentManifest(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)

	_, err = s.Publish([]metastore.Record{
		record("ABB", "ACH550-01", "/lib/a.pdf", "u1", digest.Sum([]byte("a")), time.Now().UTC()),
	})
	require.NoError(t, err)
	before := s.Current()

	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`{"files": 5}`), 0o644))
	_, err = LoadFile(badPath)
	require.ErrorIs(t, err, ErrInvalidManifest)

	assert.Equal(t, before.Files, s.Current().Files, "a failed load must not disturb the current manifest")
}

func TestOpenCorruptManifestStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte("not a manifest"), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Current().Len())
}

func TestReplace(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)

	m, err := Load(strings.NewReader(validManifestJSON(t)))
	require.NoError(t, err)
	require.NoError(t, s.Replace(m))

	assert.Equal(t, m.Files, s.Current().Files)

	// Replace persisted the manifest.
	reopened, err := Open(s.Path())
	require.NoError(t, err)
	assert.Equal(t, m.Files, reopened.Current().Files)
}

package metastore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/cutsync/pkg/cutsync/digest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
)

var abb = identity.Identity{Manufacturer: "ABB", PartNumber: "ACH550-01"}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store.json")
	s, err := Open(storePath, digest.New(digest.Options{}))
	require.NoError(t, err)
	return s, dir
}

func writePDF(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestOpenMissingFile(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, 0, s.Len())
}

func TestRefreshInsertsRecord(t *testing.T) {
	s, dir := newTestStore(t)
	content := []byte("drive manual v1")
	path := writePDF(t, dir, "ach550.pdf", content)

	rec, err := s.Refresh(abb, path, "")
	require.NoError(t, err)

	assert.Equal(t, abb, rec.Identity)
	assert.Equal(t, path, rec.LocalPath)
	assert.Empty(t, rec.RemoteURL)
	assert.Equal(t, digest.Sum(content), rec.ContentHash)
	assert.Equal(t, int64(len(content)), rec.ByteSize)
	assert.False(t, rec.LastUpdated.IsZero())

	// Mutation persisted to disk immediately.
	_, err = os.Stat(s.Path())
	assert.NoError(t, err)
}

func TestRefreshIdempotent(t *testing.T) {
	s, dir := newTestStore(t)
	path := writePDF(t, dir, "a.pdf", []byte("stable content"))

	first, err := s.Refresh(abb, path, "")
	require.NoError(t, err)
	second, err := s.Refresh(abb, path, "")
	require.NoError(t, err)

	assert.Equal(t, first, second, "refreshing an unchanged file must not alter the record")
	assert.Equal(t, first.LastUpdated, second.LastUpdated)
}

func TestRefreshDetectsChange(t *testing.T) {
	s, dir := newTestStore(t)
	path := writePDF(t, dir, "a.pdf", []byte("rev 1"))

	first, err := s.Refresh(abb, path, "")
	require.NoError(t, err)

	writePDF(t, dir, "a.pdf", []byte("rev 2 with more bytes"))
	second, err := s.Refresh(abb, path, "")
	require.NoError(t, err)

	assert.NotEqual(t, first.ContentHash, second.ContentHash)
	assert.NotEqual(t, first.ByteSize, second.ByteSize)
	assert.True(t, second.LastUpdated.After(first.LastUpdated) || second.LastUpdated.Equal(first.LastUpdated))
	assert.NotEqual(t, first, second)
}

func TestRefreshPreservesRemoteURL(t *testing.T) {
	s, dir := newTestStore(t)
	path := writePDF(t, dir, "a.pdf", []byte("content"))

	_, err := s.Refresh(abb, path, "https://blobs.example.com/abb-ach550-01.pdf")
	require.NoError(t, err)

	rec, err := s.Refresh(abb, path, "")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example.com/abb-ach550-01.pdf", rec.RemoteURL)
}

func TestRefreshMissingFile(t *testing.T) {
	s, dir := newTestStore(t)

	_, err := s.Refresh(abb, filepath.Join(dir, "absent.pdf"), "")
	require.Error(t, err)
	assert.Equal(t, 0, s.Len(), "failed refresh must not touch the table")
}

func TestRefreshInvalidIdentity(t *testing.T) {
	s, dir := newTestStore(t)
	path := writePDF(t, dir, "a.pdf", []byte("content"))

	_, err := s.Refresh(identity.Identity{Manufacturer: "ABB"}, path, "")
	assert.ErrorIs(t, err, identity.ErrMissingPartNumber)
}

func TestSetRemoteURL(t *testing.T) {
	s, dir := newTestStore(t)
	path := writePDF(t, dir, "a.pdf", []byte("content"))

	before, err := s.Refresh(abb, path, "")
	require.NoError(t, err)

	rec, err := s.SetRemoteURL(path, "s3://cutsheets/abb-ach550-01.pdf")
	require.NoError(t, err)
	assert.Equal(t, "s3://cutsheets/abb-ach550-01.pdf", rec.RemoteURL)
	assert.True(t, rec.LastUpdated.After(before.LastUpdated) || rec.LastUpdated.Equal(before.LastUpdated))

	t.Run("same URL is a no-op", func(t *testing.T) {
		again, err := s.SetRemoteURL(path, "s3://cutsheets/abb-ach550-01.pdf")
		require.NoError(t, err)
		assert.Equal(t, rec, again)
	})

	t.Run("unknown path", func(t *testing.T) {
		_, err := s.SetRemoteURL("/nowhere.pdf", "s3://x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFindFoldsIdentity(t *testing.T) {
	s, dir := newTestStore(t)
	path := writePDF(t, dir, "a.pdf", []byte("content"))
	_, err := s.Refresh(abb, path, "")
	require.NoError(t, err)

	rec, ok := s.Find(identity.Identity{Manufacturer: "abb", PartNumber: "ach550_01"})
	require.True(t, ok)
	assert.Equal(t, path, rec.LocalPath)

	_, ok = s.Find(identity.Identity{Manufacturer: "Eaton", PartNumber: "ACH550-01"})
	assert.False(t, ok)
}

func TestListSorted(t *testing.T) {
	s, dir := newTestStore(t)
	pb := writePDF(t, dir, "b.pdf", []byte("b"))
	pa := writePDF(t, dir, "a.pdf", []byte("a"))
	pc := writePDF(t, dir, "c.pdf", []byte("c"))

	for i, p := range []string{pb, pa, pc} {
		id := identity.Identity{Manufacturer: "M", PartNumber: string(rune('A' + i))}
		_, err := s.Refresh(id, p, "")
		require.NoError(t, err)
	}

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{pa, pb, pc}, []string{list[0].LocalPath, list[1].LocalPath, list[2].LocalPath})
}

func TestRemove(t *testing.T) {
	s, dir := newTestStore(t)
	path := writePDF(t, dir, "a.pdf", []byte("content"))
	_, err := s.Refresh(abb, path, "")
	require.NoError(t, err)

	removed, err := s.Remove(path)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, s.Len())

	removed, err = s.Remove(path)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestHasChanged(t *testing.T) {
	s, dir := newTestStore(t)
	path := writePDF(t, dir, "a.pdf", []byte("original"))
	_, err := s.Refresh(abb, path, "")
	require.NoError(t, err)

	t.Run("unchanged", func(t *testing.T) {
		changed, err := s.HasChanged(path)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("modified", func(t *testing.T) {
		writePDF(t, dir, "a.pdf", []byte("modified"))
		changed, err := s.HasChanged(path)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("deleted counts as changed", func(t *testing.T) {
		require.NoError(t, os.Remove(path))
		changed, err := s.HasChanged(path)
		assert.True(t, changed, "unreadable file must count as changed")
		assert.Error(t, err)
	})

	t.Run("untracked counts as changed", func(t *testing.T) {
		changed, err := s.HasChanged("/untracked.pdf")
		assert.True(t, changed)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReopenRoundTrip(t *testing.T) {
	s, dir := newTestStore(t)
	path := writePDF(t, dir, "a.pdf", []byte("content"))
	want, err := s.Refresh(abb, path, "https://blobs.example.com/a.pdf")
	require.NoError(t, err)

	reopened, err := Open(s.Path(), digest.New(digest.Options{}))
	require.NoError(t, err)

	got, ok := reopened.Get(path)
	require.True(t, ok)
	assert.Equal(t, want.Identity, got.Identity)
	assert.Equal(t, want.ContentHash, got.ContentHash)
	assert.Equal(t, want.RemoteURL, got.RemoteURL)
	assert.True(t, want.LastUpdated.Equal(got.LastUpdated))
}

func TestOpenCorruptFile(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store.json")
	require.NoError(t, os.WriteFile(storePath, []byte("{not json"), 0o644))

	s, err := Open(storePath, digest.New(digest.Options{}))
	require.NoError(t, err, "corrupt store must not block startup")
	assert.Equal(t, 0, s.Len())

	_, err = os.Stat(storePath + ".corrupt")
	assert.NoError(t, err, "corrupt file should be backed up")
}

func TestPersistedShape(t *testing.T) {
	s, dir := newTestStore(t)
	path := writePDF(t, dir, "a.pdf", []byte("content"))
	_, err := s.Refresh(abb, path, "")
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var shape struct {
		Files       map[string]json.RawMessage `json:"files"`
		LastUpdated string                     `json:"lastUpdated"`
	}
	require.NoError(t, json.Unmarshal(data, &shape))
	assert.Contains(t, shape.Files, path)
	assert.NotEmpty(t, shape.LastUpdated)
}

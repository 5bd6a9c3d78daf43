package reconcile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/cutsync/pkg/cutsync/digest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
	"github.com/jamesainslie/cutsync/pkg/cutsync/manifest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
	"github.com/jamesainslie/cutsync/pkg/cutsync/transport"
)

// fakeTransport keeps objects in memory and supports injected failures
// and corrupted payloads per name or URL.
type fakeTransport struct {
	baseURL string

	mu      sync.Mutex
	objects map[string][]byte

	failUpload   map[string]error  // keyed by object name
	failDownload map[string]error  // keyed by URL
	corrupt      map[string][]byte // served instead of the stored bytes

	putCalls    atomic.Int32
	getCalls    atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		baseURL:      "https://files.example.com",
		objects:      make(map[string][]byte),
		failUpload:   make(map[string]error),
		failDownload: make(map[string]error),
		corrupt:      make(map[string][]byte),
	}
}

func (f *fakeTransport) trackConcurrency() func() {
	n := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeTransport) Upload(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	f.putCalls.Add(1)
	defer f.trackConcurrency()()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	failErr := f.failUpload[name]
	f.mu.Unlock()
	if failErr != nil {
		return "", failErr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	url := f.baseURL + "/" + name

	f.mu.Lock()
	f.objects[url] = data
	f.mu.Unlock()
	return url, nil
}

func (f *fakeTransport) Download(ctx context.Context, url string, w io.Writer) error {
	f.getCalls.Add(1)
	defer f.trackConcurrency()()
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	failErr := f.failDownload[url]
	data, corrupted := f.corrupt[url]
	if !corrupted {
		data = f.objects[url]
	}
	stored := corrupted || f.objects[url] != nil
	f.mu.Unlock()

	if failErr != nil {
		return failErr
	}
	if !stored {
		return fmt.Errorf("%w: %s", transport.ErrNotFound, url)
	}
	_, err := w.Write(data)
	return err
}

// world wires a reconciler against temp-dir stores and the fake transport.
type world struct {
	dir  string
	lib  string
	meta *metastore.Store
	man  *manifest.Store
	tr   *fakeTransport
	eng  *digest.Engine
}

func newWorld(t *testing.T) *world {
	t.Helper()
	dir := t.TempDir()
	eng := digest.New(digest.Options{})

	meta, err := metastore.Open(filepath.Join(dir, "store.json"), eng)
	require.NoError(t, err)
	man, err := manifest.Open(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)

	return &world{
		dir:  dir,
		lib:  filepath.Join(dir, "library"),
		meta: meta,
		man:  man,
		tr:   newFakeTransport(),
		eng:  eng,
	}
}

func (w *world) reconciler(t *testing.T, opts Options) *Reconciler {
	t.Helper()
	opts.LibraryDir = w.lib
	if opts.QuarantineDir == "" {
		opts.QuarantineDir = filepath.Join(w.dir, "quarantine")
	}
	return New(w.meta, w.man, w.tr, w.eng, opts)
}

// addLocal writes a document into the library and registers it.
func (w *world) addLocal(t *testing.T, id identity.Identity, name string, content []byte) metastore.Record {
	t.Helper()
	require.NoError(t, os.MkdirAll(w.lib, 0o755))
	path := filepath.Join(w.lib, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	rec, err := w.meta.Refresh(id, path, "")
	require.NoError(t, err)
	return rec
}

// remoteEntry stores content in the fake transport and returns a manifest
// entry pointing at it.
func (w *world) remoteEntry(id identity.Identity, content []byte, updated time.Time) manifest.Entry {
	url := w.tr.baseURL + "/" + id.Key() + ".pdf"
	w.tr.mu.Lock()
	w.tr.objects[url] = content
	w.tr.mu.Unlock()
	return manifest.Entry{
		Identity:    id,
		RemoteURL:   url,
		ContentHash: digest.Sum(content),
		ByteSize:    int64(len(content)),
		LastUpdated: updated,
	}
}

func remoteManifest(entries ...manifest.Entry) manifest.Manifest {
	m := manifest.Manifest{
		Metadata: manifest.Metadata{GeneratedAt: time.Now().UTC(), Version: manifest.FormatVersion},
		Files:    make(map[string]manifest.Entry),
	}
	for _, e := range entries {
		m.Files[e.Identity.Key()] = e
	}
	return m
}

var (
	abb     = identity.Identity{Manufacturer: "ABB", PartNumber: "ACH550-01"}
	siemens = identity.Identity{Manufacturer: "Siemens", PartNumber: "3RT2015"}
	eaton   = identity.Identity{Manufacturer: "Eaton", PartNumber: "C25DND330"}
)

func TestRunUploadsNewLocalDocument(t *testing.T) {
	w := newWorld(t)
	content := []byte("%PDF-1.4 abb ach550-01 drive datasheet")
	w.addLocal(t, abb, "abb__ach550-01.pdf", content)

	r := w.reconciler(t, Options{})
	report, err := r.Run(context.Background(), remoteManifest())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Total())

	wantURL := w.tr.baseURL + "/abb-ach550-01.pdf"
	w.tr.mu.Lock()
	assert.Equal(t, content, w.tr.objects[wantURL])
	w.tr.mu.Unlock()

	rec, ok := w.meta.Find(abb)
	require.True(t, ok)
	assert.Equal(t, wantURL, rec.RemoteURL)
	assert.Equal(t, digest.Sum(content), rec.ContentHash)

	// The republished manifest now carries the uploaded document.
	entry, ok := w.man.Current().Lookup(abb)
	require.True(t, ok)
	assert.Equal(t, wantURL, entry.RemoteURL)
	assert.Equal(t, digest.Sum(content), entry.ContentHash)
}

func TestRunDownloadsManifestOnlyIdentity(t *testing.T) {
	w := newWorld(t)
	content := []byte("%PDF-1.4 siemens 3rt2015 contactor")
	entry := w.remoteEntry(siemens, content, time.Now().UTC())

	r := w.reconciler(t, Options{})
	report, err := r.Run(context.Background(), remoteManifest(entry))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 0, report.Failed)

	dest := filepath.Join(w.lib, "siemens-3rt2015.pdf")
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	rec, ok := w.meta.Find(siemens)
	require.True(t, ok)
	assert.Equal(t, dest, rec.LocalPath)
	assert.Equal(t, entry.RemoteURL, rec.RemoteURL)
	assert.Equal(t, entry.ContentHash, rec.ContentHash)

	// Downloaded documents survive into the republished manifest.
	_, ok = w.man.Current().Lookup(siemens)
	assert.True(t, ok)
}

func TestRunCorruptDownloadQuarantined(t *testing.T) {
	w := newWorld(t)
	good := []byte("%PDF-1.4 genuine revision")
	bad := []byte("%PDF-1.4 truncated garbage")

	entry := w.remoteEntry(siemens, good, time.Now().UTC())
	w.tr.corrupt[entry.RemoteURL] = bad

	quarantineDir := filepath.Join(w.dir, "quarantine")
	r := w.reconciler(t, Options{QuarantineDir: quarantineDir})
	report, err := r.Run(context.Background(), remoteManifest(entry))
	require.NoError(t, err, "per-item failures do not fail the pass")

	require.Equal(t, 1, report.Failed)
	require.Len(t, report.Errs(), 1)
	out := report.Errs()[0]
	assert.ErrorIs(t, out.Err, ErrCorruptDownload)
	assert.Contains(t, out.Err.Error(), entry.RemoteURL)
	assert.Contains(t, out.Err.Error(), quarantineDir)

	// Nothing recorded, nothing placed in the library.
	assert.Equal(t, 0, w.meta.Len())
	_, err = os.Stat(filepath.Join(w.lib, "siemens-3rt2015.pdf"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	// The bytes survive in quarantine for inspection.
	matches, err := filepath.Glob(filepath.Join(quarantineDir, "siemens-3rt2015-*.pdf"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	kept, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, bad, kept)

	// No partial files left behind.
	leftovers, err := filepath.Glob(filepath.Join(w.lib, "*.partial"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRunConvergesToZeroTransfers(t *testing.T) {
	w := newWorld(t)
	w.addLocal(t, abb, "abb__ach550-01.pdf", []byte("abb content"))
	remote := w.remoteEntry(siemens, []byte("siemens content"), time.Now().UTC())

	r := w.reconciler(t, Options{})
	first, err := r.Run(context.Background(), remoteManifest(remote))
	require.NoError(t, err)
	require.Equal(t, 0, first.Failed)
	require.Equal(t, 1, first.Uploaded)
	require.Equal(t, 1, first.Downloaded)

	puts, gets := w.tr.putCalls.Load(), w.tr.getCalls.Load()

	second, err := r.Run(context.Background(), w.man.Current())
	require.NoError(t, err)
	assert.Equal(t, 2, second.UpToDate)
	assert.Equal(t, 0, second.Downloaded)
	assert.Equal(t, 0, second.Uploaded)
	assert.Equal(t, puts, w.tr.putCalls.Load(), "a converged pass must not touch the transport")
	assert.Equal(t, gets, w.tr.getCalls.Load())
}

func TestRunResumesAfterFailure(t *testing.T) {
	w := newWorld(t)
	w.addLocal(t, abb, "abb__ach550-01.pdf", []byte("abb content"))
	w.addLocal(t, eaton, "eaton__c25dnd330.pdf", []byte("eaton content"))

	w.tr.mu.Lock()
	w.tr.failUpload["eaton-c25dnd330.pdf"] = fmt.Errorf("%w: %s/eaton-c25dnd330.pdf: HTTP 401: token expired",
		transport.ErrAuthRequired, w.tr.baseURL)
	w.tr.mu.Unlock()

	r := w.reconciler(t, Options{})
	first, err := r.Run(context.Background(), remoteManifest())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Uploaded)
	assert.Equal(t, 1, first.Failed)

	// Credential failures surface verbatim, naming the URL.
	out := first.Errs()[0]
	assert.ErrorIs(t, out.Err, transport.ErrAuthRequired)
	assert.Contains(t, out.Err.Error(), "eaton-c25dnd330.pdf")
	assert.Contains(t, out.Err.Error(), "token expired")

	// The failed identity's record is untouched: still unpublished.
	rec, ok := w.meta.Find(eaton)
	require.True(t, ok)
	assert.Empty(t, rec.RemoteURL)

	// Clear the failure; the re-run transfers only the failed identity.
	w.tr.mu.Lock()
	delete(w.tr.failUpload, "eaton-c25dnd330.pdf")
	w.tr.mu.Unlock()

	second, err := r.Run(context.Background(), w.man.Current())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Uploaded)
	assert.Equal(t, 1, second.UpToDate)
	assert.Equal(t, 0, second.Failed)

	rec, ok = w.meta.Find(eaton)
	require.True(t, ok)
	assert.NotEmpty(t, rec.RemoteURL)
}

func TestRunTieBreaks(t *testing.T) {
	t.Run("remote strictly newer downloads", func(t *testing.T) {
		w := newWorld(t)
		w.addLocal(t, abb, "abb__ach550-01.pdf", []byte("old local revision"))
		remoteContent := []byte("new remote revision")
		entry := w.remoteEntry(abb, remoteContent, time.Now().UTC().Add(time.Hour))

		r := w.reconciler(t, Options{})
		report, err := r.Run(context.Background(), remoteManifest(entry))
		require.NoError(t, err)
		assert.Equal(t, 1, report.Downloaded)

		got, err := os.ReadFile(filepath.Join(w.lib, "abb__ach550-01.pdf"))
		require.NoError(t, err)
		assert.Equal(t, remoteContent, got, "download replaces the tracked file in place")
	})

	t.Run("local newer uploads", func(t *testing.T) {
		w := newWorld(t)
		localContent := []byte("new local revision")
		w.addLocal(t, abb, "abb__ach550-01.pdf", localContent)
		entry := w.remoteEntry(abb, []byte("old remote revision"), time.Now().UTC().Add(-time.Hour))

		r := w.reconciler(t, Options{})
		report, err := r.Run(context.Background(), remoteManifest(entry))
		require.NoError(t, err)
		assert.Equal(t, 1, report.Uploaded)

		w.tr.mu.Lock()
		stored := w.tr.objects[w.tr.baseURL+"/abb-ach550-01.pdf"]
		w.tr.mu.Unlock()
		assert.Equal(t, localContent, stored)
	})
}

func TestRunForceReevaluates(t *testing.T) {
	w := newWorld(t)
	content := []byte("identical content")
	w.addLocal(t, abb, "abb__ach550-01.pdf", content)
	entry := w.remoteEntry(abb, content, time.Now().UTC().Add(-time.Hour))

	r := w.reconciler(t, Options{Force: true})
	report, err := r.Run(context.Background(), remoteManifest(entry))
	require.NoError(t, err)

	// Hashes match but force falls through to timestamps: the local record
	// is newer, so the pass re-uploads.
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 0, report.UpToDate)
}

func TestRunCancelledContext(t *testing.T) {
	w := newWorld(t)
	w.addLocal(t, abb, "abb__ach550-01.pdf", []byte("a"))
	w.addLocal(t, siemens, "siemens__3rt2015.pdf", []byte("b"))
	w.addLocal(t, eaton, "eaton__c25dnd330.pdf", []byte("c"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := w.reconciler(t, Options{})
	report, err := r.Run(ctx, remoteManifest())

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 3, report.Failed)
	for _, out := range report.Errs() {
		assert.Contains(t, out.Err.Error(), "skipped")
	}
}

func TestRunBoundsWorkerPool(t *testing.T) {
	w := newWorld(t)
	var entries []manifest.Entry
	for i := 0; i < 8; i++ {
		id := identity.Identity{Manufacturer: "Vendor", PartNumber: fmt.Sprintf("P-%03d", i)}
		entries = append(entries, w.remoteEntry(id, []byte(fmt.Sprintf("doc %d", i)), time.Now().UTC()))
	}

	r := w.reconciler(t, Options{Workers: 2})
	report, err := r.Run(context.Background(), remoteManifest(entries...))
	require.NoError(t, err)
	require.Equal(t, 8, report.Downloaded)

	assert.LessOrEqual(t, w.tr.maxInFlight.Load(), int32(2))
}

func TestPlanTransfersNothing(t *testing.T) {
	w := newWorld(t)
	w.addLocal(t, abb, "abb__ach550-01.pdf", []byte("abb content"))
	remote := w.remoteEntry(siemens, []byte("siemens content"), time.Now().UTC())

	r := w.reconciler(t, Options{})
	planned := r.Plan(remoteManifest(remote))

	require.Len(t, planned, 2)
	byKey := map[string]Action{}
	for _, out := range planned {
		byKey[out.Identity.Key()] = out.Action
	}
	assert.Equal(t, ActionUpload, byKey["abb-ach550-01"])
	assert.Equal(t, ActionDownload, byKey["siemens-3rt2015"])

	assert.Zero(t, w.tr.putCalls.Load())
	assert.Zero(t, w.tr.getCalls.Load())
	assert.Equal(t, 0, w.man.Current().Len(), "planning must not publish")
}

func TestRunDuplicatePathsSingleIdentity(t *testing.T) {
	w := newWorld(t)
	w.addLocal(t, abb, "abb__ach550-01.pdf", []byte("first copy"))
	w.addLocal(t, abb, "ach550-01-scan.pdf", []byte("second copy"))

	r := w.reconciler(t, Options{})
	report, err := r.Run(context.Background(), remoteManifest())
	require.NoError(t, err)

	// One identity, one transfer, even with two records on disk.
	assert.Equal(t, 1, report.Total())
	assert.Equal(t, 1, report.Uploaded)
}

func TestQuarantineMovesFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "download.partial")
	content := []byte("suspect bytes")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	qdir := filepath.Join(dir, "quarantine")
	dest, err := quarantine(src, qdir, abb)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(dest), "abb-ach550-01-"))
	assert.True(t, strings.HasSuffix(dest, ".pdf"))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = os.Stat(src)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMoveFileCopyFallback(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	dest := filepath.Join(dir, "nested", "dest.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, moveFile(src, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestRunDownloadTransportFailureLeavesStateAlone(t *testing.T) {
	w := newWorld(t)
	entry := w.remoteEntry(siemens, []byte("content"), time.Now().UTC())
	w.tr.mu.Lock()
	w.tr.failDownload[entry.RemoteURL] = fmt.Errorf("%w: %s", transport.ErrTimeout, entry.RemoteURL)
	w.tr.mu.Unlock()

	r := w.reconciler(t, Options{})
	report, err := r.Run(context.Background(), remoteManifest(entry))
	require.NoError(t, err)

	require.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Errs()[0].Err, transport.ErrTimeout)
	assert.Equal(t, 0, w.meta.Len())
}

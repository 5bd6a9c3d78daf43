// Package reconcile converges the local cut sheet library with a remote
// manifest. A pass computes one action per identity (download, upload, or
// nothing), executes the transfers on a bounded worker pool, and republishes
// the manifest so the next pass sees accurate remote state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/jamesainslie/cutsync/pkg/cutsync/digest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
	"github.com/jamesainslie/cutsync/pkg/cutsync/logging"
	"github.com/jamesainslie/cutsync/pkg/cutsync/manifest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
	"github.com/jamesainslie/cutsync/pkg/cutsync/transport"
)

// ErrCorruptDownload indicates that downloaded bytes did not match the
// manifest's digest. The local and remote state of the identity is left
// exactly as it was; the bytes are kept in quarantine.
var ErrCorruptDownload = errors.New("corrupt download")

// DefaultWorkers returns the default transfer pool size. The work is
// network-bound, so a handful of workers saturates most links.
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// Options configure a reconciliation pass.
type Options struct {
	// Force disables the hash-equality short circuit so every identity
	// is re-decided by timestamp.
	Force bool

	// Workers bounds concurrent transfers. Zero or negative selects
	// DefaultWorkers.
	Workers int

	// LibraryDir receives downloads for identities with no local record.
	LibraryDir string

	// QuarantineDir receives downloads whose digest does not match the
	// manifest. Empty keeps corrupt bytes next to the library under a
	// "quarantine" directory.
	QuarantineDir string
}

// Reconciler executes reconciliation passes against one metadata store,
// manifest store, and transport.
type Reconciler struct {
	meta      *metastore.Store
	manifests *manifest.Store
	transport transport.Transport
	engine    *digest.Engine
	opts      Options
	logger    *logging.Logger
}

// New creates a reconciler. The digest engine verifies downloaded bytes
// before they replace anything.
func New(meta *metastore.Store, man *manifest.Store, tr transport.Transport, eng *digest.Engine, opts Options) *Reconciler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.QuarantineDir == "" {
		opts.QuarantineDir = filepath.Join(opts.LibraryDir, "quarantine")
	}
	return &Reconciler{
		meta:      meta,
		manifests: man,
		transport: tr,
		engine:    eng,
		opts:      opts,
		logger:    logging.Get("reconcile"),
	}
}

// item pairs one identity with its local and remote sides. Either side
// may be nil, never both.
type item struct {
	id     identity.Identity
	local  *metastore.Record
	remote *manifest.Entry
}

// Plan returns the planned action per identity without transferring
// anything or touching either store. The order is stable (by identity key).
func (r *Reconciler) Plan(remote manifest.Manifest) []Outcome {
	items := r.union(remote)
	outcomes := make([]Outcome, 0, len(items))
	for _, it := range items {
		out := Outcome{Identity: it.id, Action: Decide(it.local, it.remote, r.opts.Force)}
		if it.local != nil {
			out.LocalPath = it.local.LocalPath
		}
		if it.remote != nil {
			out.RemoteURL = it.remote.RemoteURL
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Run executes a full pass: decide every identity, transfer concurrently,
// then republish the manifest from the resulting metadata table. Failed
// items never abort the pass and never touch the failed identity's state.
// Cancellation is honored between identities; in-flight transfers finish
// or abort through their context, the rest is marked failed, and the
// context's error is returned alongside the report.
func (r *Reconciler) Run(ctx context.Context, remote manifest.Manifest) (*Report, error) {
	items := r.union(remote)
	r.logger.Info("reconciliation pass started", "identities", len(items), "workers", r.opts.Workers, "force", r.opts.Force)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes = make([]Outcome, 0, len(items))
	)
	sem := make(chan struct{}, r.opts.Workers)

	var cause error
	for _, it := range items {
		if cause == nil && ctx.Err() != nil {
			cause = ctx.Err()
		}
		if cause == nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				cause = ctx.Err()
			}
		}
		if cause != nil {
			out := Outcome{Identity: it.id, Action: ActionFailed, Err: fmt.Errorf("skipped: %w", cause)}
			out.Detail = out.Err.Error()
			if it.local != nil {
				out.LocalPath = it.local.LocalPath
			}
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(it item) {
			defer func() {
				<-sem
				wg.Done()
			}()
			out := r.execute(ctx, it)
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		}(it)
	}
	wg.Wait()

	report := Summarize(outcomes)

	if _, err := r.manifests.Publish(r.meta.List()); err != nil {
		if cause == nil {
			cause = fmt.Errorf("failed to republish manifest: %w", err)
		} else {
			r.logger.Warn("failed to republish manifest", "error", err)
		}
	}

	r.logger.Info("reconciliation pass finished",
		"downloaded", report.Downloaded,
		"uploaded", report.Uploaded,
		"up-to-date", report.UpToDate,
		"failed", report.Failed)
	return report, cause
}

// union builds the item list: every distinct identity across the metadata
// table and the manifest, ordered by identity key. When several local
// records share an identity the first in path order represents it, the
// same record Find returns.
func (r *Reconciler) union(remote manifest.Manifest) []item {
	var items []item
	seen := make(map[string]bool)

	for _, rec := range r.meta.List() {
		key := rec.Identity.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		rec := rec
		it := item{id: rec.Identity, local: &rec}
		if entry, ok := remote.Lookup(rec.Identity); ok {
			it.remote = &entry
		}
		items = append(items, it)
	}

	for key, entry := range remote.Files {
		if seen[key] {
			continue
		}
		entry := entry
		items = append(items, item{id: entry.Identity, remote: &entry})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].id.Key() < items[j].id.Key()
	})
	return items
}

// execute runs one identity's action and reports the outcome.
func (r *Reconciler) execute(ctx context.Context, it item) Outcome {
	out := Outcome{Identity: it.id, Action: Decide(it.local, it.remote, r.opts.Force)}
	if it.local != nil {
		out.LocalPath = it.local.LocalPath
	}
	if it.remote != nil {
		out.RemoteURL = it.remote.RemoteURL
	}

	var err error
	switch out.Action {
	case ActionUpToDate:
		return out
	case ActionDownload:
		if err = r.download(ctx, &out, it); err == nil {
			out.Action = ActionDownloaded
		}
	case ActionUpload:
		if err = r.upload(ctx, &out, it); err == nil {
			out.Action = ActionUploaded
		}
	}
	if err != nil {
		out.Action = ActionFailed
		out.Err = err
		out.Detail = err.Error()
		r.logger.Warn("transfer failed", "identity", it.id.Key(), "error", err)
	}
	return out
}

// download fetches the manifest entry's bytes into the library. The bytes
// land in a temp file first and replace the destination only after their
// digest matches the manifest; a mismatch quarantines them and leaves the
// identity's state untouched.
func (r *Reconciler) download(ctx context.Context, out *Outcome, it item) error {
	entry := it.remote

	dest := out.LocalPath
	if dest == "" {
		dest = filepath.Join(r.opts.LibraryDir, it.id.Key()+".pdf")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create library directory: %w", err)
	}

	tmpPath := dest + ".partial"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}

	if err := r.transport.Download(ctx, entry.RemoteURL, f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to download %s: %w", entry.RemoteURL, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finish writing %s: %w", tmpPath, err)
	}

	if err := r.engine.Verify(tmpPath, entry.ContentHash); err != nil {
		if !errors.Is(err, digest.ErrMismatch) {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to verify download of %s: %w", entry.RemoteURL, err)
		}
		kept, qErr := quarantine(tmpPath, r.opts.QuarantineDir, it.id)
		if qErr != nil {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("%w from %s (quarantine also failed: %v)", ErrCorruptDownload, entry.RemoteURL, qErr)
		}
		return fmt.Errorf("%w from %s, bytes kept at %s", ErrCorruptDownload, entry.RemoteURL, kept)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	if _, err := r.meta.Refresh(it.id, dest, entry.RemoteURL); err != nil {
		return fmt.Errorf("failed to record download of %s: %w", entry.RemoteURL, err)
	}

	out.LocalPath = dest
	r.logger.Info("downloaded", "identity", it.id.Key(), "url", entry.RemoteURL, "path", dest)
	return nil
}

// upload pushes the local record's bytes to the remote store and records
// the returned URL. The store is only touched after the transfer succeeds.
func (r *Reconciler) upload(ctx context.Context, out *Outcome, it item) error {
	rec := it.local

	f, err := os.Open(rec.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", rec.LocalPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", rec.LocalPath, err)
	}

	url, err := r.transport.Upload(ctx, it.id.Key()+".pdf", f, info.Size())
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", rec.LocalPath, err)
	}

	if _, err := r.meta.Refresh(it.id, rec.LocalPath, url); err != nil {
		return fmt.Errorf("failed to record upload of %s: %w", rec.LocalPath, err)
	}

	out.RemoteURL = url
	r.logger.Info("uploaded", "identity", it.id.Key(), "url", url, "bytes", info.Size())
	return nil
}

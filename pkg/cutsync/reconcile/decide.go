package reconcile

import (
	"github.com/jamesainslie/cutsync/pkg/cutsync/manifest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
)

// Action is the per-identity transfer decision or result. Decide and Plan
// produce the first three; executed passes replace them with the past-tense
// forms once a transfer completes, or ActionFailed when it does not.
type Action string

const (
	// ActionUpToDate means both sides already hold the same content.
	ActionUpToDate Action = "up-to-date"

	// ActionDownload means the remote copy is authoritative.
	ActionDownload Action = "download"

	// ActionUpload means the local copy is authoritative.
	ActionUpload Action = "upload"

	// ActionDownloaded marks a completed fetch from the remote store.
	ActionDownloaded Action = "downloaded"

	// ActionUploaded marks a completed push to the remote store.
	ActionUploaded Action = "uploaded"

	// ActionFailed marks an outcome whose transfer did not complete.
	ActionFailed Action = "failed"
)

// Decide picks the action for one identity from its local record and remote
// manifest entry. Either side may be nil. The result depends only on the
// arguments, never on the filesystem or the clock.
//
// Timestamps only ever break hash ties: when the hashes differ (or force
// disables the equality check), the side with the later LastUpdated wins,
// and an exact tie keeps the local copy authoritative.
func Decide(local *metastore.Record, remote *manifest.Entry, force bool) Action {
	switch {
	case local == nil && remote == nil:
		return ActionUpToDate
	case local == nil:
		return ActionDownload
	case remote == nil:
		return ActionUpload
	}

	if !force && local.ContentHash == remote.ContentHash {
		return ActionUpToDate
	}

	if remote.LastUpdated.After(local.LastUpdated) {
		return ActionDownload
	}
	return ActionUpload
}

// Package config provides configuration management for cutsync.
package config

import "time"

// Default configuration values for cutsync.
const (
	// DefaultStreamThreshold is the file size above which digests are
	// streamed from disk instead of read into memory.
	DefaultStreamThreshold = "50MB"

	// DefaultRemoteKind is the transport used when none is configured.
	DefaultRemoteKind = "http"

	// DefaultRemoteTimeout bounds a single remote request.
	DefaultRemoteTimeout = 60 * time.Second

	// DefaultRemoteRetries is the number of attempts for transient
	// remote failures.
	DefaultRemoteRetries = 3

	// DefaultWatchDebounce is how long the watcher waits after the last
	// filesystem event before acting on a batch.
	DefaultWatchDebounce = 2 * time.Second

	// DefaultJournalKeep is the number of journal entries retained.
	DefaultJournalKeep = 50

	// DefaultOutputFormat selects the formatter when none is configured.
	DefaultOutputFormat = "pretty"
)

// DefaultExclusions contains scan patterns excluded by default. Hidden
// entries and staging directories never become tracked documents.
var DefaultExclusions = []string{".*", "_*"}

// Package journal records per-run history for sync and publish operations.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/cutsync/pkg/cutsync/reconcile"
)

// ErrNotFound is returned by Get when no entry has the given ID.
var ErrNotFound = errors.New("journal entry not found")

// Operation identifies the kind of run a journal entry records.
type Operation string

const (
	// OpSync records a full reconciliation pass.
	OpSync Operation = "sync"
	// OpPublish records a manifest snapshot write.
	OpPublish Operation = "publish"
)

// Counts summarizes a run by outcome.
type Counts struct {
	Downloaded int `json:"downloaded"`
	Uploaded   int `json:"uploaded"`
	UpToDate   int `json:"upToDate"`
	Failed     int `json:"failed"`
}

// Entry records a single completed run.
type Entry struct {
	// ID uniquely names the entry, formatted as <op>-<timestamp>-<suffix>.
	ID string `json:"id"`

	// Operation is the kind of run recorded.
	Operation Operation `json:"operation"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when the run finished and the entry was written.
	CompletedAt time.Time `json:"completedAt"`

	// Counts summarizes the run.
	Counts Counts `json:"counts"`

	// Outcomes lists the per-document results, when the run produced any.
	Outcomes []reconcile.Outcome `json:"outcomes,omitempty"`

	// ManifestPath is the manifest file the run read or wrote.
	ManifestPath string `json:"manifestPath,omitempty"`
}

// Journal appends run entries as JSON files under a single directory.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// New creates a Journal rooted at dir. The directory is created on the
// first write, not here.
func New(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("journal directory cannot be empty")
	}
	return &Journal{dir: dir}, nil
}

// Dir returns the directory entries are written to.
func (j *Journal) Dir() string {
	return j.dir
}

// Record writes an entry for a completed run and returns it. The report may
// be nil for runs that produced no per-document outcomes.
func (j *Journal) Record(op Operation, startedAt time.Time, rep *reconcile.Report, manifestPath string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		ID:           generateID(op),
		Operation:    op,
		StartedAt:    startedAt.UTC(),
		CompletedAt:  time.Now().UTC(),
		ManifestPath: manifestPath,
	}
	if rep != nil {
		entry.Counts = Counts{
			Downloaded: rep.Downloaded,
			Uploaded:   rep.Uploaded,
			UpToDate:   rep.UpToDate,
			Failed:     rep.Failed,
		}
		entry.Outcomes = rep.Outcomes
	}

	if err := j.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to write journal entry: %w", err)
	}
	return entry, nil
}

// writeEntry persists an entry atomically via a temp file and rename.
func (j *Journal) writeEntry(entry *Entry) error {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	filePath := filepath.Join(j.dir, entry.ID+".json")
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// List returns entries sorted newest first. If limit is 0 or negative, all
// entries are returned. A missing journal directory yields an empty list.
func (j *Journal) List(limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, k int) bool {
		if !entries[i].StartedAt.Equal(entries[k].StartedAt) {
			return entries[i].StartedAt.After(entries[k].StartedAt)
		}
		return entries[i].ID > entries[k].ID
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get retrieves a single entry by its full ID.
func (j *Journal) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry ID cannot be empty")
	}
	if filepath.Base(id) != id {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.readEntryFile(id + ".json")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return entry, nil
}

// Cleanup removes all but the keep newest entries and reports how many were
// deleted. A keep of zero clears the journal entirely.
func (j *Journal) Cleanup(keep int) (int, error) {
	if keep < 0 {
		return 0, errors.New("keep cannot be negative")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return 0, err
	}

	sort.Slice(entries, func(i, k int) bool {
		if !entries[i].StartedAt.Equal(entries[k].StartedAt) {
			return entries[i].StartedAt.After(entries[k].StartedAt)
		}
		return entries[i].ID > entries[k].ID
	})

	removed := 0
	for _, entry := range entries[min(keep, len(entries)):] {
		if err := os.Remove(filepath.Join(j.dir, entry.ID+".json")); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// readAll loads every parseable entry in the journal directory. Files that
// are not valid entries are skipped.
func (j *Journal) readAll() ([]Entry, error) {
	files, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	entries := []Entry{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		entry, err := j.readEntryFile(f.Name())
		if err != nil || entry.ID == "" {
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (j *Journal) readEntryFile(filename string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, filename))
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// generateID creates an ID like "sync-2024-06-15T10-30-00-1a2b3c4d".
func generateID(op Operation) string {
	ts := time.Now().UTC().Format("2006-01-02T15-04-05")
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("%s-%s-%s", op, ts, suffix)
}

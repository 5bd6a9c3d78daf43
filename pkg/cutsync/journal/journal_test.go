package journal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
	"github.com/jamesainslie/cutsync/pkg/cutsync/reconcile"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates journal with valid directory", func(t *testing.T) {
		t.Parallel()

		j, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New() error = %v, want nil", err)
		}
		if j == nil {
			t.Fatal("New() returned nil")
		}
	})

	t.Run("returns error for empty directory", func(t *testing.T) {
		t.Parallel()

		if _, err := New(""); err == nil {
			t.Fatal("New() error = nil, want error for empty directory")
		}
	})
}

func TestJournal_Record(t *testing.T) {
	t.Parallel()

	t.Run("records sync run with report", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		rep := &reconcile.Report{
			Downloaded: 2,
			Uploaded:   1,
			UpToDate:   3,
			Failed:     1,
			Outcomes: []reconcile.Outcome{
				{
					Identity: identity.Identity{Manufacturer: "ABB", PartNumber: "ACH550-01"},
					Action:   reconcile.ActionUploaded,
				},
			},
		}
		started := time.Now().UTC().Add(-time.Minute)

		entry, err := j.Record(OpSync, started, rep, "/tmp/cutsheets.manifest.json")
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}

		if entry.Operation != OpSync {
			t.Errorf("Operation = %v, want %v", entry.Operation, OpSync)
		}
		if !strings.HasPrefix(entry.ID, "sync-") {
			t.Errorf("ID = %q, want prefix 'sync-'", entry.ID)
		}
		if entry.Counts != (Counts{Downloaded: 2, Uploaded: 1, UpToDate: 3, Failed: 1}) {
			t.Errorf("Counts = %+v", entry.Counts)
		}
		if len(entry.Outcomes) != 1 {
			t.Fatalf("len(Outcomes) = %d, want 1", len(entry.Outcomes))
		}
		if !entry.StartedAt.Equal(started) {
			t.Errorf("StartedAt = %v, want %v", entry.StartedAt, started)
		}
		if entry.CompletedAt.Before(entry.StartedAt) {
			t.Errorf("CompletedAt %v before StartedAt %v", entry.CompletedAt, entry.StartedAt)
		}
	})

	t.Run("persists entry to file", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		entry, err := j.Record(OpSync, time.Now(), nil, "")
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}

		data, err := os.ReadFile(filepath.Join(j.Dir(), entry.ID+".json"))
		if err != nil {
			t.Fatalf("entry file not written: %v", err)
		}
		var got Entry
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("entry file is not valid JSON: %v", err)
		}
		if got.ID != entry.ID {
			t.Errorf("persisted ID = %q, want %q", got.ID, entry.ID)
		}
	})

	t.Run("nil report yields zero counts", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		entry, err := j.Record(OpPublish, time.Now(), nil, "/tmp/out.json")
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if entry.Counts != (Counts{}) {
			t.Errorf("Counts = %+v, want zero", entry.Counts)
		}
		if !strings.HasPrefix(entry.ID, "publish-") {
			t.Errorf("ID = %q, want prefix 'publish-'", entry.ID)
		}
	})

	t.Run("creates directory when missing", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "journal")

		j, err := New(dir)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if _, err := j.Record(OpSync, time.Now(), nil, ""); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("journal directory not created: %v", err)
		}
	})
}

func TestJournal_List(t *testing.T) {
	t.Parallel()

	t.Run("missing directory yields empty list", func(t *testing.T) {
		t.Parallel()
		j, err := New(filepath.Join(t.TempDir(), "never-written"))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		entries, err := j.List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("len(entries) = %d, want 0", len(entries))
		}
	})

	t.Run("returns entries newest first", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
		recordAt(t, j, base.Add(time.Hour))
		recordAt(t, j, base)
		recordAt(t, j, base.Add(2*time.Hour))

		entries, err := j.List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("len(entries) = %d, want 3", len(entries))
		}
		for i := 1; i < len(entries); i++ {
			if entries[i].StartedAt.After(entries[i-1].StartedAt) {
				t.Errorf("entries[%d] newer than entries[%d]", i, i-1)
			}
		}
		if !entries[0].StartedAt.Equal(base.Add(2 * time.Hour)) {
			t.Errorf("entries[0].StartedAt = %v, want newest", entries[0].StartedAt)
		}
	})

	t.Run("applies limit", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			recordAt(t, j, base.Add(time.Duration(i)*time.Minute))
		}

		entries, err := j.List(2)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("len(entries) = %d, want 2", len(entries))
		}
		if !entries[0].StartedAt.Equal(base.Add(4 * time.Minute)) {
			t.Errorf("entries[0].StartedAt = %v, want newest", entries[0].StartedAt)
		}
	})

	t.Run("skips files that are not entries", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)
		recordAt(t, j, time.Now())

		writeFile(t, filepath.Join(j.Dir(), "garbage.json"), "{not json")
		writeFile(t, filepath.Join(j.Dir(), "empty.json"), "{}")
		writeFile(t, filepath.Join(j.Dir(), "notes.txt"), "ignore me")

		entries, err := j.List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("len(entries) = %d, want 1", len(entries))
		}
	})
}

func TestJournal_Get(t *testing.T) {
	t.Parallel()

	t.Run("retrieves entry by ID", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		want, err := j.Record(OpSync, time.Now(), &reconcile.Report{Uploaded: 1}, "")
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}

		got, err := j.Get(want.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ID != want.ID {
			t.Errorf("ID = %q, want %q", got.ID, want.ID)
		}
		if got.Counts.Uploaded != 1 {
			t.Errorf("Counts.Uploaded = %d, want 1", got.Counts.Uploaded)
		}
	})

	t.Run("unknown ID returns ErrNotFound", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		_, err := j.Get("sync-2024-01-01T00-00-00-deadbeef")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("empty ID returns error", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		if _, err := j.Get(""); err == nil {
			t.Fatal("Get() error = nil, want error")
		}
	})

	t.Run("ID with path separator returns ErrNotFound", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		_, err := j.Get("../outside")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
	})
}

func TestJournal_Cleanup(t *testing.T) {
	t.Parallel()

	t.Run("keeps newest entries", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			recordAt(t, j, base.Add(time.Duration(i)*time.Minute))
		}

		removed, err := j.Cleanup(2)
		if err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
		if removed != 3 {
			t.Errorf("removed = %d, want 3", removed)
		}

		entries, err := j.List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("len(entries) = %d, want 2", len(entries))
		}
		if !entries[0].StartedAt.Equal(base.Add(4 * time.Minute)) {
			t.Errorf("newest entry removed, entries[0].StartedAt = %v", entries[0].StartedAt)
		}
		if !entries[1].StartedAt.Equal(base.Add(3 * time.Minute)) {
			t.Errorf("second newest removed, entries[1].StartedAt = %v", entries[1].StartedAt)
		}
	})

	t.Run("keep larger than count removes nothing", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)
		recordAt(t, j, time.Now())

		removed, err := j.Cleanup(10)
		if err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
		if removed != 0 {
			t.Errorf("removed = %d, want 0", removed)
		}
	})

	t.Run("keep zero clears the journal", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)
		recordAt(t, j, time.Now())
		recordAt(t, j, time.Now().Add(time.Second))

		removed, err := j.Cleanup(0)
		if err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
		if removed != 2 {
			t.Errorf("removed = %d, want 2", removed)
		}

		entries, err := j.List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("len(entries) = %d, want 0", len(entries))
		}
	})

	t.Run("negative keep returns error", func(t *testing.T) {
		t.Parallel()
		j := newTestJournal(t)

		if _, err := j.Cleanup(-1); err == nil {
			t.Fatal("Cleanup() error = nil, want error")
		}
	})
}

func TestGenerateID(t *testing.T) {
	t.Parallel()

	a := generateID(OpSync)
	b := generateID(OpSync)

	if !strings.HasPrefix(a, "sync-") {
		t.Errorf("ID = %q, want prefix 'sync-'", a)
	}
	if a == b {
		t.Errorf("consecutive IDs collide: %q", a)
	}
}

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return j
}

func recordAt(t *testing.T, j *Journal, startedAt time.Time) *Entry {
	t.Helper()
	entry, err := j.Record(OpSync, startedAt, nil, "")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	return entry
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

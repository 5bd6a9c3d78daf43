package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/cutsync/pkg/cutsync/reconcile"
)

// sampleResult builds a result with one row per interesting state.
func sampleResult() *Result {
	return &Result{
		Command: "sync",
		Source:  "/srv/cutsheets",
		Report:  &reconcile.Report{Downloaded: 1, Uploaded: 2, UpToDate: 3, Failed: 1},
		Rows: []Row{
			{
				Identity: "abb-ach550-01",
				State:    "upload",
				Size:     2048,
				Path:     "/srv/cutsheets/abb.pdf",
				URL:      "https://files.example.com/abb-ach550-01.pdf",
			},
			{
				Identity: "eaton-c25dnd330",
				State:    "failed",
				Path:     "/srv/cutsheets/eaton.pdf",
				Detail:   "HTTP 401: token expired",
			},
			{
				Identity: "siemens-3rt2015",
				State:    "download",
				Size:     1024,
				URL:      "https://files.example.com/siemens-3rt2015.pdf",
			},
		},
		Tracked:   3,
		Published: 2,
		Duration:  1500 * time.Millisecond,
		Warnings:  []string{"journal write skipped"},
	}
}

func TestResult_TotalSize(t *testing.T) {
	tests := []struct {
		name     string
		rows     []Row
		expected int64
	}{
		{
			name:     "empty rows",
			rows:     []Row{},
			expected: 0,
		},
		{
			name: "single row",
			rows: []Row{
				{Identity: "a", Size: 1000},
			},
			expected: 1000,
		},
		{
			name: "multiple rows",
			rows: []Row{
				{Identity: "a", Size: 1000},
				{Identity: "b", Size: 2000},
				{Identity: "c", Size: 3000},
			},
			expected: 6000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Result{Rows: tt.rows}
			assert.Equal(t, tt.expected, result.TotalSize())
		})
	}
}

// mockFormatter is a simple formatter for testing the registry.
type mockFormatter struct{}

func (m *mockFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString("mock output")
	return nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register("mock", func() Formatter {
		return &mockFormatter{}
	})

	formatter, err := reg.Get("mock")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, formatter.Format(&buf, &Result{}))
	assert.Equal(t, "mock output", buf.String())
}

func TestRegistry_GetUnknownListsAvailable(t *testing.T) {
	reg := NewRegistry()
	reg.Register("alpha", func() Formatter { return &mockFormatter{} })
	reg.Register("beta", func() Formatter { return &mockFormatter{} })

	_, err := reg.Get("gamma")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "gamma"`)
	assert.Contains(t, err.Error(), "alpha, beta")
}

func TestRegistry_Available_Sorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("zeta", func() Formatter { return &mockFormatter{} })
	reg.Register("alpha", func() Formatter { return &mockFormatter{} })
	reg.Register("beta", func() Formatter { return &mockFormatter{} })

	assert.Equal(t, []string{"alpha", "beta", "zeta"}, reg.Available())
}

func TestBuiltinFormattersRegistered(t *testing.T) {
	available := Available()

	for _, name := range []string{"pretty", "plain", "json", "jsonl", "yaml", "tsv", "csv", "paths", "null", "template"} {
		assert.Contains(t, available, name)
	}
}

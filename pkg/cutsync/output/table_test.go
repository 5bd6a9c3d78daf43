package output

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTSVFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	f := &TSVFormatter{}

	require.NoError(t, f.Format(&buf, sampleResult()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "IDENTITY\tSTATE\tSIZE\tPATH\tURL", lines[0])

	fields := strings.Split(lines[1], "\t")
	require.Len(t, fields, 5)
	assert.Equal(t, "abb-ach550-01", fields[0])
	assert.Equal(t, "upload", fields[1])
	assert.Equal(t, "2048", fields[2])
}

func TestCSVFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	f := &CSVFormatter{}

	r := sampleResult()
	r.Rows = append(r.Rows, Row{
		Identity: "square-d-qo120",
		State:    "clean",
		Size:     512,
		Path:     "/srv/cut,sheets/qo120.pdf",
	})

	require.NoError(t, f.Format(&buf, r))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, []string{"IDENTITY", "STATE", "SIZE", "PATH", "URL"}, records[0])
	assert.Equal(t, "abb-ach550-01", records[1][0])

	// Commas in paths survive quoting.
	assert.Equal(t, "/srv/cut,sheets/qo120.pdf", records[4][3])
}

package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestYAMLFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	f := &YAMLFormatter{}

	require.NoError(t, f.Format(&buf, sampleResult()))

	var got yamlOutput
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, "sync", got.Command)
	require.NotNil(t, got.Counts)
	assert.Equal(t, 3, got.Counts.UpToDate)
	assert.Equal(t, 7, got.Counts.Total)

	require.Len(t, got.Rows, 3)
	assert.Equal(t, "upload", got.Rows[0].State)
	assert.Equal(t, "2.0 KiB", got.Rows[0].SizeHuman)

	assert.Equal(t, 3, got.Meta.Tracked)
	assert.Equal(t, int64(3072), got.Meta.TotalSize)
}

func TestYAMLFormatter_FieldNames(t *testing.T) {
	var buf bytes.Buffer
	f := &YAMLFormatter{}

	require.NoError(t, f.Format(&buf, sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "up_to_date:")
	assert.Contains(t, out, "total_size:")
	assert.NotContains(t, out, "uptodate:")
}

func TestYAMLFormatter_NoReport(t *testing.T) {
	var buf bytes.Buffer
	f := &YAMLFormatter{}
	r := sampleResult()
	r.Report = nil

	require.NoError(t, f.Format(&buf, r))
	assert.NotContains(t, buf.String(), "counts:")
}

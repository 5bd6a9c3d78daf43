package output

import (
	"bytes"
)

// PathsFormatter formats output as one local file path per line.
// Rows without a local path are skipped. The output is suitable for piping
// to other tools.
type PathsFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, row := range r.Rows {
		if row.Path == "" {
			continue
		}
		w.WriteString(row.Path)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("paths", func() Formatter {
		return &PathsFormatter{}
	})
}

// Ensure PathsFormatter implements Formatter.
var _ Formatter = (*PathsFormatter)(nil)

// NullFormatter formats output as null-delimited local paths, suitable for
// xargs -0 and other tools that accept null-delimited input. Paths containing
// spaces or newlines pass through safely.
type NullFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *NullFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, row := range r.Rows {
		if row.Path == "" {
			continue
		}
		w.WriteString(row.Path)
		w.WriteByte(0)
	}
	return nil
}

func init() {
	Register("null", func() Formatter {
		return &NullFormatter{}
	})
}

// Ensure NullFormatter implements Formatter.
var _ Formatter = (*NullFormatter)(nil)

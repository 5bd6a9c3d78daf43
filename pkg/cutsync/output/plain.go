package output

import (
	"bytes"
	"text/tabwriter"
)

// PlainFormatter formats output as a simple tab-separated table.
// It produces plain text output suitable for scripting and piping.
// No colors or styling are applied.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := tw.Write([]byte("STATE\tSIZE\tIDENTITY\tLOCATION\n")); err != nil {
		return err
	}

	for _, row := range r.Rows {
		loc := row.Path
		if loc == "" {
			loc = row.URL
		}
		line := row.State + "\t" + sizeCell(row.Size) + "\t" + row.Identity + "\t" + loc
		if row.Detail != "" {
			line += "\t" + row.Detail
		}
		if _, err := tw.Write([]byte(line + "\n")); err != nil {
			return err
		}
	}

	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)

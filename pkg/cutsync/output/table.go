package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// TSVFormatter formats output as tab-separated values.
// It produces a simple table with a header row followed by data rows.
type TSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString("IDENTITY\tSTATE\tSIZE\tPATH\tURL\n")

	for _, row := range r.Rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			row.Identity, row.State, row.Size, row.Path, row.URL)
	}

	return nil
}

func init() {
	Register("tsv", func() Formatter {
		return &TSVFormatter{}
	})
}

// Ensure TSVFormatter implements Formatter.
var _ Formatter = (*TSVFormatter)(nil)

// CSVFormatter formats output as comma-separated values with proper quoting.
// It uses encoding/csv for RFC 4180 compliant output.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"IDENTITY", "STATE", "SIZE", "PATH", "URL"}); err != nil {
		return err
	}

	for _, row := range r.Rows {
		record := []string{
			row.Identity,
			row.State,
			strconv.FormatInt(row.Size, 10),
			row.Path,
			row.URL,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func init() {
	Register("csv", func() Formatter {
		return &CSVFormatter{}
	})
}

// Ensure CSVFormatter implements Formatter.
var _ Formatter = (*CSVFormatter)(nil)

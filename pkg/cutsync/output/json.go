package output

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/jamesainslie/cutsync/pkg/cutsync/types"
)

// jsonOutput represents the full JSON output structure.
type jsonOutput struct {
	Command string      `json:"command"`
	Source  string      `json:"source,omitempty"`
	DryRun  bool        `json:"dry_run,omitempty"`
	Counts  *jsonCounts `json:"counts,omitempty"`
	Rows    []jsonRow   `json:"rows"`
	Meta    jsonMeta    `json:"meta"`
}

// jsonCounts represents reconciliation counts in JSON output.
type jsonCounts struct {
	Downloaded int `json:"downloaded"`
	Uploaded   int `json:"uploaded"`
	UpToDate   int `json:"up_to_date"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// jsonRow represents a document in JSON output.
type jsonRow struct {
	Identity  string `json:"identity"`
	State     string `json:"state"`
	Size      int64  `json:"size,omitempty"`
	SizeHuman string `json:"size_human,omitempty"`
	Path      string `json:"path,omitempty"`
	URL       string `json:"url,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// jsonMeta represents run metadata in JSON output.
type jsonMeta struct {
	Tracked   int      `json:"tracked"`
	Published int      `json:"published"`
	TotalSize int64    `json:"total_size"`
	Duration  string   `json:"duration"`
	Warnings  []string `json:"warnings,omitempty"`
}

// JSONFormatter formats output as a single indented JSON object.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(buildJSONOutput(r))
}

// buildJSONOutput converts Result to the JSON output structure.
func buildJSONOutput(r *Result) jsonOutput {
	rows := make([]jsonRow, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = jsonRow{
			Identity: row.Identity,
			State:    row.State,
			Size:     row.Size,
			Path:     row.Path,
			URL:      row.URL,
			Detail:   row.Detail,
		}
		if row.Size > 0 {
			rows[i].SizeHuman = types.FormatSize(row.Size)
		}
	}

	var counts *jsonCounts
	if r.Report != nil {
		counts = &jsonCounts{
			Downloaded: r.Report.Downloaded,
			Uploaded:   r.Report.Uploaded,
			UpToDate:   r.Report.UpToDate,
			Failed:     r.Report.Failed,
			Total:      r.Report.Total(),
		}
	}

	return jsonOutput{
		Command: r.Command,
		Source:  r.Source,
		DryRun:  r.DryRun,
		Counts:  counts,
		Rows:    rows,
		Meta: jsonMeta{
			Tracked:   r.Tracked,
			Published: r.Published,
			TotalSize: r.TotalSize(),
			Duration:  formatDurationString(r.Duration),
			Warnings:  r.Warnings,
		},
	}
}

// formatDurationString formats a duration as a string for encoded output.
func formatDurationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

// Ensure JSONFormatter implements Formatter.
var _ Formatter = (*JSONFormatter)(nil)

// JSONLFormatter formats output as newline-delimited JSON (one object per
// line). Each row is written as a compact JSON object on its own line,
// suitable for streaming processing with tools like jq.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, row := range r.Rows {
		jr := jsonRow{
			Identity: row.Identity,
			State:    row.State,
			Size:     row.Size,
			Path:     row.Path,
			URL:      row.URL,
			Detail:   row.Detail,
		}
		if row.Size > 0 {
			jr.SizeHuman = types.FormatSize(row.Size)
		}

		data, err := json.Marshal(jr)
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("jsonl", func() Formatter {
		return &JSONLFormatter{}
	})
}

// Ensure JSONLFormatter implements Formatter.
var _ Formatter = (*JSONLFormatter)(nil)

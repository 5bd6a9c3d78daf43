package output

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/cutsync/pkg/cutsync/types"
)

// yamlOutput represents the full YAML output structure.
type yamlOutput struct {
	Command string      `yaml:"command"`
	Source  string      `yaml:"source,omitempty"`
	DryRun  bool        `yaml:"dry_run,omitempty"`
	Counts  *yamlCounts `yaml:"counts,omitempty"`
	Rows    []yamlRow   `yaml:"rows"`
	Meta    yamlMeta    `yaml:"meta"`
}

// yamlCounts represents reconciliation counts in YAML output.
type yamlCounts struct {
	Downloaded int `yaml:"downloaded"`
	Uploaded   int `yaml:"uploaded"`
	UpToDate   int `yaml:"up_to_date"`
	Failed     int `yaml:"failed"`
	Total      int `yaml:"total"`
}

// yamlRow represents a document in YAML output.
type yamlRow struct {
	Identity  string `yaml:"identity"`
	State     string `yaml:"state"`
	Size      int64  `yaml:"size,omitempty"`
	SizeHuman string `yaml:"size_human,omitempty"`
	Path      string `yaml:"path,omitempty"`
	URL       string `yaml:"url,omitempty"`
	Detail    string `yaml:"detail,omitempty"`
}

// yamlMeta represents run metadata in YAML output.
type yamlMeta struct {
	Tracked   int      `yaml:"tracked"`
	Published int      `yaml:"published"`
	TotalSize int64    `yaml:"total_size"`
	Duration  string   `yaml:"duration"`
	Warnings  []string `yaml:"warnings,omitempty"`
}

// YAMLFormatter formats output as YAML.
// It produces the same structure as JSONFormatter but in YAML format.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(buildYAMLOutput(r)); err != nil {
		return err
	}
	return encoder.Close()
}

// buildYAMLOutput converts Result to the YAML output structure.
func buildYAMLOutput(r *Result) yamlOutput {
	rows := make([]yamlRow, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = yamlRow{
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

	var counts *yamlCounts
	if r.Report != nil {
		counts = &yamlCounts{
			Downloaded: r.Report.Downloaded,
			Uploaded:   r.Report.Uploaded,
			UpToDate:   r.Report.UpToDate,
			Failed:     r.Report.Failed,
			Total:      r.Report.Total(),
		}
	}

	return yamlOutput{
		Command: r.Command,
		Source:  r.Source,
		DryRun:  r.DryRun,
		Counts:  counts,
		Rows:    rows,
		Meta: yamlMeta{
			Tracked:   r.Tracked,
			Published: r.Published,
			TotalSize: r.TotalSize(),
			Duration:  formatDurationString(r.Duration),
			Warnings:  r.Warnings,
		},
	}
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

// Ensure YAMLFormatter implements Formatter.
var _ Formatter = (*YAMLFormatter)(nil)

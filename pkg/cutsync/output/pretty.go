package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/cutsync/pkg/cutsync/types"
)

// PrettyFormatter formats output with colors and styling using lipgloss.
// It produces a visually appealing output suitable for terminal display.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")

	w.WriteString(f.formatRows(r))

	w.WriteString(f.formatFooter(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}

	return nil
}

// formatHeader builds the header box with run metadata.
func (f *PrettyFormatter) formatHeader(r *Result) string {
	var lines []string

	title := TitleStyle.Render("cutsync " + r.Command)
	if r.DryRun {
		title += "  " + WarningStyle.Render("(dry run)")
	}
	lines = append(lines, title)

	var infoParts []string
	if r.Source != "" {
		infoParts = append(infoParts,
			fmt.Sprintf("%s %s", LabelStyle.Render("Source:"), ValueStyle.Render(r.Source)))
	}
	if r.Duration > 0 {
		infoParts = append(infoParts,
			fmt.Sprintf("%s %s", LabelStyle.Render("Took:"), ValueStyle.Render(formatDuration(r.Duration))))
	}
	if len(infoParts) > 0 {
		lines = append(lines, strings.Join(infoParts, "  "))
	}

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

// formatRows builds the document table with STATE, SIZE, IDENTITY, and
// LOCATION columns.
func (f *PrettyFormatter) formatRows(r *Result) string {
	if len(r.Rows) == 0 {
		return MutedStyle.Render("  No documents\n")
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		TableHeaderStyle.Render(padRight("STATE", stateWidth(r.Rows))),
		TableHeaderStyle.Render(padLeft("SIZE", sizeWidth(r.Rows))),
		TableHeaderStyle.Render(padRight("IDENTITY", identityWidth(r.Rows))),
		TableHeaderStyle.Render("LOCATION")))

	for _, row := range r.Rows {
		state := stateStyle(row.State).Render(padRight(row.State, stateWidth(r.Rows)))
		size := SizeStyle.Render(padLeft(sizeCell(row.Size), sizeWidth(r.Rows)))
		id := ValueStyle.Render(padRight(row.Identity, identityWidth(r.Rows)))
		loc := PathStyle.Render(location(row))

		sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n", state, size, id, loc))
		if row.Detail != "" {
			sb.WriteString(MutedStyle.Render("      " + row.Detail))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// formatFooter builds the footer box with summary counts.
func (f *PrettyFormatter) formatFooter(r *Result) string {
	var parts []string

	if r.Report != nil {
		parts = append(parts,
			fmt.Sprintf("%s %s", LabelStyle.Render("Downloaded:"), countStyle(r.Report.Downloaded, ActionStyle)),
			fmt.Sprintf("%s %s", LabelStyle.Render("Uploaded:"), countStyle(r.Report.Uploaded, ActionStyle)),
			fmt.Sprintf("%s %s", LabelStyle.Render("Up-to-date:"), countStyle(r.Report.UpToDate, SuccessStyle)),
			fmt.Sprintf("%s %s", LabelStyle.Render("Failed:"), countStyle(r.Report.Failed, ErrorStyle)))
	} else {
		parts = append(parts,
			fmt.Sprintf("%s %s", LabelStyle.Render("Tracked:"), ValueStyle.Render(fmt.Sprintf("%d", r.Tracked))),
			fmt.Sprintf("%s %s", LabelStyle.Render("Published:"), ValueStyle.Render(fmt.Sprintf("%d", r.Published))))
	}

	if total := r.TotalSize(); total > 0 {
		parts = append(parts,
			fmt.Sprintf("%s %s", LabelStyle.Render("Total:"), SizeStyle.Render(humanize.IBytes(uint64(total)))))
	}

	return FooterBox.Render(strings.Join(parts, "  "))
}

// countStyle highlights a count only when it is non-zero.
func countStyle(n int, style lipgloss.Style) string {
	s := fmt.Sprintf("%d", n)
	if n == 0 {
		return MutedStyle.Render(s)
	}
	return style.Render(s)
}

// formatWarnings builds a warning block.
func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder

	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}

	return sb.String()
}

// location picks the most useful place to show for a row.
func location(row Row) string {
	switch {
	case row.Path != "" && row.URL != "":
		return row.Path + "  " + MutedStyle.Render("-> "+row.URL)
	case row.Path != "":
		return row.Path
	case row.URL != "":
		return row.URL
	default:
		return ""
	}
}

// sizeCell renders a size column value, with a dash for unknown sizes.
func sizeCell(size int64) string {
	if size <= 0 {
		return "-"
	}
	return types.FormatSize(size)
}

func stateWidth(rows []Row) int {
	width := len("STATE")
	for _, row := range rows {
		if len(row.State) > width {
			width = len(row.State)
		}
	}
	return width
}

func sizeWidth(rows []Row) int {
	width := len("SIZE")
	for _, row := range rows {
		if n := len(sizeCell(row.Size)); n > width {
			width = n
		}
	}
	return width
}

func identityWidth(rows []Row) int {
	width := len("IDENTITY")
	for _, row := range rows {
		if len(row.Identity) > width {
			width = len(row.Identity)
		}
	}
	return width
}

// padLeft pads a string with spaces on the left to achieve the desired width.
func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

// padRight pads a string with spaces on the right to achieve the desired width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)

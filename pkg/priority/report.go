package priority

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ReportPath returns the audit report path for a run at now.
func ReportPath(dir string, now time.Time) string {
	return filepath.Join(dir, "priority-reclassify-"+now.UTC().Format("20060102-150405")+".md")
}

// WriteReport appends a Markdown audit table of ds to the report file for
// now inside dir and returns its path.
func WriteReport(dir string, ds []Decision, now time.Time, applied bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // knowledge dir is user-readable
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := ReportPath(dir, now)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // report is user-readable
	if err != nil {
		return "", fmt.Errorf("open report: %w", err)
	}
	defer f.Close() //nolint:errcheck // write errors are checked below

	if _, err := f.WriteString(RenderReport(ds, now, applied)); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, f.Close()
}

// RenderReport formats the audit table.
func RenderReport(ds []Decision, now time.Time, applied bool) string {
	var b strings.Builder
	mode := "dry-run"
	if applied {
		mode = "apply"
	}
	fmt.Fprintf(&b, "# Priority Reclassification (%s)\n\n", mode)
	fmt.Fprintf(&b, "Generated: %s\n\n", now.UTC().Format("2006-01-02T15:04:05Z"))
	b.WriteString("| Ticket | Title | Current | Proposed | Action | Applied | Reason |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, d := range ds {
		done := "no"
		if d.Applied {
			done = "yes"
		}
		reason := d.Rationale
		if d.Error != "" {
			reason += " (error: " + d.Error + ")"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			cell(d.ID), cell(d.Title), d.Current, d.Proposed, d.Action, done, cell(reason))
	}
	b.WriteString("\n")
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

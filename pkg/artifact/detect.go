package artifact

import (
	"os"
	"path/filepath"

	"ticketflow/pkg/protocol"
)

// Status is the outcome named in a close-summary "## Status" section.
type Status string

// Status constants. StatusUnknown means no recognised status line.
const (
	StatusUnknown  Status = "unknown"
	StatusBlocked  Status = "blocked"
	StatusClosed   Status = "closed"
	StatusComplete Status = "complete"
)

// CloseStatus is the verdict read from close-summary.md.
type CloseStatus struct {
	Success bool
	Status  Status
	Counts  Counts
}

// ReviewVerdict is the verdict read from review.md for a failOn set.
type ReviewVerdict struct {
	Blocked bool
	Counts  Counts
}

// ReadOptional returns the contents of path. Any read failure, including a
// missing file, yields ok=false.
func ReadOptional(path string) (text string, ok bool) {
	data, err := os.ReadFile(path) //nolint:gosec // artifact paths come from the project tree
	if err != nil {
		return "", false
	}
	return string(data), true
}

// DetectCloseStatus inspects <dir>/close-summary.md.
func DetectCloseStatus(dir string) CloseStatus {
	text, ok := ReadOptional(filepath.Join(dir, protocol.CloseSummaryFile))
	if !ok {
		return CloseStatus{Status: StatusUnknown, Counts: NewCounts()}
	}
	switch st := ParseStatus(text); st {
	case StatusBlocked:
		counts, _ := ExtractCounts(text)
		return CloseStatus{Status: StatusBlocked, Counts: counts}
	case StatusClosed, StatusComplete:
		return CloseStatus{Success: true, Status: st, Counts: NewCounts()}
	default:
		return CloseStatus{Status: StatusUnknown, Counts: NewCounts()}
	}
}

// DetectBlockedFromReview inspects <dir>/review.md. Summary Statistics counts
// are preferred; a severity without one counts 1 when its section holds any
// list item.
func DetectBlockedFromReview(dir string, failOn []Severity) ReviewVerdict {
	counts := NewCounts()
	text, ok := ReadOptional(filepath.Join(dir, protocol.ReviewFile))
	if !ok {
		return ReviewVerdict{Counts: counts}
	}

	var summary Counts
	var found map[Severity]bool
	if body, ok := SummaryStatistics(text); ok {
		summary, found = ExtractCounts(body)
	}

	for _, s := range failOn {
		if found[s] {
			counts[s] = summary[s]
			continue
		}
		for _, body := range SeveritySections(text, s) {
			if CountBullets(body) > 0 {
				counts[s] = 1
				break
			}
		}
	}
	return ReviewVerdict{Blocked: counts.Any(failOn), Counts: counts}
}

// Package qualitygate combines the artifact parsers into gate verdicts and
// post-fix arithmetic. It reports counts and booleans; callers decide what
// to do with them.
package qualitygate

import (
	"path/filepath"
	"regexp"

	"ticketflow/pkg/artifact"
	"ticketflow/pkg/protocol"
)

// DefaultFailOn is the failOn set used when settings.json names none.
func DefaultFailOn() []artifact.Severity {
	return []artifact.Severity{artifact.Critical, artifact.Major}
}

// Source names the artifact a verdict was read from.
type Source string

// Source constants.
const (
	SourceNone         Source = ""
	SourceCloseSummary Source = "close-summary"
	SourceReview       Source = "review"
	SourcePostFix      Source = "post-fix-verification"
)

var noFixesRe = regexp.MustCompile(`(?i)\bno fixes (?:were )?needed\b|\bfixer is disabled\b`)

// ParseReviewCounts reads the issue counts from a review.md. Summary
// Statistics are preferred; a severity missing from them is counted by the
// list items in its section.
func ParseReviewCounts(path string) artifact.Counts {
	text, ok := artifact.ReadOptional(path)
	if !ok {
		return artifact.NewCounts()
	}
	return reviewCounts(text)
}

func reviewCounts(text string) artifact.Counts {
	counts := artifact.NewCounts()
	var found map[artifact.Severity]bool
	if body, ok := artifact.SummaryStatistics(text); ok {
		var summary artifact.Counts
		summary, found = artifact.ExtractCounts(body)
		for s, n := range summary {
			counts[s] = n
		}
	}
	for _, s := range artifact.AllSeverities {
		if found[s] {
			continue
		}
		for _, body := range artifact.SeveritySections(text, s) {
			counts[s] += artifact.CountBullets(body)
		}
	}
	return counts
}

// FixesResult is what ParseFixesCounts extracted from fixes.md.
type FixesResult struct {
	Counts   artifact.Counts
	Found    bool
	Warnings []string
}

// ParseFixesCounts reads the fixed-issue counts from a fixes.md. Found is
// false when the file is missing. An explicit "No fixes needed" or "Fixer is
// disabled" marker yields zero counts with no warning; a file that yields no
// counts and has no severity sections produces a warning.
func ParseFixesCounts(path string) FixesResult {
	text, ok := artifact.ReadOptional(path)
	if !ok {
		return FixesResult{Counts: artifact.NewCounts()}
	}
	res := FixesResult{Counts: artifact.NewCounts(), Found: true}

	if body, ok := artifact.SummaryStatistics(text); ok {
		counts, found := artifact.ExtractCounts(body)
		if len(found) > 0 {
			res.Counts = counts
			return res
		}
	}

	counts, sections := artifact.CompoundFixedCounts(text)
	if sections {
		res.Counts = counts
		return res
	}
	if !noFixesRe.MatchString(text) {
		res.Warnings = append(res.Warnings,
			"fixes.md is present but no fix counts could be extracted (no Summary Statistics or severity sections)")
	}
	return res
}

// Evaluate reports whether counts pass the gate: no severity in failOn has a
// non-zero count.
func Evaluate(counts artifact.Counts, failOn []artifact.Severity) bool {
	return !counts.Any(failOn)
}

// GetQualityGateCounts returns the counts the gate should judge. The
// calculated section of post-fix-verification.md wins when it parses;
// otherwise review.md is used. Pass the result to Evaluate with failOn.
func GetQualityGateCounts(dir string) (artifact.Counts, Source) {
	if text, ok := artifact.ReadOptional(filepath.Join(dir, protocol.PostFixVerification)); ok {
		if body, ok := artifact.Section(text, postFixSection); ok {
			counts, found := artifact.ExtractCounts(body)
			if len(found) > 0 {
				return counts, SourcePostFix
			}
		}
	}
	if text, ok := artifact.ReadOptional(filepath.Join(dir, protocol.ReviewFile)); ok {
		return reviewCounts(text), SourceReview
	}
	return artifact.NewCounts(), SourceNone
}

// Result is the unified gate verdict.
type Result struct {
	Source  Source
	Blocked bool
	Counts  artifact.Counts
}

// DetectQualityGateBlocked prefers a close-summary.md that names a status
// and falls back to review.md judged against failOn.
func DetectQualityGateBlocked(dir string, failOn []artifact.Severity) Result {
	cs := artifact.DetectCloseStatus(dir)
	if cs.Status != artifact.StatusUnknown {
		return Result{
			Source:  SourceCloseSummary,
			Blocked: cs.Status == artifact.StatusBlocked,
			Counts:  cs.Counts,
		}
	}
	if _, ok := artifact.ReadOptional(filepath.Join(dir, protocol.ReviewFile)); !ok {
		return Result{Source: SourceNone, Counts: artifact.NewCounts()}
	}
	v := artifact.DetectBlockedFromReview(dir, failOn)
	return Result{Source: SourceReview, Blocked: v.Blocked, Counts: v.Counts}
}

// Package artifact extracts quality-gate signals from the free-form Markdown
// artifacts the Agent Runtime writes into a ticket's artifact directory.
//
// Parsing is line-oriented and tolerant: missing files and unrecognised
// layouts yield "no signal" rather than errors.
package artifact

import (
	"fmt"
	"strings"
)

// Severity is one of the five review severities.
type Severity string

// Severity constants, in canonical order.
const (
	Critical    Severity = "Critical"
	Major       Severity = "Major"
	Minor       Severity = "Minor"
	Warnings    Severity = "Warnings"
	Suggestions Severity = "Suggestions"
)

// AllSeverities lists every severity in canonical order.
var AllSeverities = []Severity{Critical, Major, Minor, Warnings, Suggestions} //nolint:gochecknoglobals // static table

// ParseSeverity maps a severity name to its canonical form. Matching is
// case-insensitive and accepts the singular "Warning" and "Suggestion".
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return Critical, true
	case "major":
		return Major, true
	case "minor":
		return Minor, true
	case "warning", "warnings":
		return Warnings, true
	case "suggestion", "suggestions":
		return Suggestions, true
	default:
		return "", false
	}
}

// CanonicalSeverities canonicalises a configured failOn list, dropping
// duplicates. Unknown names are returned as an error listing all of them.
func CanonicalSeverities(names []string) ([]Severity, error) {
	out := make([]Severity, 0, len(names))
	seen := make(map[Severity]bool, len(names))
	var bad []string
	for _, n := range names {
		sev, ok := ParseSeverity(n)
		if !ok {
			bad = append(bad, n)
			continue
		}
		if !seen[sev] {
			seen[sev] = true
			out = append(out, sev)
		}
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("unknown severity name(s): %s", strings.Join(bad, ", "))
	}
	return out, nil
}

// labelPattern is the regexp fragment matching the severity label in text.
func (s Severity) labelPattern() string {
	switch s {
	case Warnings:
		return "warnings?"
	case Suggestions:
		return "suggestions?"
	default:
		return strings.ToLower(string(s))
	}
}

// Counts maps each severity to an issue count. Missing keys read as zero.
type Counts map[Severity]int

// NewCounts returns Counts with every severity present and zero.
func NewCounts() Counts {
	c := make(Counts, len(AllSeverities))
	for _, s := range AllSeverities {
		c[s] = 0
	}
	return c
}

// Get returns the count for s, zero when absent.
func (c Counts) Get(s Severity) int {
	return c[s]
}

// Total sums all severities.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Any reports whether any severity in failOn has a non-zero count.
func (c Counts) Any(failOn []Severity) bool {
	for _, s := range failOn {
		if c[s] > 0 {
			return true
		}
	}
	return false
}

// Clone returns an independent copy with every severity present.
func (c Counts) Clone() Counts {
	out := NewCounts()
	for k, v := range c {
		out[k] = v
	}
	return out
}

// String renders the counts in canonical order, e.g. "Critical=2 Major=0 ...".
func (c Counts) String() string {
	parts := make([]string, 0, len(AllSeverities))
	for _, s := range AllSeverities {
		parts = append(parts, fmt.Sprintf("%s=%d", s, c[s]))
	}
	return strings.Join(parts, " ")
}

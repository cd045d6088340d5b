// Package priority classifies tickets into P0..P4 with a static rubric and
// rewrites ticket files when a reclassification is applied.
package priority

import (
	"fmt"
	"strconv"
	"strings"
)

// Priority is a ticket priority bucket. The zero value is Unknown.
type Priority int

// Priority constants, most urgent first.
const (
	Unknown Priority = iota
	P0
	P1
	P2
	P3
	P4
)

// Buckets lists P0..P4 in precedence order.
var Buckets = []Priority{P0, P1, P2, P3, P4} //nolint:gochecknoglobals // static table

// Level returns the numeric level (0 for P0), or -1 for Unknown.
func (p Priority) Level() int {
	if p < P0 || p > P4 {
		return -1
	}
	return int(p - P0)
}

func (p Priority) String() string {
	if p.Level() < 0 {
		return "unknown"
	}
	return fmt.Sprintf("P%d", p.Level())
}

// MarshalText renders p as "P0".."P4" or "unknown".
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePriority accepts "P2", "p2", and "2".
func ParsePriority(s string) (Priority, bool) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
	s = strings.TrimPrefix(strings.TrimPrefix(s, "P"), "p")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 4 {
		return Unknown, false
	}
	return P0 + Priority(n), true
}

// isNumericStyle reports whether a stored priority value is a bare digit.
func isNumericStyle(raw string) bool {
	raw = strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"'`))
	_, err := strconv.Atoi(raw)
	return err == nil
}

// formatLike renders p in the style of the existing stored value.
func formatLike(p Priority, existing string) string {
	if isNumericStyle(existing) {
		return strconv.Itoa(p.Level())
	}
	return p.String()
}

package qualitygate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"ticketflow/pkg/artifact"
	"ticketflow/pkg/protocol"
)

const postFixSection = "Post-Fix Counts (calculated)"

// PostFixVerification is the outcome of comparing review.md against fixes.md.
type PostFixVerification struct {
	FailOn     []artifact.Severity
	Pre        artifact.Counts
	Fixed      artifact.Counts
	Post       artifact.Counts
	FixesFound bool
	Passed     bool
	Warnings   []string
	Path       string
}

//nolint:gochecknoglobals // replaced in tests
var nowFunc = time.Now

// VerifyPostFixState computes post = max(0, pre - fixed) for every severity,
// passes when every failOn severity is zero afterwards, and writes the
// result to post-fix-verification.md in dir. Over-fix warnings are advisory
// and never change Passed.
func VerifyPostFixState(dir string, failOn []artifact.Severity) (*PostFixVerification, error) {
	pre := ParseReviewCounts(filepath.Join(dir, protocol.ReviewFile))
	fixes := ParseFixesCounts(filepath.Join(dir, protocol.FixesFile))

	v := &PostFixVerification{
		FailOn:     append([]artifact.Severity(nil), failOn...),
		Pre:        pre,
		Fixed:      fixes.Counts,
		Post:       artifact.NewCounts(),
		FixesFound: fixes.Found,
		Warnings:   append([]string(nil), fixes.Warnings...),
		Path:       filepath.Join(dir, protocol.PostFixVerification),
	}
	for _, s := range artifact.AllSeverities {
		p, f := pre.Get(s), fixes.Counts.Get(s)
		v.Post[s] = max(0, p-f)
		if f > p {
			v.Warnings = append(v.Warnings, fmt.Sprintf("More %s fixes (%d) reported than issues found (%d)", s, f, p))
		}
	}
	v.Passed = Evaluate(v.Post, failOn)

	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // artifact dirs are shared with the agent runtime
		return v, fmt.Errorf("create artifact dir: %w", err)
	}
	if err := atomic.WriteFile(v.Path, strings.NewReader(v.Render(nowFunc()))); err != nil {
		return v, fmt.Errorf("write %s: %w", protocol.PostFixVerification, err)
	}
	return v, nil
}

// Render formats v as the post-fix-verification.md document.
func (v *PostFixVerification) Render(now time.Time) string {
	var b bytes.Buffer
	b.WriteString("# Post-Fix Verification\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", now.UTC().Format("2006-01-02T15:04:05Z"))

	writeCounts := func(title string, c artifact.Counts) {
		fmt.Fprintf(&b, "## %s\n", title)
		for _, s := range artifact.AllSeverities {
			fmt.Fprintf(&b, "**%s**: %d\n", s, c.Get(s))
		}
		b.WriteString("\n")
	}
	writeCounts("Pre-Fix Counts (from review.md)", v.Pre)
	if v.FixesFound {
		writeCounts("Fixes Applied (from fixes.md)", v.Fixed)
	} else {
		b.WriteString("## Fixes Applied (from fixes.md)\nfixes.md not found\n\n")
	}
	writeCounts(postFixSection, v.Post)

	b.WriteString("## Quality Gate\n")
	names := make([]string, 0, len(v.FailOn))
	for _, s := range v.FailOn {
		names = append(names, string(s))
	}
	if len(names) == 0 {
		names = append(names, "(none)")
	}
	fmt.Fprintf(&b, "- Fail on: %s\n", strings.Join(names, ", "))
	if v.Passed {
		b.WriteString("- Result: PASSED\n")
	} else {
		b.WriteString("- Result: FAILED\n")
	}

	if len(v.Warnings) > 0 {
		b.WriteString("\n## Warnings\n")
		for _, w := range v.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

package artifact

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Heading is one Markdown ATX heading together with the body that follows it
// up to the next heading of the same or higher level.
type Heading struct {
	Level int
	Title string
	Body  string
}

var (
	headingRe    = regexp.MustCompile(`^[ \t]{0,3}(#{1,6})[ \t]+(.*?)[ \t]*#*[ \t]*$`)
	bulletRe     = regexp.MustCompile(`^ ?[-*+][ \t]+\S`)
	statusWordRe = regexp.MustCompile(`(?i)^(BLOCKED|CLOSED|COMPLETE)\b`)
	fixedNRe     = regexp.MustCompile(`(?i)\b(?:fixed|resolved)\s+(\d+)\s+\S`)

	countRes = func() map[Severity]*regexp.Regexp {
		m := make(map[Severity]*regexp.Regexp, len(AllSeverities))
		for _, s := range AllSeverities {
			m[s] = regexp.MustCompile(`(?im)^[ \t]*(?:[-*+|][ \t]*)?(?:\*\*|__)?[ \t]*(?:` +
				s.labelPattern() +
				`)\b[^\n\d]*?(\d+)`)
		}
		return m
	}()

	sectionRes = func() map[Severity]*regexp.Regexp {
		m := make(map[Severity]*regexp.Regexp, len(AllSeverities))
		for _, s := range AllSeverities {
			m[s] = regexp.MustCompile(`(?i)^` + s.labelPattern() + `\b`)
		}
		return m
	}()
)

// Headings splits text into its headings. Lines inside fenced code blocks
// are never treated as headings.
func Headings(text string) []Heading {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	type mark struct {
		line  int
		level int
		title string
	}
	var marks []mark
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			marks = append(marks, mark{line: i, level: len(m[1]), title: cleanTitle(m[2])})
		}
	}

	out := make([]Heading, 0, len(marks))
	for i, mk := range marks {
		end := len(lines)
		for _, next := range marks[i+1:] {
			if next.level <= mk.level {
				end = next.line
				break
			}
		}
		out = append(out, Heading{
			Level: mk.level,
			Title: mk.title,
			Body:  strings.Join(lines[mk.line+1:end], "\n"),
		})
	}
	return out
}

// cleanTitle strips emphasis markers, a trailing colon, and leading
// decoration such as emoji from a heading title.
func cleanTitle(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, ":"))
}

// Section returns the body of the first heading whose title starts with
// heading, compared case-insensitively.
func Section(text, heading string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(heading))
	for _, h := range Headings(text) {
		if strings.HasPrefix(strings.ToLower(h.Title), want) {
			return h.Body, true
		}
	}
	return "", false
}

// SummaryStatistics returns the body of the "Summary Statistics" section,
// or of a plain "Statistics" section when the former is absent.
func SummaryStatistics(text string) (string, bool) {
	if body, ok := Section(text, "Summary Statistics"); ok {
		return body, true
	}
	return Section(text, "Statistics")
}

// SeveritySections returns the bodies of every heading that names sev,
// e.g. "## Critical", "### Critical Fixed", "## Warnings (2)".
func SeveritySections(text string, sev Severity) []string {
	re := sectionRes[sev]
	var out []string
	for _, h := range Headings(text) {
		if re.MatchString(h.Title) {
			out = append(out, h.Body)
		}
	}
	return out
}

// ParseStatus finds the first "## Status" heading whose next non-blank line
// names BLOCKED, CLOSED, or COMPLETE. Bold markers and a leading list marker
// are allowed around the word.
func ParseStatus(text string) Status {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m == nil || len(m[1]) != 2 || !strings.EqualFold(cleanTitle(m[2]), "status") {
			continue
		}
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" {
				continue
			}
			if st, ok := statusWord(next); ok {
				return st
			}
			break
		}
	}
	return StatusUnknown
}

func statusWord(line string) (Status, bool) {
	s := strings.TrimSpace(line)
	for _, marker := range []string{"- ", "* ", "+ "} {
		if strings.HasPrefix(s, marker) {
			s = strings.TrimSpace(s[len(marker):])
			break
		}
	}
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	m := statusWordRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return StatusUnknown, false
	}
	switch strings.ToUpper(m[1]) {
	case "BLOCKED":
		return StatusBlocked, true
	case "CLOSED":
		return StatusClosed, true
	default:
		return StatusComplete, true
	}
}

// ExtractCount returns the first integer following the sev label on the same
// line, e.g. "- Critical: 2", "**Major**: 1", "- Critical issues: 2" or
// "| Critical | 3 |". The label must open the line, after an optional list
// marker, table pipe or bold marker.
func ExtractCount(text string, sev Severity) (int, bool) {
	re, ok := countRes[sev]
	if !ok {
		return 0, false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExtractCounts runs ExtractCount for every severity. found records which
// severities had an explicit count.
func ExtractCounts(text string) (Counts, map[Severity]bool) {
	counts := NewCounts()
	found := make(map[Severity]bool, len(AllSeverities))
	for _, s := range AllSeverities {
		if n, ok := ExtractCount(text, s); ok {
			counts[s] = n
			found[s] = true
		}
	}
	return counts, found
}

// Bullets returns the top-level list items in body.
func Bullets(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if bulletRe.MatchString(line) {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return out
}

// CountBullets counts the top-level list items in body.
func CountBullets(body string) int {
	return len(Bullets(body))
}

// CompoundFixedCounts tallies bullets in each severity's sections. A bullet
// reading "Fixed N ..." or "Resolved N ..." contributes N; any other bullet
// contributes 1. sections reports whether any severity section was present.
func CompoundFixedCounts(text string) (counts Counts, sections bool) {
	counts = NewCounts()
	for _, s := range AllSeverities {
		for _, body := range SeveritySections(text, s) {
			sections = true
			for _, b := range Bullets(body) {
				if m := fixedNRe.FindStringSubmatch(b); m != nil {
					if n, err := strconv.Atoi(m[1]); err == nil {
						counts[s] += n
						continue
					}
				}
				counts[s]++
			}
		}
	}
	return counts, sections
}

// Package frontmatter edits the YAML frontmatter of Markdown files as text,
// so that everything it does not touch survives byte-for-byte.
package frontmatter

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Document is a Markdown file split around its frontmatter block.
type Document struct {
	// Prefix holds blank lines before the opening delimiter.
	Prefix string
	// Frontmatter is the text between the delimiters, without them.
	Frontmatter string
	// Body is everything after the closing delimiter line.
	Body string
	// HasFrontmatter is false when the content has no frontmatter block;
	// Body then holds the whole input.
	HasFrontmatter bool

	// Fields maps top-level keys to their scalar text (quotes removed).
	Fields map[string]string
	// Values is the frontmatter decoded as YAML, nil when it does not parse.
	Values map[string]any

	openLine  string
	closeLine string
}

// Field is a key/value pair to write into frontmatter. Value is written
// verbatim.
type Field struct {
	Key   string
	Value string
}

var fieldLineRe = regexp.MustCompile(`^([A-Za-z0-9_][A-Za-z0-9_.-]*):[ \t]*(.*?)[ \t]*\r?\n?$`)

// Parse splits content. Frontmatter starts when the first non-blank line is
// exactly "---" and ends at the next "---" line; otherwise the document has
// no frontmatter.
func Parse(content string) *Document {
	d := &Document{Body: content, Fields: map[string]string{}}
	lines := strings.SplitAfter(content, "\n")

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) || trimEOL(lines[i]) != delimiter {
		return d
	}
	open := i
	end := -1
	for j := open + 1; j < len(lines); j++ {
		if trimEOL(lines[j]) == delimiter {
			end = j
			break
		}
	}
	if end < 0 {
		return d
	}

	d.HasFrontmatter = true
	d.Prefix = strings.Join(lines[:open], "")
	d.openLine = lines[open]
	d.Frontmatter = strings.Join(lines[open+1:end], "")
	d.closeLine = lines[end]
	d.Body = strings.Join(lines[end+1:], "")
	d.reparse()
	return d
}

func trimEOL(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func (d *Document) reparse() {
	d.Fields = ParseFields(d.Frontmatter)
	d.Values = nil
	var v map[string]any
	if err := yaml.Unmarshal([]byte(d.Frontmatter), &v); err == nil {
		d.Values = v
	}
}

// ParseFields extracts top-level "key: value" pairs line by line.
func ParseFields(frontmatter string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.SplitAfter(frontmatter, "\n") {
		m := fieldLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if _, dup := out[m[1]]; !dup {
			out[m[1]] = unquote(m[2])
		}
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Render reassembles the document. An unmodified Document renders to its
// original input exactly.
func (d *Document) Render() string {
	if !d.HasFrontmatter {
		return d.Body
	}
	return d.Prefix + d.openLine + d.Frontmatter + d.closeLine + d.Body
}

// Set updates fields in place, creating a frontmatter block if needed. It
// reports whether anything changed.
func (d *Document) Set(fields ...Field) bool {
	if !d.HasFrontmatter {
		d.HasFrontmatter = true
		d.openLine = delimiter + "\n"
		d.closeLine = delimiter + "\n"
	}
	fm, changed := UpdateFields(d.Frontmatter, fields, nil)
	if changed {
		d.Frontmatter = fm
		d.reparse()
	}
	return changed
}

// Get returns the scalar text of a top-level field.
func (d *Document) Get(key string) (string, bool) {
	v, ok := d.Fields[key]
	return v, ok
}

// UpdateFields rewrites fields in frontmatter. An existing line for a key is
// replaced in place keeping its leading whitespace; a missing key is
// appended at the end. A line whose value already equals the target is left
// untouched. When predicate is non-nil and returns false, frontmatter is
// returned unchanged.
func UpdateFields(frontmatter string, fields []Field, predicate func(string) bool) (string, bool) {
	if predicate != nil && !predicate(frontmatter) {
		return frontmatter, false
	}
	lines := strings.SplitAfter(frontmatter, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	changed := false
	for _, f := range fields {
		idx, indent, current := findField(lines, f.Key)
		if idx < 0 {
			if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
				lines[n-1] += "\n"
			}
			lines = append(lines, f.Key+": "+f.Value+"\n")
			changed = true
			continue
		}
		if unquote(current) == unquote(f.Value) {
			continue
		}
		eol := lines[idx][len(trimEOL(lines[idx])):]
		lines[idx] = indent + f.Key + ": " + f.Value + eol
		changed = true
	}
	return strings.Join(lines, ""), changed
}

// findField locates key, preferring an unindented line over an indented one.
func findField(lines []string, key string) (idx int, indent, value string) {
	re := regexp.MustCompile(`^([ \t]*)` + regexp.QuoteMeta(key) + `:[ \t]*(.*?)[ \t]*$`)
	idx = -1
	for i, line := range lines {
		m := re.FindStringSubmatch(trimEOL(line))
		if m == nil {
			continue
		}
		if m[1] == "" {
			return i, "", m[2]
		}
		if idx < 0 {
			idx, indent, value = i, m[1], m[2]
		}
	}
	return idx, indent, value
}

// Package assets installs and updates the workflow assets (agents, prompts,
// skills, scripts, config) listed in an install manifest.
package assets

import (
	"path"
	"path/filepath"
	"strings"
)

// Entry is a classified manifest line.
type Entry struct {
	// Path is the repository-relative manifest path.
	Path string
	// Dest is the destination relative to the project root.
	Dest string
	// Executable marks .py and .sh scripts.
	Executable bool
}

// DestPath joins Dest onto root.
func (e Entry) DestPath(root string) string {
	return filepath.Join(root, filepath.FromSlash(e.Dest))
}

// ParseManifest returns the non-empty, non-comment lines of a manifest,
// trimmed, in order.
func ParseManifest(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Classify routes a manifest entry to its destination. ok is false for
// entries that are never installed (the tf binary, the manifest itself)
// and for paths outside the routing table.
func Classify(entry string) (Entry, bool) {
	entry = strings.TrimPrefix(path.Clean(filepath.ToSlash(entry)), "./")
	if entry == "." || strings.HasPrefix(entry, "../") || path.IsAbs(entry) {
		return Entry{}, false
	}

	switch {
	case entry == "bin/tf", entry == "config/install-manifest.txt":
		return Entry{}, false
	case strings.HasPrefix(entry, "agents/"),
		strings.HasPrefix(entry, "prompts/"),
		strings.HasPrefix(entry, "skills/"):
		return Entry{Path: entry, Dest: entry}, true
	case entry == "config/settings.json":
		return Entry{Path: entry, Dest: ".tf/config/settings.json"}, true
	case strings.HasPrefix(entry, "config/workflows/"):
		return Entry{Path: entry, Dest: ".tf/" + entry}, true
	case strings.HasPrefix(entry, "scripts/"):
		ext := path.Ext(entry)
		return Entry{
			Path:       entry,
			Dest:       ".tf/" + entry,
			Executable: ext == ".py" || ext == ".sh",
		}, true
	}
	return Entry{}, false
}

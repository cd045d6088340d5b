package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/semver"
)

// VersionFile is the plain-text version file kept in sync by doctor --fix.
const VersionFile = "VERSION"

// VersionSource is a version declared by one package manifest.
type VersionSource struct {
	File    string
	Version string
}

type manifestReader struct {
	file string
	read func(data []byte) (string, error)
}

// manifestOrder is the canonical lookup order; the first manifest that
// declares a version wins.
var manifestOrder = []manifestReader{ //nolint:gochecknoglobals // static table
	{"pyproject.toml", func(data []byte) (string, error) {
		return tomlVersion(data, []string{"project", "version"}, []string{"tool", "poetry", "version"})
	}},
	{"Cargo.toml", func(data []byte) (string, error) {
		return tomlVersion(data, []string{"package", "version"}, []string{"workspace", "package", "version"})
	}},
	{"package.json", func(data []byte) (string, error) {
		var pkg struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(data, &pkg); err != nil {
			return "", err
		}
		return pkg.Version, nil
	}},
}

func tomlVersion(data []byte, paths ...[]string) (string, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return "", err
	}
	for _, p := range paths {
		if v, ok := lookup(doc, p); ok {
			return v, nil
		}
	}
	return "", nil
}

func lookup(doc map[string]any, path []string) (string, bool) {
	var cur any = doc
	for _, k := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur = m[k]
	}
	s, ok := cur.(string)
	return s, ok && s != ""
}

// NormalizeVersion trims whitespace and a leading v or V.
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 0 && (v[0] == 'v' || v[0] == 'V') {
		v = v[1:]
	}
	return v
}

// SameVersion compares two normalised versions, using semver ordering when
// both parse and exact string equality otherwise.
func SameVersion(a, b string) bool {
	a, b = NormalizeVersion(a), NormalizeVersion(b)
	if semver.IsValid("v"+a) && semver.IsValid("v"+b) {
		return semver.Compare("v"+a, "v"+b) == 0
	}
	return a == b
}

// DetectVersions reads every manifest present under root, in canonical
// order. Unparseable manifests are reported in errs and skipped.
func DetectVersions(root string) (found []VersionSource, errs []error) {
	for _, m := range manifestOrder {
		data, err := os.ReadFile(filepath.Join(root, m.file)) //nolint:gosec // fixed file names under project root
		if err != nil {
			continue
		}
		v, err := m.read(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", m.file, err))
			continue
		}
		if v == "" {
			continue
		}
		found = append(found, VersionSource{File: m.file, Version: NormalizeVersion(v)})
	}
	return found, errs
}

// Package version provides build-time version information.
package version

import (
	"runtime/debug"
	"strings"
)

// version is set at build time via -ldflags.
var version = "" //nolint:gochecknoglobals // ldflags requires package-level var

// fallback is reported by development builds with no version stamped.
const fallback = "0.0.0-dev"

// String returns the semver of this build without a leading "v": the
// ldflags value, else the main module version from go install, else
// 0.0.0-dev.
func String() string {
	v := version
	if v == "" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			v = bi.Main.Version
		}
	}
	v = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(v), "v"), "V")
	if v == "" {
		return fallback
	}
	return v
}

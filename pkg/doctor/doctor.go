// Package doctor checks that a project is ready for tf: required tools on
// PATH, agent extensions configured, and one canonical version across the
// package manifests, git tags and the VERSION file.
package doctor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"ticketflow/pkg/bridge"
	"ticketflow/pkg/protocol"
)

// Level grades a single check.
type Level int

// Check levels. Only LevelFail makes the report critical.
const (
	LevelOK Level = iota
	LevelWarn
	LevelFail
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelWarn:
		return "warn"
	case LevelFail:
		return "fail"
	}
	return "unknown"
}

// Check is one line of the doctor report.
type Check struct {
	Name   string
	Level  Level
	Detail string
}

// Report collects checks in the order they ran.
type Report struct {
	Checks []Check
}

func (r *Report) add(name string, level Level, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, Level: level, Detail: fmt.Sprintf(format, args...)})
}

// Critical reports whether any check failed.
func (r *Report) Critical() bool {
	for _, c := range r.Checks {
		if c.Level == LevelFail {
			return true
		}
	}
	return false
}

// Count returns the number of checks at level.
func (r *Report) Count(level Level) int {
	n := 0
	for _, c := range r.Checks {
		if c.Level == level {
			n++
		}
	}
	return n
}

// RequiredTools must be on PATH; a missing one fails the report.
var RequiredTools = []string{protocol.AgentRuntimeBin, protocol.TicketBin} //nolint:gochecknoglobals // static table

// OptionalTools only warn when missing.
var OptionalTools = []string{"git"} //nolint:gochecknoglobals // static table

// Options configures a doctor run.
type Options struct {
	ProjectRoot string
	// Home locates ~/.pi/agent; empty skips the extension check.
	Home string
	// Fix writes VERSION when it disagrees with the canonical version.
	Fix bool
	// DryRun reports what Fix would write without writing.
	DryRun bool

	LookPath bridge.LookPathFunc
	Runner   bridge.CommandRunner
}

// Run performs every check and returns the report. Errors are recorded as
// checks, never returned.
func Run(ctx context.Context, opts Options) *Report {
	r := &Report{}
	checkTools(r, opts.LookPath)
	if opts.Home != "" {
		checkExtensions(r, opts.Home)
	}
	checkVersions(ctx, r, opts)
	return r
}

func checkTools(r *Report, look bridge.LookPathFunc) {
	for _, tool := range RequiredTools {
		if err := bridge.RequireTools(look, tool); err != nil {
			r.add(tool, LevelFail, "not found on PATH")
			continue
		}
		r.add(tool, LevelOK, "found")
	}
	for _, tool := range OptionalTools {
		if err := bridge.RequireTools(look, tool); err != nil {
			r.add(tool, LevelWarn, "not found on PATH")
			continue
		}
		r.add(tool, LevelOK, "found")
	}
}

func checkExtensions(r *Report, home string) {
	path := filepath.Join(home, ".pi", "agent", "mcp.json")
	if _, err := os.Stat(path); err != nil {
		r.add("mcp", LevelWarn, "%s missing; run 'tf login' to configure MCP servers", path)
		return
	}
	r.add("mcp", LevelOK, "%s", path)
}

func checkVersions(ctx context.Context, r *Report, opts Options) {
	found, errs := DetectVersions(opts.ProjectRoot)
	for _, err := range errs {
		r.add("version", LevelWarn, "%v", err)
	}
	if len(found) == 0 {
		r.add("version", LevelWarn, "no pyproject.toml, Cargo.toml or package.json version found")
		return
	}

	canonical := found[0]
	r.add("version", LevelOK, "%s (from %s)", canonical.Version, canonical.File)
	for _, other := range found[1:] {
		if !SameVersion(other.Version, canonical.Version) {
			r.add("version", LevelWarn, "%s declares %s but %s declares %s; using %s",
				other.File, other.Version, canonical.File, canonical.Version, canonical.File)
		}
	}

	checkGitTag(ctx, r, opts, canonical)
	checkVersionFile(r, opts, canonical)
}

func checkGitTag(ctx context.Context, r *Report, opts Options, canonical VersionSource) {
	if opts.Runner == nil {
		return
	}
	out, err := opts.Runner.Run(ctx, "git", "-C", opts.ProjectRoot, "describe", "--tags", "--abbrev=0")
	if err != nil {
		r.add("git tag", LevelWarn, "no tag found")
		return
	}
	tag := strings.TrimSpace(string(out))
	if !SameVersion(tag, canonical.Version) {
		r.add("git tag", LevelWarn, "latest tag %s does not match %s", tag, canonical.Version)
		return
	}
	r.add("git tag", LevelOK, "%s", tag)
}

func checkVersionFile(r *Report, opts Options, canonical VersionSource) {
	path := filepath.Join(opts.ProjectRoot, VersionFile)
	data, err := os.ReadFile(path) //nolint:gosec // fixed file name under project root
	current := NormalizeVersion(string(data))
	if err == nil && SameVersion(current, canonical.Version) {
		r.add(VersionFile, LevelOK, "%s", current)
		return
	}

	problem := "missing"
	if err == nil {
		problem = fmt.Sprintf("has %s", current)
	}
	switch {
	case opts.Fix && opts.DryRun:
		r.add(VersionFile, LevelWarn, "%s; would write %s", problem, canonical.Version)
	case opts.Fix:
		if werr := atomic.WriteFile(path, bytes.NewReader([]byte(canonical.Version+"\n"))); werr != nil {
			r.add(VersionFile, LevelFail, "write: %v", werr)
			return
		}
		r.add(VersionFile, LevelOK, "synced to %s", canonical.Version)
	default:
		// VERSION is optional until --fix creates it.
		if err != nil {
			return
		}
		r.add(VersionFile, LevelWarn, "%s, expected %s (run with --fix)", problem, canonical.Version)
	}
}

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"ticketflow/pkg/protocol"
)

// Invocation describes one Agent Runtime run for a ticket.
type Invocation struct {
	Workflow    string
	Ticket      string
	Flags       string
	CaptureJSON bool
	// LogPath receives stdout when CaptureJSON is set.
	LogPath string
	// Env is appended to the inherited environment.
	Env []string
}

// Prompt returns "<workflow> <ticket> <flags>" with empty parts omitted.
func (inv Invocation) Prompt() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{inv.Workflow, inv.Ticket, inv.Flags} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// AgentRuntime runs the pi subprocess.
type AgentRuntime struct {
	// Bin defaults to pi.
	Bin string
	// Dir is the working directory, normally the project root.
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
	// KillOnCancel sends SIGTERM when ctx is cancelled. By default a running
	// runtime is allowed to finish.
	KillOnCancel bool
}

func (r *AgentRuntime) bin() string {
	if r.Bin == "" {
		return protocol.AgentRuntimeBin
	}
	return r.Bin
}

// Command returns the argv for inv.
func (r *AgentRuntime) Command(inv Invocation) []string {
	argv := []string{r.bin(), "-c", inv.Prompt()}
	if inv.CaptureJSON {
		argv = append(argv, "--mode", "json")
	}
	return argv
}

// CommandString renders the argv as a copy-pasteable shell command.
func (r *AgentRuntime) CommandString(inv Invocation) string {
	argv := r.Command(inv)
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = ShellQuote(a)
	}
	s := strings.Join(quoted, " ")
	if inv.CaptureJSON && inv.LogPath != "" {
		s += " > " + ShellQuote(inv.LogPath)
	}
	return s
}

// Run executes the runtime and waits for it. A non-zero exit is reported
// through the exit code, not the error; the error covers failures to start.
// The runtime has no timeout.
func (r *AgentRuntime) Run(ctx context.Context, inv Invocation) (int, error) {
	argv := r.Command(inv)
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec,noctx // cancellation handled below; argv built from config
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	if inv.CaptureJSON && inv.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(inv.LogPath), 0o755); err != nil { //nolint:gosec // logs are user-readable
			return -1, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(inv.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // logs are user-readable
		if err != nil {
			return -1, fmt.Errorf("open capture log: %w", err)
		}
		defer f.Close() //nolint:errcheck // best-effort close of append-only log
		cmd.Stdout = f
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		if r.KillOnCancel && cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
		err = <-done
	}

	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait %s: %w", argv[0], err)
}

// ShellQuote quotes s for POSIX sh when it contains anything beyond a safe
// character set.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("@%+=:,./-_", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Package bridge invokes the external collaborators: the tk ticket CLI and
// the Agent Runtime (pi).
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds short subprocess calls such as tk ready.
const DefaultTimeout = 30 * time.Second

// waitDelay bounds how long Run waits for a killed command's pipes to close.
// Grandchildren that inherited stdout would otherwise hold Output open.
const waitDelay = 2 * time.Second

// CommandRunner abstracts command execution for testability.
// Production implementation uses os/exec; tests provide a fake.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct {
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Timeout bounds each call; zero means DefaultTimeout.
	Timeout time.Duration
}

// Run executes a command and returns its stdout as bytes.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	cmd.WaitDelay = waitDelay
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), context.Canceled)
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s %s: timed out after %s", name, strings.Join(args, " "), timeout)
		}
		var exitErr *exec.ExitError
		if ok := errors.As(err, &exitErr); ok {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Shell runs configured shell snippets such as the Ralph ticket query.
type Shell struct {
	Runner CommandRunner
}

// Output runs script with sh -c and returns its trimmed stdout.
func (s Shell) Output(ctx context.Context, script string) (string, error) {
	out, err := s.Runner.Run(ctx, "sh", "-c", script)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Succeeds runs script with sh -c and reports whether it exited 0. A
// cancelled ctx or a failure to start the shell is returned as an error.
func (s Shell) Succeeds(ctx context.Context, script string) (bool, error) {
	_, err := s.Runner.Run(ctx, "sh", "-c", script)
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

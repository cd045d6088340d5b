package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// stepLog prints step-by-step progress with ✓/⚠/✗ markers and a spinner
// for long-running steps on a terminal.
type stepLog struct {
	w     io.Writer
	isTTY bool
	theme Theme
	mu    sync.Mutex
}

// newStepLog creates a step logger that writes to w.
// isTTY controls whether to use colour and animated spinners.
func newStepLog(w io.Writer, isTTY bool) *stepLog {
	return &stepLog{w: w, isTTY: isTTY, theme: newTheme(isTTY)}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Step prints a completed step with a checkmark.
func (s *stepLog) Step(format string, args ...any) {
	s.line(s.theme.Success.Render("✓"), format, args...)
}

// Warn prints a non-fatal problem.
func (s *stepLog) Warn(format string, args ...any) {
	s.line(s.theme.Warning.Render("⚠"), format, args...)
}

// Fail prints a failed step.
func (s *stepLog) Fail(format string, args ...any) {
	s.line(s.theme.Error.Render("✗"), format, args...)
}

// Info prints an unmarked, muted line.
func (s *stepLog) Info(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, s.theme.Muted.Render(fmt.Sprintf(format, args...)))
}

func (s *stepLog) line(marker, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s %s\n", marker, fmt.Sprintf(format, args...))
}

// StartSpinner starts an animated spinner for a long-running step.
// The returned function stops it and prints the final checkmark.
// In non-TTY mode it prints a static line instead.
func (s *stepLog) StartSpinner(msg string) func() {
	if !s.isTTY {
		s.mu.Lock()
		fmt.Fprintf(s.w, "%s\n", msg)
		s.mu.Unlock()
		return func() { s.Step("%s", msg) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)

	spinnerFrames := []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}
	frameIdx := 0

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.w, "\r%c %s", spinnerFrames[frameIdx], msg)
				s.mu.Unlock()
				frameIdx = (frameIdx + 1) % len(spinnerFrames)
			}
		}
	}()

	stopOnce := sync.Once{}
	return func() {
		stopOnce.Do(func() {
			cancel()
			wg.Wait()

			s.mu.Lock()
			defer s.mu.Unlock()
			fmt.Fprintf(s.w, "\r%s %s\n", s.theme.Success.Render("✓"), msg)
		})
	}
}

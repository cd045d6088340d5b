package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"ticketflow/pkg/bridge"
	"ticketflow/pkg/protocol"
)

// fakeRunner records calls and returns canned output keyed by joined argv.
type fakeRunner struct {
	out   map[string]string
	err   map[string]error
	calls []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, key)
	if err := f.err[key]; err != nil {
		return nil, err
	}
	return []byte(f.out[key]), nil
}

func TestParseIDs(t *testing.T) {
	out := "abc-123  [P1][open] - Fix parser\n\n  def-456 [P2][open] - Docs\n"
	if got := bridge.ParseIDs(out); !slices.Equal(got, []string{"abc-123", "def-456"}) {
		t.Errorf("ParseIDs = %v", got)
	}
}

func TestTK_ReadyAndList(t *testing.T) {
	r := &fakeRunner{out: map[string]string{
		"tk ready":                       "a-1 x\nb-2 y\n",
		"tk ls --status open --tag docs": "c-3 z\n",
	}}
	tk := bridge.NewTK(r, "")

	ids, err := tk.Ready(context.Background())
	if err != nil || !slices.Equal(ids, []string{"a-1", "b-2"}) {
		t.Errorf("Ready = (%v, %v)", ids, err)
	}
	ids, err = tk.List(context.Background(), "open", "docs")
	if err != nil || !slices.Equal(ids, []string{"c-3"}) {
		t.Errorf("List = (%v, %v)", ids, err)
	}
}

func TestTK_ReadyError(t *testing.T) {
	r := &fakeRunner{err: map[string]error{"tk ready": errors.New("boom")}}
	if _, err := bridge.NewTK(r, "").Ready(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestTK_ShowPrefersFile(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".tickets"), 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\nid: a-1\nstatus: open\npriority: P2\ntags: [security, api]\n---\n# Title here\n\nBody text.\n"
	if err := os.WriteFile(bridge.TicketPath(root, "a-1"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	r := &fakeRunner{out: map[string]string{"tk show b-2": "---\nstatus: closed\ntitle: From tk\n---\n"}}
	tk := bridge.NewTK(r, root)

	got, err := tk.Show(context.Background(), "a-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Title here" || got.Description != "Body text." || got.Path == "" {
		t.Errorf("Show(a-1) = %+v", got)
	}
	if !slices.Equal(got.Tags, []string{"security", "api"}) {
		t.Errorf("Tags = %v", got.Tags)
	}
	if len(r.calls) != 0 {
		t.Errorf("tk invoked for file-backed ticket: %v", r.calls)
	}

	got, err = tk.Show(context.Background(), "b-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "From tk" || !got.IsClosed() {
		t.Errorf("Show(b-2) = %+v", got)
	}
}

func TestTK_ShowNotFound(t *testing.T) {
	r := &fakeRunner{out: map[string]string{}}
	_, err := bridge.NewTK(r, t.TempDir()).Show(context.Background(), "nope")
	var nf *protocol.TicketNotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("err = %v, want TicketNotFoundError", err)
	}
}

func TestParseTicket_BlockTags(t *testing.T) {
	tk := bridge.ParseTicket("x", "---\ntags:\n  - bug\n  - ux\ndeps: a-1, a-2\ntype: bug\n---\nno heading\n")
	if !slices.Equal(tk.Tags, []string{"bug", "ux"}) {
		t.Errorf("Tags = %v", tk.Tags)
	}
	if !slices.Equal(tk.Deps, []string{"a-1", "a-2"}) {
		t.Errorf("Deps = %v", tk.Deps)
	}
	if tk.Title != "" || tk.Description != "no heading" {
		t.Errorf("Title = %q, Description = %q", tk.Title, tk.Description)
	}
}

func TestAgentRuntime_Command(t *testing.T) {
	rt := &bridge.AgentRuntime{}
	inv := bridge.Invocation{Workflow: "/tf", Ticket: "abc-123", Flags: "--auto"}
	if got := rt.Command(inv); !slices.Equal(got, []string{"pi", "-c", "/tf abc-123 --auto"}) {
		t.Errorf("Command = %q", got)
	}

	inv.CaptureJSON = true
	inv.LogPath = "/p/.tf/ralph/logs/abc-123.jsonl"
	got := rt.CommandString(inv)
	want := "pi -c '/tf abc-123 --auto' --mode json > /p/.tf/ralph/logs/abc-123.jsonl"
	if got != want {
		t.Errorf("CommandString = %q, want %q", got, want)
	}
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"":          "''",
		"plain":     "plain",
		"two words": "'two words'",
		"it's":      `'it'"'"'s'`,
	}
	for in, want := range tests {
		if got := bridge.ShellQuote(in); got != want {
			t.Errorf("ShellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAgentRuntime_RunExitCodeAndCapture(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-pi")
	body := "#!/bin/sh\necho \"{\\\"args\\\":\\\"$*\\\"}\"\nexit 3\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil { //nolint:gosec // test script must be executable
		t.Fatal(err)
	}

	logPath := filepath.Join(dir, "logs", "t-1.jsonl")
	rt := &bridge.AgentRuntime{Bin: script, Dir: dir}
	code, err := rt.Run(context.Background(), bridge.Invocation{
		Workflow: "/tf", Ticket: "t-1", CaptureJSON: true, LogPath: logPath,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("capture log: %v", err)
	}
	if !strings.Contains(string(data), "--mode json") {
		t.Errorf("capture log = %q", data)
	}
}

func TestAgentRuntime_RunMissingBinary(t *testing.T) {
	rt := &bridge.AgentRuntime{Bin: filepath.Join(t.TempDir(), "does-not-exist")}
	if _, err := rt.Run(context.Background(), bridge.Invocation{Ticket: "x"}); err == nil {
		t.Error("expected start error")
	}
}

func TestRequireTools(t *testing.T) {
	look := func(name string) (string, error) {
		if name == "tk" {
			return "/usr/bin/tk", nil
		}
		return "", fmt.Errorf("%s: not found", name)
	}
	err := bridge.RequireTools(look, "pi", "tk", "git")
	var missing *protocol.ToolMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want ToolMissingError", err)
	}
	if !slices.Equal(missing.Tools, []string{"pi", "git"}) {
		t.Errorf("Tools = %v", missing.Tools)
	}
	if bridge.RequireTools(look, "tk") != nil {
		t.Error("tk should be found")
	}
}

func TestShell_Succeeds(t *testing.T) {
	sh := bridge.Shell{Runner: &bridge.ExecRunner{}}
	ok, err := sh.Succeeds(context.Background(), "exit 0")
	if err != nil || !ok {
		t.Errorf("exit 0 = (%v, %v)", ok, err)
	}
	ok, err = sh.Succeeds(context.Background(), "exit 1")
	if err != nil || ok {
		t.Errorf("exit 1 = (%v, %v)", ok, err)
	}
	out, err := sh.Output(context.Background(), "printf ' a-1 \n'")
	if err != nil || out != "a-1" {
		t.Errorf("Output = (%q, %v)", out, err)
	}
}

func TestShell_SucceedsCancelled(t *testing.T) {
	sh := bridge.Shell{Runner: &bridge.ExecRunner{}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	ok, err := sh.Succeeds(ctx, "sleep 5; exit 0")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if ok {
		t.Error("cancelled check reported success")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("cancellation took %s", elapsed)
	}
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ticketflow/pkg/eventlog"
	"ticketflow/pkg/retrystate"
)

func TestInit_CreatesLayout(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	code, stdout, stderr := runTF(t, dir, "init")
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
	for _, rel := range []string{".tf/config", ".tf/scripts", ".tf/knowledge", ".tf/ralph"} {
		if info, err := os.Stat(filepath.Join(dir, rel)); err != nil || !info.IsDir() {
			t.Errorf("%s not created", rel)
		}
	}
	for _, rel := range []string{".tf/config/settings.json", ".tf/ralph/config.json"} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Errorf("%s not written", rel)
		}
	}
	if !strings.Contains(stdout, "✓") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestInit_KeepsExistingConfig(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	cfg := filepath.Join(dir, ".tf", "ralph", "config.json")
	writeFile(t, cfg, `{"maxIterations": 3}`)

	if code, _, stderr := runTF(t, dir, "init"); code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
	data, _ := os.ReadFile(cfg)
	if string(data) != `{"maxIterations": 3}` {
		t.Errorf("config overwritten: %s", data)
	}
}

func TestDoctor_MissingToolsIsCritical(t *testing.T) {
	isolateEnv(t)
	t.Setenv("PATH", "")
	dir := t.TempDir()

	code, stdout, _ := runTF(t, dir, "doctor")
	if code != doctorExitCritical {
		t.Errorf("exit = %d, want %d", code, doctorExitCritical)
	}
	if !strings.Contains(stdout, "pi") || !strings.Contains(stdout, "✗") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestKB_IndexArchiveRestore(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	kb := filepath.Join(dir, ".tf", "knowledge")
	writeFile(t, filepath.Join(kb, "topics", "auth", "overview.md"), "# Authentication\n\nNotes.\n")

	if code, _, stderr := runTF(t, dir, "kb", "index"); code != 0 {
		t.Fatalf("index exit = %d, stderr = %q", code, stderr)
	}
	code, stdout, _ := runTF(t, dir, "kb", "ls")
	if code != 0 || !strings.Contains(stdout, "auth") || !strings.Contains(stdout, "Authentication") {
		t.Fatalf("ls = %d %q", code, stdout)
	}

	code, stdout, _ = runTF(t, dir, "kb", "show", "auth")
	if code != 0 || !strings.Contains(stdout, "Notes.") {
		t.Errorf("show = %d %q", code, stdout)
	}

	if code, _, stderr := runTF(t, dir, "kb", "archive", "auth"); code != 0 {
		t.Fatalf("archive exit = %d, stderr = %q", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(kb, "archive", "topics", "auth", "overview.md")); err != nil {
		t.Errorf("topic not moved: %v", err)
	}
	_, stdout, _ = runTF(t, dir, "kb", "ls")
	if strings.Contains(stdout, "auth") {
		t.Errorf("archived topic still listed: %q", stdout)
	}

	if code, _, stderr := runTF(t, dir, "kb", "restore", "auth"); code != 0 {
		t.Fatalf("restore exit = %d, stderr = %q", code, stderr)
	}
	_, stdout, _ = runTF(t, dir, "kb", "ls")
	if !strings.Contains(stdout, "Authentication") {
		t.Errorf("restored topic lost its title: %q", stdout)
	}
}

func TestKB_ShowUnknownTopic(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runTF(t, t.TempDir(), "kb", "show", "nope")
	if code != 1 || !strings.Contains(stderr, "topic not found") {
		t.Errorf("exit = %d, stderr = %q", code, stderr)
	}
}

func TestTrack_Dedup(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	dest := filepath.Join(t.TempDir(), "chain", "files_changed.txt")
	t.Setenv(envFilesChanged, dest)

	if code, _, stderr := runTF(t, dir, "track", "a.go", "b.go"); code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
	code, stdout, _ := runTF(t, dir, "track", "b.go", filepath.Join(dir, "c.go"), "./a.go")
	if code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if strings.TrimSpace(stdout) != "c.go" {
		t.Errorf("second run added %q, want only c.go", stdout)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a.go\nb.go\nc.go\n" {
		t.Errorf("files_changed.txt = %q", data)
	}
}

func TestNext(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	cfg := filepath.Join(dir, ".tf", "ralph", "config.json")

	writeFile(t, cfg, `{"ticketQuery": "printf 'abc-1  [open] Fix login\n'"}`)
	code, stdout, stderr := runTF(t, dir, "next")
	if code != 0 || strings.TrimSpace(stdout) != "abc-1" {
		t.Errorf("next = %d %q (stderr %q)", code, stdout, stderr)
	}

	writeFile(t, cfg, `{"ticketQuery": "true"}`)
	code, stdout, _ = runTF(t, dir, "next")
	if code != 1 || stdout != "" {
		t.Errorf("empty queue: exit = %d, stdout = %q", code, stdout)
	}
}

func TestGate_Check(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	art := filepath.Join(dir, "art")
	writeFile(t, filepath.Join(art, "review.md"), "## Summary Statistics\n- Critical: 0\n- Major: 0\n- Minor: 2\n")

	code, stdout, _ := runTF(t, dir, "gate", "check", art)
	if code != 0 || !strings.HasPrefix(stdout, "pass") {
		t.Errorf("default failOn: exit = %d, stdout = %q", code, stdout)
	}

	code, stdout, _ = runTF(t, dir, "gate", "check", art, "--fail-on", "minor")
	if code != 1 || !strings.HasPrefix(stdout, "blocked") {
		t.Errorf("--fail-on minor: exit = %d, stdout = %q", code, stdout)
	}

	code, _, _ = runTF(t, dir, "gate", "check", art, "--fail-on", "bogus")
	if code != 1 {
		t.Errorf("unknown severity: exit = %d, want 1", code)
	}
}

func TestGate_Verify(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	art := filepath.Join(dir, "art")
	writeFile(t, filepath.Join(art, "review.md"), "## Summary Statistics\n- Critical: 2\n")
	writeFile(t, filepath.Join(art, "fixes.md"), "## Summary Statistics\n- Critical: 1\n")

	if code, _, _ := runTF(t, dir, "gate", "verify", art); code != 1 {
		t.Errorf("partial fix: exit = %d, want 1", code)
	}

	writeFile(t, filepath.Join(art, "fixes.md"), "## Summary Statistics\n- Critical: 2\n")
	code, stdout, _ := runTF(t, dir, "gate", "verify", art)
	if code != 0 {
		t.Errorf("full fix: exit = %d, stdout = %q", code, stdout)
	}
	if _, err := os.Stat(filepath.Join(art, "post-fix-verification.md")); err != nil {
		t.Errorf("verification not written: %v", err)
	}
}

const securityTicket = `---
id: abc-1
status: open
priority: P3
type: task
---
# Fix security hole in login

Users can bypass the password check.
`

func TestPriorityReclassify_ApplyNeedsYes(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runTF(t, t.TempDir(), "priority-reclassify", "--ids", "abc-1", "--apply")
	if code != 1 || !strings.Contains(stderr, "--yes") {
		t.Errorf("exit = %d, stderr = %q", code, stderr)
	}
}

func TestPriorityReclassify_DryRunThenApply(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	ticket := filepath.Join(dir, ".tickets", "abc-1.md")
	writeFile(t, ticket, securityTicket)

	code, stdout, stderr := runTF(t, dir, "priority-reclassify", "--ids", "abc-1")
	if code != 0 {
		t.Fatalf("dry run exit = %d, stderr = %q", code, stderr)
	}
	if !strings.Contains(stdout, "P0") || !strings.Contains(stdout, "Keyword: security") {
		t.Errorf("dry run output = %q", stdout)
	}
	if data, _ := os.ReadFile(ticket); string(data) != securityTicket {
		t.Error("dry run modified the ticket")
	}

	code, _, stderr = runTF(t, dir, "priority-reclassify", "--ids", "abc-1", "--apply", "--yes", "--report")
	if code != 0 {
		t.Fatalf("apply exit = %d, stderr = %q", code, stderr)
	}
	data, _ := os.ReadFile(ticket)
	if !strings.Contains(string(data), "priority: P0\n") || !strings.Contains(string(data), "## Notes") {
		t.Errorf("ticket after apply:\n%s", data)
	}
	reports, _ := filepath.Glob(filepath.Join(dir, ".tf", "knowledge", "priority-reclassify-*.md"))
	if len(reports) != 1 {
		t.Errorf("reports = %v, want one", reports)
	}
}

func TestRalphRun_DryRunCaptureJSONFromEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("RALPH_CAPTURE_JSON", "1")
	dir := t.TempDir()

	code, stdout, stderr := runTF(t, dir, "ralph", "run", "abc-123", "--dry-run")
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
	if !strings.Contains(stdout, "pi -c '/tf abc-123 --auto' --mode json") {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stdout, "abc-123.jsonl") {
		t.Errorf("capture log path missing: %q", stdout)
	}

	code, stdout, _ = runTF(t, dir, "ralph", "run", "abc-123", "--dry-run", "--capture-json=false", "--flags=--plan")
	if code != 0 {
		t.Fatal("second run failed")
	}
	if strings.Contains(stdout, "--mode json") || !strings.Contains(stdout, "'/tf abc-123 --plan'") {
		t.Errorf("flag should override env: %q", stdout)
	}
}

func TestRalphRun_MissingToolsFailsFast(t *testing.T) {
	isolateEnv(t)
	t.Setenv("PATH", "")
	code, _, stderr := runTF(t, t.TempDir(), "ralph", "run", "abc-1")
	if code != 1 || !strings.Contains(stderr, "not found in PATH") {
		t.Errorf("exit = %d, stderr = %q", code, stderr)
	}
}

func TestRalphStatusAndReset(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	art := filepath.Join(dir, ".tf", "knowledge", "tickets", "abc-1")
	st := retrystate.Open(art, "abc-1")
	if _, err := st.StartAttempt(retrystate.TriggerInitial, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := st.CompleteAttempt(retrystate.AttemptBlocked, ""); err != nil {
		t.Fatal(err)
	}
	if err := st.Save(); err != nil {
		t.Fatal(err)
	}

	code, stdout, _ := runTF(t, dir, "ralph", "status")
	if code != 0 || !strings.Contains(stdout, "abc-1") || !strings.Contains(stdout, "TICKET") {
		t.Fatalf("status = %d %q", code, stdout)
	}

	if code, _, stderr := runTF(t, dir, "ralph", "reset", "abc-1"); code != 0 {
		t.Fatalf("reset exit = %d, stderr = %q", code, stderr)
	}
	if _, err := os.Stat(retrystate.Path(art)); !os.IsNotExist(err) {
		t.Error("retry state still present after reset")
	}
	backups, _ := filepath.Glob(filepath.Join(art, "retry-state.json.bak.*"))
	if len(backups) != 1 {
		t.Errorf("backups = %v, want one", backups)
	}

	if code, _, _ := runTF(t, dir, "ralph", "reset", "abc-1"); code != 1 {
		t.Errorf("second reset exit = %d, want 1", code)
	}
}

func TestRalphLog(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	_, stdout, _ := runTF(t, dir, "ralph", "log")
	if !strings.Contains(stdout, "No events") {
		t.Errorf("empty log = %q", stdout)
	}

	w, err := eventlog.OpenWriter(eventlog.DBPath(dir), "s1")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = w.Log(ctx, eventlog.TypeDispatch, "abc-1", "w1", `{"attempt":1}`)
	_ = w.Log(ctx, eventlog.TypeDispatch, "def-2", "w2", "")
	_ = w.Close()

	code, stdout, stderr := runTF(t, dir, "ralph", "log", "--ticket", "abc-1")
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
	if !strings.Contains(stdout, "dispatch  abc-1 [w1]") || strings.Contains(stdout, "def-2") {
		t.Errorf("log = %q", stdout)
	}

	_, stdout, _ = runTF(t, dir, "ralph", "log", "--attempt", "1")
	if !strings.Contains(stdout, "abc-1") || strings.Contains(stdout, "def-2") {
		t.Errorf("--attempt 1 = %q", stdout)
	}

	_, stdout, _ = runTF(t, dir, "ralph", "log", "--sessions")
	if !strings.Contains(stdout, "SESSION") || !strings.Contains(stdout, "s1") {
		t.Errorf("--sessions = %q", stdout)
	}
}

func TestLogin_WritesSecrets(t *testing.T) {
	dir := t.TempDir()
	agent := filepath.Join(dir, ".pi", "agent")
	writeFile(t, filepath.Join(agent, "mcp.json"), `{"mcpServers":{"custom":{"url":"http://x"}}}`)

	written, err := writeLoginConfig(agent, loginKeys{Perplexity: "pk", Context7: "ck"})
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 2 {
		t.Fatalf("written = %v", written)
	}
	for _, p := range written {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("%s mode = %v, want 0600", p, info.Mode().Perm())
		}
	}

	mcp, _ := readJSONObject(filepath.Join(agent, "mcp.json"))
	servers, _ := mcp["mcpServers"].(map[string]any)
	if _, ok := servers["custom"]; !ok {
		t.Error("existing server dropped")
	}
	if _, ok := servers["context7"]; !ok {
		t.Error("context7 not added")
	}
	ws, _ := readJSONObject(filepath.Join(agent, "web-search.json"))
	if ws["perplexityApiKey"] != "pk" {
		t.Errorf("web-search.json = %v", ws)
	}
}

func TestLogin_TightensExistingFileMode(t *testing.T) {
	agent := filepath.Join(t.TempDir(), ".pi", "agent")
	path := filepath.Join(agent, "web-search.json")
	writeFile(t, path, `{"exaApiKey":"old"}`)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := writeLoginConfig(agent, loginKeys{Perplexity: "pk"}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
	ws, _ := readJSONObject(path)
	if ws["exaApiKey"] != "old" || ws["perplexityApiKey"] != "pk" {
		t.Errorf("web-search.json = %v", ws)
	}
}

func TestLogin_NoKeysNonInteractive(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runTF(t, t.TempDir(), "login")
	if code != 1 || !strings.Contains(stderr, "no keys") {
		t.Errorf("exit = %d, stderr = %q", code, stderr)
	}
}

func TestSync_LocalSource(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "config", "install-manifest.txt"), "agents/fixer.md\nscripts/tf_helper.py\n")
	writeFile(t, filepath.Join(src, "agents", "fixer.md"), "---\nname: fixer\n---\nFix things.\n")
	writeFile(t, filepath.Join(src, "scripts", "tf_helper.py"), "print('hi')\n")

	code, stdout, stderr := runTF(t, dir, "sync", "--source-dir", src)
	if code != 0 {
		t.Fatalf("exit = %d, stdout = %q, stderr = %q", code, stdout, stderr)
	}
	info, err := os.Stat(filepath.Join(dir, ".tf", "scripts", "tf_helper.py"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Error("script not executable")
	}

	writeFile(t, filepath.Join(src, "agents", "fixer.md"), "---\nname: fixer\n---\nFix more things.\n")
	code, stdout, _ = runTF(t, dir, "update", "--check", "--source-dir", src)
	if code != 0 || !strings.Contains(stdout, "agents/fixer.md differs") {
		t.Errorf("update --check = %d %q", code, stdout)
	}

	if code, _, stderr := runTF(t, dir, "update", "--source-dir", src); code != 0 {
		t.Fatalf("update exit = %d, stderr = %q", code, stderr)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "agents", "fixer.md"))
	if !strings.Contains(string(data), "Fix more things.") {
		t.Errorf("agent not updated: %q", data)
	}
}

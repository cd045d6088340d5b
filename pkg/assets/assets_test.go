package assets_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"ticketflow/pkg/assets"
)

// mapSource serves entries from memory.
type mapSource map[string]string

func (m mapSource) Fetch(_ context.Context, entry string) ([]byte, error) {
	s, ok := m[entry]
	if !ok {
		return nil, errors.New("not found: " + entry)
	}
	return []byte(s), nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestParseManifest(t *testing.T) {
	got := assets.ParseManifest("# header\n\n  agents/a.md  \n#skip\nscripts/x.sh\n")
	if len(got) != 2 || got[0] != "agents/a.md" || got[1] != "scripts/x.sh" {
		t.Errorf("ParseManifest = %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		entry    string
		wantOK   bool
		wantDest string
		wantExec bool
	}{
		{"bin/tf", false, "", false},
		{"config/install-manifest.txt", false, "", false},
		{"agents/fixer.md", true, "agents/fixer.md", false},
		{"prompts/tf.md", true, "prompts/tf.md", false},
		{"skills/x/SKILL.md", true, "skills/x/SKILL.md", false},
		{"config/settings.json", true, ".tf/config/settings.json", false},
		{"config/workflows/tf/config.json", true, ".tf/config/workflows/tf/config.json", false},
		{"scripts/run.sh", true, ".tf/scripts/run.sh", true},
		{"scripts/gate.py", true, ".tf/scripts/gate.py", true},
		{"scripts/README.md", true, ".tf/scripts/README.md", false},
		{"docs/intro.md", false, "", false},
		{"../escape.md", false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			e, ok := assets.Classify(tt.entry)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if e.Dest != tt.wantDest || e.Executable != tt.wantExec {
				t.Errorf("Classify = %+v", e)
			}
		})
	}
}

func TestRawURL(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"git+https://github.com/acme/tf.git@v1.2.0", "https://raw.githubusercontent.com/acme/tf/v1.2.0/agents/a.md"},
		{"https://github.com/acme/tf", "https://raw.githubusercontent.com/acme/tf/main/agents/a.md"},
		{"acme/tf@dev", "https://raw.githubusercontent.com/acme/tf/dev/agents/a.md"},
		{"git@github.com:acme/tf.git", "https://raw.githubusercontent.com/acme/tf/main/agents/a.md"},
	}
	for _, tt := range tests {
		got, err := assets.RawURL(tt.src, "agents/a.md")
		if err != nil {
			t.Errorf("RawURL(%q): %v", tt.src, err)
			continue
		}
		if got != tt.want {
			t.Errorf("RawURL(%q) = %s, want %s", tt.src, got, tt.want)
		}
	}

	if _, err := assets.RawURL("not-a-repo", "x"); err == nil {
		t.Error("expected error for source without owner/repo")
	}
}

func TestPlanInstallation_Actions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "agents", "same.md"), "same")
	writeFile(t, filepath.Join(root, "agents", "drift.md"), "A")
	src := mapSource{"agents/new.md": "new", "agents/same.md": "same", "agents/drift.md": "B"}
	manifest := []string{"bin/tf", "agents/new.md", "agents/same.md", "agents/drift.md", "agents/new.md"}

	plan := assets.PlanInstallation(context.Background(), manifest, assets.PlanOptions{ProjectRoot: root}, src)
	if got := len(plan.ByAction(assets.ActionInstall)); got != 1 {
		t.Errorf("install = %d, want 1", got)
	}
	if got := len(plan.ByAction(assets.ActionSkip)); got != 2 {
		t.Errorf("skip without check = %d, want 2", got)
	}

	plan = assets.PlanInstallation(context.Background(), manifest, assets.PlanOptions{ProjectRoot: root, CheckUpdates: true}, src)
	updates := plan.ByAction(assets.ActionUpdate)
	if len(updates) != 1 || updates[0].Entry.Path != "agents/drift.md" {
		t.Fatalf("updates = %+v", updates)
	}
	if string(updates[0].Current) != "A" || string(updates[0].Incoming) != "B" {
		t.Errorf("update blobs = %q → %q", updates[0].Current, updates[0].Incoming)
	}
	if updates[0].CurrentDigest() == updates[0].IncomingDigest() || len(updates[0].IncomingDigest()) != 64 {
		t.Errorf("digests = %s %s", updates[0].CurrentDigest(), updates[0].IncomingDigest())
	}

	plan = assets.PlanInstallation(context.Background(), manifest, assets.PlanOptions{ProjectRoot: root, Force: true}, src)
	if got := len(plan.ByAction(assets.ActionUpdate)); got != 2 {
		t.Errorf("forced updates = %d, want 2", got)
	}
}

func TestPlanInstallation_FetchErrorsCollected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "agents", "a.md"), "A")
	writeFile(t, filepath.Join(root, "agents", "b.md"), "B")
	src := mapSource{"agents/b.md": "B2"}

	plan := assets.PlanInstallation(context.Background(), []string{"agents/a.md", "agents/b.md"},
		assets.PlanOptions{ProjectRoot: root, CheckUpdates: true}, src)
	if len(plan.Errors) != 1 || plan.Errors[0].Entry != "agents/a.md" {
		t.Errorf("errors = %+v", plan.Errors)
	}
	if len(plan.ByAction(assets.ActionUpdate)) != 1 {
		t.Error("sibling entry should still be planned")
	}
}

func TestExecutePlan_DriftThenIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "agents", "test.md"), "A")
	src := mapSource{"agents/test.md": "B", "scripts/run.sh": "#!/bin/sh\n"}
	manifest := []string{"agents/test.md", "scripts/run.sh"}
	ctx := context.Background()
	opts := assets.PlanOptions{ProjectRoot: root, CheckUpdates: true}

	res := assets.ExecutePlan(ctx, assets.PlanInstallation(ctx, manifest, opts, src), assets.ExecOptions{})
	if res.Installed != 1 || res.Updated != 1 || res.Errors != 0 {
		t.Fatalf("result = %+v", res)
	}
	if got := readFile(t, filepath.Join(root, "agents", "test.md")); got != "B" {
		t.Errorf("agents/test.md = %q, want B", got)
	}
	info, err := os.Stat(filepath.Join(root, ".tf", "scripts", "run.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("run.sh mode = %v, want executable", info.Mode())
	}

	again := assets.PlanInstallation(ctx, manifest, opts, src)
	if n := len(again.ByAction(assets.ActionInstall)) + len(again.ByAction(assets.ActionUpdate)); n != 0 {
		t.Errorf("second plan not idempotent: %+v", again.Assets)
	}
}

func TestExecutePlan_DryRunWritesNothing(t *testing.T) {
	root := t.TempDir()
	src := mapSource{"agents/a.md": "A"}
	ctx := context.Background()
	plan := assets.PlanInstallation(ctx, []string{"agents/a.md"}, assets.PlanOptions{ProjectRoot: root}, src)

	res := assets.ExecutePlan(ctx, plan, assets.ExecOptions{DryRun: true})
	if res.Installed != 1 {
		t.Errorf("dry-run installed = %d, want 1", res.Installed)
	}
	if _, err := os.Stat(filepath.Join(root, "agents", "a.md")); !os.IsNotExist(err) {
		t.Error("dry run wrote a file")
	}
	if _, err := os.Stat(assets.InstallRecordPath(root)); !os.IsNotExist(err) {
		t.Error("dry run wrote the install record")
	}
}

func TestExecutePlan_ErrorIsolated(t *testing.T) {
	root := t.TempDir()
	src := mapSource{"agents/ok.md": "ok"}
	ctx := context.Background()
	plan := assets.PlanInstallation(ctx, []string{"agents/missing.md", "agents/ok.md"}, assets.PlanOptions{ProjectRoot: root}, src)

	res := assets.ExecutePlan(ctx, plan, assets.ExecOptions{})
	if res.Errors != 1 || res.Installed != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(res.ErrorDetails) != 1 || !strings.Contains(res.ErrorDetails[0], "agents/missing.md") {
		t.Errorf("details = %v", res.ErrorDetails)
	}
}

func TestPrune_RemovesStaleRecordedEntries(t *testing.T) {
	root := t.TempDir()
	src := mapSource{"agents/a.md": "A", "agents/old.md": "old"}
	ctx := context.Background()

	first := assets.PlanInstallation(ctx, []string{"agents/a.md", "agents/old.md"}, assets.PlanOptions{ProjectRoot: root}, src)
	if res := assets.ExecutePlan(ctx, first, assets.ExecOptions{}); res.Errors != 0 {
		t.Fatalf("first execution: %+v", res)
	}
	recorded, err := assets.ReadInstallRecord(root)
	if err != nil || len(recorded) != 2 {
		t.Fatalf("record = %v, %v", recorded, err)
	}

	second := assets.PlanInstallation(ctx, []string{"agents/a.md"}, assets.PlanOptions{ProjectRoot: root, Prune: true}, src)
	removals := second.ByAction(assets.ActionRemove)
	if len(removals) != 1 || removals[0].Entry.Path != "agents/old.md" {
		t.Fatalf("removals = %+v", removals)
	}
	res := assets.ExecutePlan(ctx, second, assets.ExecOptions{})
	if res.Removed != 1 {
		t.Errorf("removed = %d", res.Removed)
	}
	if _, err := os.Stat(filepath.Join(root, "agents", "old.md")); !os.IsNotExist(err) {
		t.Error("old.md not removed")
	}
	recorded, _ = assets.ReadInstallRecord(root)
	if len(recorded) != 1 || recorded[0] != "agents/a.md" {
		t.Errorf("record after prune = %v", recorded)
	}
}

func TestUpdateAssets_OnlyUpdates(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "agents", "a.md"), "old")
	src := mapSource{"agents/a.md": "new", "agents/b.md": "b"}

	_, res := assets.UpdateAssets(context.Background(), []string{"agents/a.md", "agents/b.md"}, root, src, false)
	if res.Updated != 1 || res.Installed != 0 {
		t.Errorf("result = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(root, "agents", "b.md")); !os.IsNotExist(err) {
		t.Error("UpdateAssets must not install new entries")
	}
}

func TestRemoteSource_Fetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/agents/a.md" {
			_, _ = w.Write([]byte("remote"))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src, err := assets.NewRemoteSource("acme/tf")
	if err != nil {
		t.Fatal(err)
	}
	src.BaseURL = srv.URL

	data, err := src.Fetch(context.Background(), "agents/a.md")
	if err != nil || string(data) != "remote" {
		t.Errorf("Fetch = %q, %v", data, err)
	}
	if _, err := src.Fetch(context.Background(), "agents/b.md"); err == nil {
		t.Error("expected error for 500 response")
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2 (one attempt per entry)", hits.Load())
	}
}

func TestResolver_PrefersLocal(t *testing.T) {
	checkout := t.TempDir()
	writeFile(t, filepath.Join(checkout, "agents", "a.md"), "local")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()
	remote, err := assets.NewRemoteSource("acme/tf")
	if err != nil {
		t.Fatal(err)
	}
	remote.BaseURL = srv.URL

	r := &assets.Resolver{Local: &assets.LocalSource{Root: checkout}, Remote: remote}
	ctx := context.Background()
	if data, _ := r.Fetch(ctx, "agents/a.md"); string(data) != "local" {
		t.Errorf("local entry = %q", data)
	}
	if data, _ := r.Fetch(ctx, "agents/b.md"); string(data) != "remote" {
		t.Errorf("remote fallback = %q", data)
	}

	bare := &assets.Resolver{}
	if _, err := bare.Fetch(ctx, "agents/a.md"); !errors.Is(err, assets.ErrNoSource) {
		t.Errorf("bare resolver err = %v", err)
	}
}

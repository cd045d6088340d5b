package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveProjectRoot(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		dir := t.TempDir()
		got, err := resolveProjectRoot(dir)
		if err != nil || got != dir {
			t.Errorf("got %q, %v; want %q", got, err, dir)
		}
	})

	t.Run("walks up to .tf", func(t *testing.T) {
		root, err := filepath.EvalSymlinks(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if err := os.MkdirAll(filepath.Join(root, ".tf"), 0o755); err != nil {
			t.Fatal(err)
		}
		sub := filepath.Join(root, "a", "b")
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		t.Chdir(sub)

		got, err := resolveProjectRoot("")
		if err != nil {
			t.Fatal(err)
		}
		if got != root {
			t.Errorf("root = %q, want %q", got, root)
		}
	})

	t.Run("falls back to cwd", func(t *testing.T) {
		dir, err := filepath.EvalSymlinks(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		t.Chdir(dir)
		got, err := resolveProjectRoot("")
		if err != nil {
			t.Fatal(err)
		}
		if got != dir {
			t.Errorf("root = %q, want %q", got, dir)
		}
	})
}

func TestResolveKnowledgeDir(t *testing.T) {
	root := "/proj"

	t.Setenv(envKnowledgeDir, "")
	if got := resolveKnowledgeDir(root); got != filepath.Join(root, ".tf", "knowledge") {
		t.Errorf("default = %q", got)
	}

	t.Setenv(envKnowledgeDir, "docs/kb")
	if got := resolveKnowledgeDir(root); got != filepath.Join(root, "docs", "kb") {
		t.Errorf("relative = %q", got)
	}

	t.Setenv(envKnowledgeDir, "/srv/kb")
	if got := resolveKnowledgeDir(root); got != "/srv/kb" {
		t.Errorf("absolute = %q", got)
	}
}

func TestResolveFilesChanged(t *testing.T) {
	root := "/proj"
	tests := []struct {
		name     string
		files    string
		chainDir string
		want     string
	}{
		{"default", "", "", filepath.Join(root, "files_changed.txt")},
		{"chain dir", "", "/tmp/chain", filepath.Join("/tmp/chain", "files_changed.txt")},
		{"explicit wins", "/tmp/out.txt", "/tmp/chain", "/tmp/out.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envFilesChanged, tt.files)
			t.Setenv(envChainDir, tt.chainDir)
			if got := resolveFilesChanged(root); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveAssetSource(t *testing.T) {
	t.Setenv(envRepoRoot, "")
	t.Setenv(envUvxFrom, "")

	if _, err := resolveAssetSource("", ""); err == nil {
		t.Error("expected error with no source configured")
	}

	t.Setenv(envRepoRoot, "/checkout")
	r, err := resolveAssetSource("", "")
	if err != nil {
		t.Fatal(err)
	}
	if r.Local == nil || r.Local.Root != "/checkout" || r.Remote != nil {
		t.Errorf("resolver = %+v", r)
	}

	r, err = resolveAssetSource("/other", "git+https://github.com/acme/flow@v1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Local.Root != "/other" || r.Remote == nil {
		t.Errorf("flags should override env: %+v", r)
	}
}

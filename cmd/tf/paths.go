package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ticketflow/pkg/assets"
	"ticketflow/pkg/protocol"
)

// Environment variables read at startup. Nothing below cmd/tf reads the
// environment.
const (
	envKnowledgeDir = "TF_KNOWLEDGE_DIR"
	envFilesChanged = "TF_FILES_CHANGED"
	envChainDir     = "TF_CHAIN_DIR"
	envRepoRoot     = "TF_REPO_ROOT"
	envUvxFrom      = "TF_UVX_FROM"
)

// Paths holds the resolved locations a command works with.
type Paths struct {
	ProjectRoot  string // --project, else nearest dir with .tf/.tickets, else cwd
	Home         string // user home, for ~/.tf and ~/.pi
	KnowledgeDir string // TF_KNOWLEDGE_DIR or <project>/.tf/knowledge
	ArtifactRoot string // <knowledge>/tickets
	RalphDir     string // <project>/.tf/ralph
}

// resolvePaths resolves paths for cmd, honouring the --project flag.
func resolvePaths(cmd *cobra.Command) (*Paths, error) {
	project, _ := cmd.Flags().GetString("project")
	root, err := resolveProjectRoot(project)
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}

	kb := resolveKnowledgeDir(root)
	return &Paths{
		ProjectRoot:  root,
		Home:         home,
		KnowledgeDir: kb,
		ArtifactRoot: filepath.Join(kb, protocol.TicketArtifactsDir),
		RalphDir:     filepath.Join(root, protocol.RalphDir),
	}, nil
}

// resolveProjectRoot returns flag when set, otherwise walks up from the
// working directory looking for .tf or .tickets.
func resolveProjectRoot(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working dir: %w", err)
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		for _, marker := range []string{protocol.TFDir, protocol.TicketsDir} {
			if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
				return dir, nil
			}
		}
		if filepath.Dir(dir) == dir {
			return cwd, nil
		}
	}
}

// resolveKnowledgeDir returns TF_KNOWLEDGE_DIR or <root>/.tf/knowledge.
func resolveKnowledgeDir(root string) string {
	if v := os.Getenv(envKnowledgeDir); v != "" {
		if filepath.IsAbs(v) {
			return v
		}
		return filepath.Join(root, v)
	}
	return filepath.Join(root, protocol.KnowledgeDir)
}

// resolveFilesChanged returns the tf track destination: TF_FILES_CHANGED,
// else <TF_CHAIN_DIR>/files_changed.txt, else files_changed.txt in root.
func resolveFilesChanged(root string) string {
	if v := os.Getenv(envFilesChanged); v != "" {
		return v
	}
	if v := os.Getenv(envChainDir); v != "" {
		return filepath.Join(v, protocol.FilesChangedFile)
	}
	return filepath.Join(root, protocol.FilesChangedFile)
}

// resolveAssetSource builds the asset source: a local checkout from
// TF_REPO_ROOT (or the --source-dir flag) and a remote from TF_UVX_FROM (or
// --source-url).
func resolveAssetSource(dirFlag, urlFlag string) (*assets.Resolver, error) {
	r := &assets.Resolver{}

	dir := dirFlag
	if dir == "" {
		dir = os.Getenv(envRepoRoot)
	}
	if dir != "" {
		r.Local = &assets.LocalSource{Root: dir}
	}

	url := urlFlag
	if url == "" {
		url = os.Getenv(envUvxFrom)
	}
	if url != "" {
		remote, err := assets.NewRemoteSource(url)
		if err != nil {
			return nil, err
		}
		r.Remote = remote
	}

	if r.Local == nil && r.Remote == nil {
		return nil, fmt.Errorf("no asset source: set %s or %s, or pass --source-dir/--source-url", envRepoRoot, envUvxFrom)
	}
	return r, nil
}

// readManifest reads config/install-manifest.txt through src.
func readManifest(cmd *cobra.Command, src *assets.Resolver) ([]string, error) {
	data, err := src.Fetch(cmd.Context(), "config/install-manifest.txt")
	if err != nil {
		return nil, fmt.Errorf("read install manifest: %w", err)
	}
	return assets.ParseManifest(string(data)), nil
}

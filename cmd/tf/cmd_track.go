package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// newTrackCmd creates the "tf track" subcommand.
func newTrackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track <path>...",
		Short: "Record changed files in files_changed.txt",
		Long: "Appends each path to files_changed.txt unless already listed. The file is\n" +
			"$TF_FILES_CHANGED, else $TF_CHAIN_DIR/files_changed.txt, else\n" +
			"files_changed.txt in the project root.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolvePaths(cmd)
			if err != nil {
				return err
			}
			dest := resolveFilesChanged(paths.ProjectRoot)
			added, err := trackFiles(dest, paths.ProjectRoot, args)
			if err != nil {
				return err
			}
			for _, p := range added {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

// trackFiles appends the paths not yet listed in dest and returns them.
// Paths inside root are recorded relative to it.
func trackFiles(dest, root string, paths []string) ([]string, error) {
	seen := map[string]bool{}
	f, err := os.Open(dest) //nolint:gosec // destination chosen by the user
	switch {
	case err == nil:
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				seen[line] = true
			}
		}
		_ = f.Close()
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", dest, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("open %s: %w", dest, err)
	}

	var added []string
	for _, p := range paths {
		p = normalizeTracked(root, p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		added = append(added, p)
	}
	if len(added) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:gosec // chain dir is shared with the agent runtime
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // user-readable list
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dest, err)
	}
	defer out.Close() //nolint:errcheck // write errors are checked below
	if _, err := out.WriteString(strings.Join(added, "\n") + "\n"); err != nil {
		return nil, fmt.Errorf("write %s: %w", dest, err)
	}
	return added, out.Close()
}

func normalizeTracked(root, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
	}
	return filepath.ToSlash(filepath.Clean(p))
}

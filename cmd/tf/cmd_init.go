package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"ticketflow/pkg/protocol"
	"ticketflow/pkg/ralph"
	"ticketflow/pkg/settings"
)

// newInitCmd creates the "tf init" subcommand.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold .tf/{config,scripts,knowledge,ralph} in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(cmd)
			if err != nil {
				return err
			}
			return runInit(newStepLog(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout())), paths)
		},
	}
}

// runInit creates the project layout. Existing files are left untouched.
func runInit(log *stepLog, paths *Paths) error {
	for _, rel := range []string{protocol.ConfigDir, protocol.ScriptsDir, protocol.KnowledgeDir, protocol.RalphDir} {
		dir := filepath.Join(paths.ProjectRoot, rel)
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // project dirs are world-readable
			return fmt.Errorf("create %s: %w", rel, err)
		}
		log.Step("%s/", rel)
	}

	files := []struct {
		path    string
		content []byte
	}{
		{settings.ProjectPath(paths.ProjectRoot), settings.DefaultJSON()},
		{ralph.ConfigPath(paths.ProjectRoot), ralph.DefaultJSON()},
	}
	for _, f := range files {
		rel, _ := filepath.Rel(paths.ProjectRoot, f.path)
		if _, err := os.Stat(f.path); err == nil {
			log.Info("%s exists, kept", rel)
			continue
		}
		if err := atomic.WriteFile(f.path, bytes.NewReader(f.content)); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
		log.Step("%s", rel)
	}
	return nil
}

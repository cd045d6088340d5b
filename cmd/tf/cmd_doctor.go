package main

import (
	"os/exec"

	"github.com/spf13/cobra"

	"ticketflow/pkg/bridge"
	"ticketflow/pkg/doctor"
)

// doctorExitCritical is the exit code when a required check fails.
const doctorExitCritical = 2

// newDoctorCmd creates the "tf doctor" subcommand.
func newDoctorCmd() *cobra.Command {
	var opts doctor.Options

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check tools, extensions and version consistency",
		Long: "Checks that pi and tk are on PATH, that MCP servers are configured, and that\n" +
			"pyproject.toml, Cargo.toml and package.json agree on one version (first found\n" +
			"wins). The git tag check is warn-only; --fix syncs the VERSION file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(cmd)
			if err != nil {
				return err
			}
			opts.ProjectRoot = paths.ProjectRoot
			opts.Home = paths.Home
			opts.LookPath = exec.LookPath
			opts.Runner = &bridge.ExecRunner{Dir: paths.ProjectRoot}

			report := doctor.Run(cmd.Context(), opts)
			printDoctorReport(newStepLog(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout())), report)
			if report.Critical() {
				return &exitError{code: doctorExitCritical}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Fix, "fix", false, "write the canonical version to VERSION")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "with --fix, show what would change")

	return cmd
}

func printDoctorReport(log *stepLog, r *doctor.Report) {
	for _, c := range r.Checks {
		switch c.Level {
		case doctor.LevelOK:
			log.Step("%s: %s", c.Name, c.Detail)
		case doctor.LevelWarn:
			log.Warn("%s: %s", c.Name, c.Detail)
		case doctor.LevelFail:
			log.Fail("%s: %s", c.Name, c.Detail)
		}
	}
	log.Info("%d ok, %d warnings, %d failures",
		r.Count(doctor.LevelOK), r.Count(doctor.LevelWarn), r.Count(doctor.LevelFail))
}

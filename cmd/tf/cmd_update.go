package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ticketflow/pkg/assets"
)

// sourceFlags select where assets are read from.
type sourceFlags struct {
	dir string
	url string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dir, "source-dir", "", "local checkout to install from (default $"+envRepoRoot+")")
	cmd.Flags().StringVar(&f.url, "source-url", "", "git URL to fetch raw files from (default $"+envUvxFrom+")")
}

// newUpdateCmd creates the "tf update" subcommand.
func newUpdateCmd() *cobra.Command {
	var (
		src    sourceFlags
		check  bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update installed assets whose content has drifted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(cmd)
			if err != nil {
				return err
			}
			resolver, err := resolveAssetSource(src.dir, src.url)
			if err != nil {
				return err
			}
			manifest, err := readManifest(cmd, resolver)
			if err != nil {
				return err
			}

			log := newStepLog(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout()))
			if check {
				stop := log.StartSpinner("comparing installed assets")
				plan := assets.CheckForUpdates(cmd.Context(), manifest, paths.ProjectRoot, resolver)
				stop()
				printDrift(log, plan)
				return planErrors(plan.Errors)
			}

			plan, res := assets.UpdateAssets(cmd.Context(), manifest, paths.ProjectRoot, resolver, dryRun)
			verb := "updated"
			if dryRun {
				verb = "would update"
			}
			for _, pa := range plan.ByAction(assets.ActionUpdate) {
				log.Step("%s %s", verb, pa.Entry.Dest)
			}
			return printResult(log, res)
		},
	}
	src.register(cmd)
	cmd.Flags().BoolVar(&check, "check", false, "report drift with content digests; write nothing")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be updated")
	return cmd
}

func printDrift(log *stepLog, plan *assets.Plan) {
	updates := plan.ByAction(assets.ActionUpdate)
	for _, pa := range updates {
		log.Warn("%s differs", pa.Entry.Dest)
		log.Info("  installed %s", shortDigest(pa.CurrentDigest()))
		log.Info("  source    %s", shortDigest(pa.IncomingDigest()))
	}
	for _, pa := range plan.ByAction(assets.ActionInstall) {
		log.Warn("%s not installed", pa.Entry.Dest)
	}
	log.Info("%d up to date, %d drifted, %d missing",
		len(plan.ByAction(assets.ActionSkip)), len(updates), len(plan.ByAction(assets.ActionInstall)))
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16]
	}
	return d
}

func printResult(log *stepLog, res *assets.Result) error {
	for _, d := range res.ErrorDetails {
		log.Fail("%s", d)
	}
	log.Info("%d installed, %d updated, %d skipped, %d removed, %d errors",
		res.Installed, res.Updated, res.Skipped, res.Removed, res.Errors)
	if res.Errors > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d asset(s) failed", res.Errors)}
	}
	return nil
}

func planErrors(errs []assets.PlanError) error {
	if len(errs) == 0 {
		return nil
	}
	return &exitError{code: 1, err: fmt.Errorf("%d asset(s) could not be compared; first: %s: %s",
		len(errs), errs[0].Entry, errs[0].Message)}
}

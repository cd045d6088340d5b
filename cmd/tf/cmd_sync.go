package main

import (
	"github.com/spf13/cobra"

	"ticketflow/pkg/assets"
	"ticketflow/pkg/settings"
)

// newSyncCmd creates the "tf sync" subcommand.
func newSyncCmd() *cobra.Command {
	var (
		src    sourceFlags
		opts   assets.PlanOptions
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Install missing assets, then sync model frontmatter",
		Long: "Installs every manifest entry that is missing from the project. With --force\n" +
			"existing files are overwritten; with --prune files installed by an earlier\n" +
			"sync but no longer listed are removed. Model assignments from settings.json\n" +
			"are then written into agents/ and prompts/.",
		Args: cobra.NoArgs,
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
			opts.ProjectRoot = paths.ProjectRoot
			plan := assets.PlanInstallation(cmd.Context(), manifest, opts, resolver)
			for _, pa := range plan.Assets {
				if pa.Action == assets.ActionSkip {
					continue
				}
				if dryRun {
					log.Info("would %s %s", pa.Action, pa.Entry.Dest)
				} else {
					log.Step("%s %s", pa.Action, pa.Entry.Dest)
				}
			}
			res := assets.ExecutePlan(cmd.Context(), plan, assets.ExecOptions{DryRun: dryRun})
			if err := printResult(log, res); err != nil {
				return err
			}

			return syncModels(log, paths.ProjectRoot, paths.Home, dryRun)
		},
	}
	src.register(cmd)
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing files")
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "remove assets dropped from the manifest")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the plan without writing")
	return cmd
}

// newSyncModelsCmd creates the "tf sync-models" subcommand.
func newSyncModelsCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync-models",
		Short: "Write model assignments from settings.json into agent and prompt frontmatter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(cmd)
			if err != nil {
				return err
			}
			log := newStepLog(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout()))
			return syncModels(log, paths.ProjectRoot, paths.Home, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show which files would change")
	return cmd
}

func syncModels(log *stepLog, root, home string, dryRun bool) error {
	res, err := settings.SyncModels(root, settings.Load(root, home), dryRun)
	if err != nil {
		return err
	}
	verb := "synced"
	if dryRun {
		verb = "would sync"
	}
	for _, p := range res.Updated {
		log.Step("%s %s", verb, p)
	}
	for _, p := range res.Missing {
		log.Warn("%s not found", p)
	}
	log.Info("models: %d updated, %d unchanged, %d missing", len(res.Updated), len(res.Unchanged), len(res.Missing))
	return nil
}

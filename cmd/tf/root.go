package main

import (
	"github.com/spf13/cobra"

	"ticketflow/internal/version"
)

// newRootCmd creates the root tf command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tf",
		Short:         "Ticket-driven engineering workflow on top of the pi agent runtime",
		Long:          "tf drives tickets through select → implement → review → fix → close,\nretrying on quality-gate failures, and runs the Ralph loop over the backlog.",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().String("project", "", "project root (default: nearest directory with .tf or .tickets)")

	cmd.AddCommand(
		newInitCmd(),
		newDoctorCmd(),
		newRalphCmd(),
		newPriorityReclassifyCmd(),
		newKBCmd(),
		newNextCmd(),
		newTrackCmd(),
		newUpdateCmd(),
		newSyncCmd(),
		newSyncModelsCmd(),
		newLoginCmd(),
		newGateCmd(),
	)

	return cmd
}

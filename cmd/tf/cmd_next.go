package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ticketflow/pkg/bridge"
	"ticketflow/pkg/ralph"
)

// newNextCmd creates the "tf next" subcommand.
func newNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Print the next ticket id from the configured ticketQuery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(cmd)
			if err != nil {
				return err
			}
			cfg := ralph.LoadConfig(paths.ProjectRoot)
			sh := bridge.Shell{Runner: &bridge.ExecRunner{Dir: paths.ProjectRoot}}
			out, err := sh.Output(cmd.Context(), cfg.TicketQuery)
			if err != nil {
				return err
			}
			ids := bridge.ParseIDs(out)
			if len(ids) == 0 {
				return &exitError{code: 1, err: errors.New("no ready ticket")}
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(ids[0]))
			return nil
		},
	}
}

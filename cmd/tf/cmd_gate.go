package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ticketflow/pkg/artifact"
	"ticketflow/pkg/qualitygate"
	"ticketflow/pkg/settings"
)

// newGateCmd creates the "tf gate" command group used by workflow scripts.
func newGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate the quality gate for an artifact directory",
	}
	cmd.AddCommand(newGateCheckCmd(), newGateVerifyCmd())
	return cmd
}

// gateFailOn returns --fail-on when given, else workflow.failOn from settings.
func gateFailOn(cmd *cobra.Command, names []string) ([]artifact.Severity, error) {
	if cmd.Flags().Changed("fail-on") {
		return artifact.CanonicalSeverities(names)
	}
	p, err := resolvePaths(cmd)
	if err != nil {
		return nil, err
	}
	return settings.Load(p.ProjectRoot, p.Home).FailOn(), nil
}

func newGateCheckCmd() *cobra.Command {
	var failOn []string

	cmd := &cobra.Command{
		Use:   "check <artifact-dir>",
		Short: "Exit 1 when the artifacts block the ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sev, err := gateFailOn(cmd, failOn)
			if err != nil {
				return err
			}
			res := qualitygate.DetectQualityGateBlocked(args[0], sev)
			out := cmd.OutOrStdout()
			if res.Source == qualitygate.SourceNone {
				fmt.Fprintln(out, "no gate signal (no close-summary.md or review.md)")
				return nil
			}
			verdict := "pass"
			if res.Blocked {
				verdict = "blocked"
			}
			fmt.Fprintf(out, "%s (source: %s) %s\n", verdict, res.Source, res.Counts)
			if res.Blocked {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&failOn, "fail-on", nil, "severities that block (default from settings)")
	return cmd
}

func newGateVerifyCmd() *cobra.Command {
	var failOn []string

	cmd := &cobra.Command{
		Use:   "verify <artifact-dir>",
		Short: "Compute post-fix counts and write post-fix-verification.md",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sev, err := gateFailOn(cmd, failOn)
			if err != nil {
				return err
			}
			v, err := qualitygate.VerifyPostFixState(args[0], sev)
			if err != nil {
				return err
			}
			log := newStepLog(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout()))
			for _, w := range v.Warnings {
				log.Warn("%s", w)
			}
			if !v.Passed {
				log.Fail("post-fix %s still blocks (failOn %v)", v.Post, v.FailOn)
				return &exitError{code: 1}
			}
			log.Step("post-fix %s passes; wrote %s", v.Post, v.Path)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&failOn, "fail-on", nil, "severities that block (default from settings)")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"ticketflow/pkg/bridge"
	"ticketflow/pkg/priority"
	"ticketflow/pkg/protocol"
)

type reclassifyFlags struct {
	ids        []string
	ready      bool
	status     string
	tag        string
	apply      bool
	yes        bool
	maxChanges int
	force      bool
	closed     bool
	json       bool
	report     bool
}

// newPriorityReclassifyCmd creates the "tf priority-reclassify" subcommand.
func newPriorityReclassifyCmd() *cobra.Command {
	var f reclassifyFlags

	cmd := &cobra.Command{
		Use:   "priority-reclassify",
		Short: "Propose (and optionally apply) rubric-based ticket priorities",
		Long: "Classifies tickets by tag, keyword and type into P0-P4. Nothing is written\n" +
			"without --apply; non-interactive runs also need --yes. Without a selection\n" +
			"flag the tickets from `tk ready` are used.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReclassify(cmd, &f)
		},
	}

	cmd.Flags().StringSliceVar(&f.ids, "ids", nil, "comma-separated ticket ids")
	cmd.Flags().BoolVar(&f.ready, "ready", false, "select tickets from tk ready")
	cmd.Flags().StringVar(&f.status, "status", "", "select tickets with this status")
	cmd.Flags().StringVar(&f.tag, "tag", "", "select tickets with this tag")
	cmd.Flags().BoolVar(&f.apply, "apply", false, "write the new priorities")
	cmd.Flags().BoolVar(&f.yes, "yes", false, "skip the confirmation prompt")
	cmd.Flags().IntVar(&f.maxChanges, "max-changes", 0, "cap the number of tickets written (0 = no cap)")
	cmd.Flags().BoolVar(&f.force, "force", false, "apply unknown classifications as "+priority.ForcedDefault.String())
	cmd.Flags().BoolVar(&f.closed, "include-closed", false, "also reclassify closed tickets")
	cmd.Flags().BoolVar(&f.json, "json", false, "print decisions as JSON")
	cmd.Flags().BoolVar(&f.report, "report", false, "append an audit table under the knowledge dir")

	return cmd
}

func runReclassify(cmd *cobra.Command, f *reclassifyFlags) error {
	interactive := isTerminal(cmd.InOrStdin()) && isTerminal(cmd.OutOrStdout())
	if f.apply && !f.yes && !interactive {
		return &protocol.UserInputError{Msg: "--apply in a non-interactive session requires --yes"}
	}
	if f.maxChanges < 0 {
		return &protocol.UserInputError{Msg: "--max-changes must not be negative"}
	}

	paths, err := resolvePaths(cmd)
	if err != nil {
		return err
	}
	if err := bridge.RequireTools(nil, protocol.TicketBin); err != nil && len(f.ids) == 0 {
		return err
	}

	tk := bridge.NewTK(&bridge.ExecRunner{Dir: paths.ProjectRoot}, paths.ProjectRoot)
	tickets, err := loadTickets(cmd.Context(), tk, f)
	if err != nil {
		return err
	}

	ds := priority.Plan(priority.DefaultRubric(), tickets, priority.Options{
		IncludeClosed: f.closed,
		Force:         f.force,
		MaxChanges:    f.maxChanges,
	})
	changes := priority.Changes(ds)

	log := newStepLog(cmd.ErrOrStderr(), isTerminal(cmd.ErrOrStderr()))
	applied, printed := false, false
	var applyErr error
	if f.apply && len(changes) > 0 {
		ok := f.yes
		if !ok {
			printDecisions(cmd.OutOrStdout(), ds)
			printed = true
			ok, err = confirmApply(len(changes))
			if err != nil {
				return err
			}
		}
		if ok {
			ds, applyErr = priority.Apply(ds, time.Now())
			applied = true
		} else {
			log.Info("cancelled; nothing written")
		}
	}

	if f.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(ds); err != nil {
			return fmt.Errorf("encode decisions: %w", err)
		}
	} else if !printed {
		printDecisions(cmd.OutOrStdout(), ds)
	}

	if f.report {
		path, err := priority.WriteReport(paths.KnowledgeDir, ds, time.Now(), applied)
		if err != nil {
			return err
		}
		log.Step("report written to %s", path)
	}

	switch {
	case applied:
		n := 0
		for _, d := range ds {
			if d.Applied {
				n++
			}
		}
		log.Step("applied %d of %d changes", n, len(changes))
	case !f.apply:
		log.Info("dry run: %d change(s) proposed; rerun with --apply to write", len(changes))
	}
	return applyErr
}

// loadTickets resolves the selection flags to tickets. Explicit ids win,
// then --ready, then --status/--tag via tk ls. With no flag tk ready is used.
func loadTickets(ctx context.Context, tk *bridge.TK, f *reclassifyFlags) ([]protocol.Ticket, error) {
	ids := f.ids
	var err error
	switch {
	case len(ids) > 0:
	case f.ready:
		ids, err = tk.Ready(ctx)
	case f.status != "" || f.tag != "":
		ids, err = tk.List(ctx, f.status, f.tag)
	default:
		ids, err = tk.Ready(ctx)
	}
	if err != nil {
		return nil, err
	}

	tickets := make([]protocol.Ticket, 0, len(ids))
	for _, id := range ids {
		t, err := tk.Show(ctx, id)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, nil
}

func printDecisions(w io.Writer, ds []priority.Decision) {
	if len(ds) == 0 {
		fmt.Fprintln(w, "No tickets selected.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKET\tCURRENT\tPROPOSED\tACTION\tREASON")
	for _, d := range ds {
		reason := d.Rationale
		if d.Error != "" {
			reason += " (error: " + d.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Current, d.Proposed, d.Action, reason)
	}
	_ = tw.Flush()
}

// confirmApply asks on the terminal whether to write n changes.
func confirmApply(n int) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Write %d priority change(s)?", n)).
				Affirmative("Apply").
				Negative("Cancel").
				Value(&ok),
		),
	).WithOutput(os.Stderr)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("confirm: %w", err)
	}
	return ok, nil
}

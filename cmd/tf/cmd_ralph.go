package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ticketflow/pkg/bridge"
	"ticketflow/pkg/eventlog"
	"ticketflow/pkg/protocol"
	"ticketflow/pkg/ralph"
	"ticketflow/pkg/retrystate"
	"ticketflow/pkg/settings"
)

// newRalphCmd creates the "tf ralph" command group.
func newRalphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ralph",
		Short: "Run tickets through the agent runtime until the backlog drains",
	}
	cmd.AddCommand(
		newRalphRunCmd(),
		newRalphStartCmd(),
		newRalphStatusCmd(),
		newRalphResetCmd(),
		newRalphLogCmd(),
	)
	return cmd
}

// ralphFlags are shared by run and start.
type ralphFlags struct {
	dryRun       bool
	flags        string
	captureJSON  bool
	killOnCancel bool
	verbose      int
	// start only
	maxIterations int
	parallel      int
	watch         bool
}

func (f *ralphFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the runtime command without running it")
	cmd.Flags().StringVar(&f.flags, "flags", "", "workflow flags (overrides workflowFlags)")
	cmd.Flags().BoolVar(&f.captureJSON, "capture-json", false, "run the runtime with --mode json and log to .tf/ralph/logs")
	cmd.Flags().BoolVar(&f.killOnCancel, "kill-on-cancel", false, "send SIGTERM to the runtime on interrupt")
	cmd.Flags().CountVarP(&f.verbose, "verbose", "v", "print resolved settings (-vv for more)")
}

// ralphSession is a configured scheduler plus the resources to release.
type ralphSession struct {
	sched  *ralph.Scheduler
	events *eventlog.Writer
}

func (rs *ralphSession) Close() {
	if rs.events != nil {
		_ = rs.events.Close()
	}
}

// newRalphSession resolves config, settings and collaborators for cmd.
func newRalphSession(cmd *cobra.Command, f *ralphFlags) (*ralphSession, error) {
	paths, err := resolvePaths(cmd)
	if err != nil {
		return nil, err
	}
	root := paths.ProjectRoot

	cfg := ralph.LoadConfig(root)
	if cmd.Flags().Changed("flags") {
		cfg.WorkflowFlags = f.flags
	}
	if cmd.Flags().Changed("max-iterations") {
		if f.maxIterations < 1 {
			return nil, &protocol.UserInputError{Msg: "--max-iterations must be at least 1"}
		}
		cfg.MaxIterations = f.maxIterations
	}
	if cmd.Flags().Changed("parallel") {
		if f.parallel < 1 {
			return nil, &protocol.UserInputError{Msg: "--parallel must be at least 1"}
		}
		cfg.Parallel = f.parallel
	}
	var captureFlag *bool
	if cmd.Flags().Changed("capture-json") {
		captureFlag = &f.captureJSON
	}
	cfg.CaptureJSON = ralph.ResolveCaptureJSON(captureFlag, os.Getenv(ralph.CaptureJSONEnv), cfg)

	if !f.dryRun {
		if err := bridge.RequireTools(nil, protocol.AgentRuntimeBin, protocol.TicketBin); err != nil {
			return nil, err
		}
	}

	st := settings.Load(root, paths.Home)
	runner := &bridge.ExecRunner{Dir: root}
	sched := &ralph.Scheduler{
		Config:       cfg,
		ProjectRoot:  root,
		ArtifactRoot: paths.ArtifactRoot,
		FailOn:       st.FailOn(),
		Escalation:   st.Escalation(),
		BaseModels:   st.BaseModels(),
		Shell:        bridge.Shell{Runner: runner},
		Runtime: &bridge.AgentRuntime{
			Dir:          root,
			Stdout:       cmd.OutOrStdout(),
			Stderr:       cmd.ErrOrStderr(),
			KillOnCancel: f.killOnCancel,
		},
		Ready:  bridge.NewTK(runner, root),
		DryRun: f.dryRun,
		Out:    cmd.OutOrStdout(),
	}

	rs := &ralphSession{sched: sched}
	if !f.dryRun {
		w, err := eventlog.OpenWriter(eventlog.DBPath(root), uuid.NewString())
		if err != nil {
			return nil, err
		}
		rs.events = w
		sched.Events = w
	}

	if f.verbose > 0 {
		printRalphConfig(newStepLog(cmd.ErrOrStderr(), false), sched, f.verbose)
	}
	return rs, nil
}

func printRalphConfig(log *stepLog, s *ralph.Scheduler, level int) {
	c := s.Config
	log.Info("workflow=%q flags=%q captureJson=%t parallel=%d", c.Workflow, c.WorkflowFlags, c.CaptureJSON, c.Parallel)
	log.Info("maxIterations=%d retryCap=%d failOn=%v", c.MaxIterations, s.RetryCap(), s.FailOn)
	if level > 1 {
		log.Info("ticketQuery=%q completionCheck=%q", c.TicketQuery, c.CompletionCheck)
		log.Info("artifacts=%s escalation=%t", s.ArtifactRoot, s.Escalation.Enabled)
	}
}

func newRalphRunCmd() *cobra.Command {
	var f ralphFlags

	cmd := &cobra.Command{
		Use:   "run [ticket]",
		Short: "Run one ticket (the next ready one when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := newRalphSession(cmd, &f)
			if err != nil {
				return err
			}
			defer rs.Close()

			var ticket string
			if len(args) == 1 {
				ticket = args[0]
			}
			out, err := rs.sched.RunOnce(cmd.Context(), ticket)
			if errors.Is(err, ralph.ErrNoTicket) {
				return &exitError{code: 1, err: errors.New("no ready ticket")}
			}
			if err != nil {
				return err
			}
			if f.dryRun {
				return nil
			}

			log := newStepLog(cmd.ErrOrStderr(), isTerminal(cmd.ErrOrStderr()))
			switch out.Status {
			case retrystate.AttemptClosed:
				log.Step("%s closed (attempt %d)", out.Ticket, out.Attempt)
			case retrystate.AttemptBlocked:
				log.Warn("%s blocked by quality gate: %s", out.Ticket, out.Gate.Counts)
			default:
				log.Fail("%s attempt %d ended with status %s (exit %d)", out.Ticket, out.Attempt, out.Status, out.ExitCode)
			}
			if out.ExitCode != 0 {
				return &exitError{code: 1, err: fmt.Errorf("%s exited with status %d", protocol.AgentRuntimeBin, out.ExitCode)}
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newRalphStartCmd() *cobra.Command {
	var f ralphFlags

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Loop over ready tickets until the backlog drains",
		Long: "Selects ready tickets, runs the workflow on each, records every attempt in\n" +
			"retry-state.json and stops when the completion check finds nothing ready or\n" +
			"--max-iterations is reached. Prints <promise>COMPLETE</promise> on success.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := newRalphSession(cmd, &f)
			if err != nil {
				return err
			}
			defer rs.Close()

			ctx := cmd.Context()
			if f.watch && !f.dryRun {
				rs.sched.Wake = ralph.WatchTickets(ctx, filepath.Join(rs.sched.ProjectRoot, protocol.TicketsDir), 0)
			}

			sum, err := rs.sched.Run(ctx)
			log := newStepLog(cmd.ErrOrStderr(), isTerminal(cmd.ErrOrStderr()))
			if sum != nil {
				log.Info("%d iterations, %d dispatched, drained=%t", sum.Iterations, sum.Dispatched, sum.Drained)
				if len(sum.Skipped) > 0 {
					log.Warn("skipped at retry cap: %s", strings.Join(sum.Skipped, ", "))
				}
			}
			return err
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "override maxIterations")
	cmd.Flags().IntVar(&f.parallel, "parallel", 0, "number of tickets to run at once")
	cmd.Flags().BoolVar(&f.watch, "watch", true, "wake early when .tickets/ changes")
	return cmd
}

func newRalphStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-ticket retry state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(cmd)
			if err != nil {
				return err
			}
			entries, err := retrystate.Scan(paths.ArtifactRoot)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No retry state recorded.")
				return nil
			}
			return printRetryStatus(cmd.OutOrStdout(), entries)
		},
	}
}

func printRetryStatus(w io.Writer, entries []retrystate.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKET\tSTATUS\tATTEMPTS\tRETRIES\tLAST ATTEMPT")
	for _, e := range entries {
		if e.Err != nil {
			fmt.Fprintf(tw, "%s\tunreadable\t-\t-\t%v\n", filepath.Base(e.Dir), e.Err)
			continue
		}
		st := e.State
		last := st.LastAttemptAt
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", st.TicketID, st.Status, len(st.Attempts), st.RetryCount, last)
	}
	return tw.Flush()
}

func newRalphResetCmd() *cobra.Command {
	var noBackup bool

	cmd := &cobra.Command{
		Use:   "reset <ticket>",
		Short: "Delete a ticket's retry state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolvePaths(cmd)
			if err != nil {
				return err
			}
			id := args[0]
			dir := filepath.Join(paths.ArtifactRoot, id)
			if _, err := os.Stat(retrystate.Path(dir)); os.IsNotExist(err) {
				return fmt.Errorf("no retry state for %s", id)
			}
			if err := retrystate.Open(dir, id).Reset(!noBackup); err != nil {
				return err
			}
			newStepLog(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout())).Step("reset retry state for %s", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the timestamped backup copy")
	return cmd
}

func newRalphLogCmd() *cobra.Command {
	var (
		f        eventlog.Filter
		since    time.Duration
		sessions bool
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show scheduler events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(cmd)
			if err != nil {
				return err
			}
			dbPath := eventlog.DBPath(paths.ProjectRoot)
			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
				return nil
			}
			reader, err := eventlog.NewReader(dbPath)
			if err != nil {
				return err
			}
			defer reader.Close()

			if sessions {
				ss, err := reader.Sessions(cmd.Context(), f.Limit)
				if err != nil {
					return err
				}
				printSessions(cmd.OutOrStdout(), ss)
				return nil
			}

			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			events, err := reader.Query(cmd.Context(), f)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Ticket, "ticket", "", "only events for this ticket")
	cmd.Flags().StringVar(&f.Type, "type", "", "only events of this type")
	cmd.Flags().StringVar(&f.Session, "session", "", "only events from this session id")
	cmd.Flags().IntVar(&f.Attempt, "attempt", 0, "only events for this attempt number")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum number of events")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 1h)")
	cmd.Flags().BoolVar(&sessions, "sessions", false, "list sessions instead of events")
	return cmd
}

func printSessions(w io.Writer, ss []eventlog.Session) {
	if len(ss) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION	STARTED	ENDED	EVENTS	TICKETS")
	for _, s := range ss {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", s.ID,
			s.Start.Local().Format("2006-01-02 15:04:05"), s.End.Local().Format("2006-01-02 15:04:05"),
			s.Events, s.Tickets)
	}
	_ = tw.Flush()
}

// printEvents writes events oldest first.
func printEvents(w io.Writer, events []eventlog.Event) {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		line := e.CreatedAt.Local().Format("2006-01-02 15:04:05") + "  " + e.Type
		if e.TicketID != "" {
			line += "  " + e.TicketID
		}
		if e.WorkerID != "" {
			line += " [" + e.WorkerID + "]"
		}
		if e.Payload != "" {
			line += "  " + e.Payload
		}
		fmt.Fprintln(w, line)
	}
}

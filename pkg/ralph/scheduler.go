package ralph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"ticketflow/pkg/artifact"
	"ticketflow/pkg/bridge"
	"ticketflow/pkg/escalation"
	"ticketflow/pkg/eventlog"
	"ticketflow/pkg/protocol"
	"ticketflow/pkg/qualitygate"
	"ticketflow/pkg/retrystate"
)

// Promise is printed when the loop finishes.
const Promise = "<promise>COMPLETE</promise>"

// ErrNoTicket is returned by RunOnce when no ready ticket can be selected.
var ErrNoTicket = errors.New("no ready ticket")

// Shell runs the configured ticket query and completion check.
type Shell interface {
	Output(ctx context.Context, script string) (string, error)
	Succeeds(ctx context.Context, script string) (bool, error)
}

// Runtime runs the Agent Runtime for one invocation.
type Runtime interface {
	Run(ctx context.Context, inv bridge.Invocation) (int, error)
	CommandString(inv bridge.Invocation) string
}

// ReadyLister lists ready tickets; used to look past a skipped ticket.
type ReadyLister interface {
	Ready(ctx context.Context) ([]string, error)
}

// EventLogger records scheduler events. *eventlog.Writer satisfies it.
type EventLogger interface {
	Log(ctx context.Context, evType, ticketID, workerID, payload string) error
}

// Scheduler runs the Ralph loop. Fields are set by the caller before Run.
type Scheduler struct {
	Config Config
	// ProjectRoot is where the runtime is started and logs are written.
	ProjectRoot string
	// ArtifactRoot holds one artifact directory per ticket.
	ArtifactRoot string

	FailOn     []artifact.Severity
	Escalation escalation.Config
	BaseModels escalation.BaseModels

	Shell   Shell
	Runtime Runtime
	// Ready is optional; without it a skipped ticket ends selection.
	Ready ReadyLister
	// Events is optional.
	Events EventLogger

	DryRun bool
	// Out receives the promise line and dry-run commands.
	Out io.Writer
	// Wake, when set, cuts short the wait for new ready tickets.
	Wake <-chan struct{}

	// Sleep overrides the cancellable sleep (tests).
	Sleep func(ctx context.Context, d time.Duration, wake <-chan struct{}) error
	// Now overrides the retry-state clock (tests).
	Now func() time.Time

	mu       sync.Mutex
	skipped  map[string]bool
	inFlight map[string]bool

	// previewed holds tickets already printed by a dry run.
	previewed map[string]bool
}

// Outcome describes one dispatched ticket.
type Outcome struct {
	Ticket   string
	Attempt  int
	Trigger  retrystate.Trigger
	Command  string
	ExitCode int
	Status   retrystate.AttemptStatus
	Gate     qualitygate.Result
}

// Summary is the result of Run.
type Summary struct {
	Iterations int
	Dispatched int
	Skipped    []string
	// Drained is true when the completion check found no ready tickets.
	Drained bool
}

// ArtifactDir is the artifact directory for ticket.
func (s *Scheduler) ArtifactDir(ticket string) string {
	return filepath.Join(s.ArtifactRoot, ticket)
}

// RetryCap is the per-ticket attempt cap: maxIterationsPerTicket, lowered
// to the escalation maxRetries when escalation is enabled.
func (s *Scheduler) RetryCap() int {
	c := s.Config.MaxIterationsPerTicket
	if s.Escalation.Enabled && s.Escalation.MaxRetries > 0 && s.Escalation.MaxRetries < c {
		c = s.Escalation.MaxRetries
	}
	return c
}

func (s *Scheduler) openStore(ticket string) *retrystate.Store {
	var opts []retrystate.Option
	if s.Now != nil {
		opts = append(opts, retrystate.WithNow(s.Now))
	}
	st := retrystate.Open(s.ArtifactDir(ticket), ticket, opts...)
	if err := st.LoadErr(); err != nil {
		log.Printf("ralph: %s: starting fresh retry state: %v", ticket, err)
	}
	return st
}

func (s *Scheduler) event(ctx context.Context, evType, ticket, worker string, payload map[string]any) {
	if s.Events == nil {
		return
	}
	var body string
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			body = string(data)
		}
	}
	if err := s.Events.Log(ctx, evType, ticket, worker, body); err != nil {
		log.Printf("ralph: event log: %v", err)
	}
}

func (s *Scheduler) out() io.Writer {
	if s.Out == nil {
		return io.Discard
	}
	return s.Out
}

func (s *Scheduler) init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skipped == nil {
		s.skipped = map[string]bool{}
	}
	if s.inFlight == nil {
		s.inFlight = map[string]bool{}
	}
	if s.previewed == nil {
		s.previewed = map[string]bool{}
	}
}

// SkippedTickets returns the tickets excluded for the rest of this process.
func (s *Scheduler) SkippedTickets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.skipped))
	for id := range s.skipped {
		out = append(out, id)
	}
	return out
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	if s.DryRun {
		return ctx.Err()
	}
	if s.Sleep != nil {
		return s.Sleep(ctx, d, wake)
	}
	return sleepCtx(ctx, d, wake)
}

func sleepCtx(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	case <-wake:
		return nil
	}
}

// candidates returns ticket ids from the ticket query followed by the ready
// list, deduplicated, in order.
func (s *Scheduler) candidates(ctx context.Context) ([]string, error) {
	out, err := s.Shell.Output(ctx, s.Config.TicketQuery)
	if err != nil {
		return nil, fmt.Errorf("ticket query: %w", err)
	}
	ids := bridge.ParseIDs(out)
	if s.Ready == nil {
		return ids, nil
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	ready, err := s.Ready.Ready(ctx)
	if err != nil {
		log.Printf("ralph: ready list: %v", err)
		return ids, nil
	}
	for _, id := range ready {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// selectTickets returns up to limit dispatchable tickets. Tickets at their
// retry cap are added to the skip set and reported once.
func (s *Scheduler) selectTickets(ctx context.Context, limit int) ([]string, error) {
	s.init()
	ids, err := s.candidates(ctx)
	if err != nil {
		return nil, err
	}
	limitCap := s.RetryCap()

	var picked []string
	for _, id := range ids {
		if len(picked) >= limit {
			break
		}
		s.mu.Lock()
		excluded := s.skipped[id] || s.inFlight[id] || s.previewed[id]
		s.mu.Unlock()
		if excluded {
			continue
		}

		st := s.openStore(id)
		if st.ShouldSkip(limitCap) {
			s.mu.Lock()
			s.skipped[id] = true
			s.mu.Unlock()
			log.Printf("ralph: skipping %s: %d blocked attempts (cap %d)", id, st.RetryCount(), limitCap)
			s.event(ctx, eventlog.TypeSkip, id, "", map[string]any{"retryCount": st.RetryCount(), "cap": limitCap})
			continue
		}
		picked = append(picked, id)
	}
	return picked, nil
}

// chooseTrigger picks why the next attempt is starting. manual marks a
// ticket the user named explicitly.
func chooseTrigger(st *retrystate.State, manual bool) retrystate.Trigger {
	last := st.Last()
	switch {
	case last == nil:
		return retrystate.TriggerInitial
	case last.Status == retrystate.AttemptBlocked && manual:
		return retrystate.TriggerManualRetry
	case last.Status == retrystate.AttemptBlocked:
		return retrystate.TriggerQualityGate
	default:
		return retrystate.TriggerRalphRetry
	}
}

func (s *Scheduler) invocation(ticket string, overrides escalation.Overrides) bridge.Invocation {
	inv := bridge.Invocation{
		Workflow:    s.Config.Workflow,
		Ticket:      ticket,
		Flags:       s.Config.WorkflowFlags,
		CaptureJSON: s.Config.CaptureJSON,
		Env:         overrides.Env(),
	}
	if inv.CaptureJSON {
		inv.LogPath = filepath.Join(s.ProjectRoot, protocol.RalphDir, protocol.RalphLogsDir, ticket+".jsonl")
	}
	return inv
}

// Dispatch runs one attempt of ticket: start or resume the attempt, run the
// Agent Runtime, judge the artifacts and complete the attempt. In dry-run
// mode it prints the command and touches nothing.
func (s *Scheduler) Dispatch(ctx context.Context, ticket, workerID string) (*Outcome, error) {
	return s.dispatch(ctx, ticket, workerID, false)
}

func (s *Scheduler) dispatch(ctx context.Context, ticket, workerID string, manual bool) (*Outcome, error) {
	st := s.openStore(ticket)
	snap := st.Snapshot()
	trigger := chooseTrigger(snap, manual)
	overrides := escalation.ResolveNext(s.Escalation, s.BaseModels, st)
	inv := s.invocation(ticket, overrides)
	outcome := &Outcome{Ticket: ticket, Trigger: trigger, Command: s.Runtime.CommandString(inv)}

	if s.DryRun {
		outcome.Attempt = st.NextAttemptNumber()
		s.init()
		s.mu.Lock()
		s.previewed[ticket] = true
		s.mu.Unlock()
		fmt.Fprintln(s.out(), outcome.Command)
		s.event(ctx, eventlog.TypeDispatch, ticket, workerID, map[string]any{"dryRun": true, "command": outcome.Command})
		return outcome, nil
	}

	var qg *retrystate.QualityGate
	if last := snap.Last(); last != nil && last.Status == retrystate.AttemptBlocked {
		dir := s.ArtifactDir(ticket)
		gate := qualitygate.DetectQualityGateBlocked(dir, s.FailOn)
		counts := gate.Counts
		if gate.Source != qualitygate.SourceCloseSummary {
			counts, _ = qualitygate.GetQualityGateCounts(dir)
		}
		qg = retrystate.NewQualityGate(s.FailOn, counts)
	}
	before := verdictStamps(s.ArtifactDir(ticket))
	n, err := st.StartAttempt(trigger, qg, overrides.Record())
	if err != nil {
		return nil, fmt.Errorf("start attempt for %s: %w", ticket, err)
	}
	if err := st.Save(); err != nil {
		return nil, fmt.Errorf("save retry state for %s: %w", ticket, err)
	}
	outcome.Attempt = n
	s.event(ctx, eventlog.TypeDispatch, ticket, workerID, map[string]any{
		"attempt": n, "trigger": trigger, "command": outcome.Command,
	})

	code, runErr := s.Runtime.Run(ctx, inv)
	outcome.ExitCode = code
	s.event(ctx, eventlog.TypeExit, ticket, workerID, map[string]any{"attempt": n, "exitCode": code})

	outcome.Status, outcome.Gate = s.judge(ticket, before, runErr)
	ref := ""
	if outcome.Status == retrystate.AttemptClosed {
		ref = protocol.CloseSummaryFile
	}
	if err := st.CompleteAttempt(outcome.Status, ref); err != nil {
		return outcome, fmt.Errorf("complete attempt for %s: %w", ticket, err)
	}
	if err := st.Save(); err != nil {
		return outcome, fmt.Errorf("save retry state for %s: %w", ticket, err)
	}
	s.event(ctx, eventlog.TypeGate, ticket, workerID, map[string]any{
		"attempt": n, "status": outcome.Status, "source": outcome.Gate.Source, "blocked": outcome.Gate.Blocked,
		"retryCount": st.RetryCount(),
	})

	if runErr != nil {
		return outcome, fmt.Errorf("run %s: %w", ticket, runErr)
	}
	return outcome, nil
}

// judge classifies a finished attempt from the artifacts it wrote. Verdict
// files left unchanged since before belong to an earlier attempt, so the
// attempt completes as an error rather than inheriting their verdict.
func (s *Scheduler) judge(ticket string, before map[string]fileStamp, runErr error) (retrystate.AttemptStatus, qualitygate.Result) {
	dir := s.ArtifactDir(ticket)
	if !freshVerdict(dir, before) {
		return retrystate.AttemptError, qualitygate.Result{Source: qualitygate.SourceNone, Counts: artifact.NewCounts()}
	}
	gate := qualitygate.DetectQualityGateBlocked(dir, s.FailOn)
	if runErr != nil {
		return retrystate.AttemptError, gate
	}
	if gate.Blocked {
		return retrystate.AttemptBlocked, gate
	}
	if artifact.DetectCloseStatus(dir).Success {
		return retrystate.AttemptClosed, gate
	}
	return retrystate.AttemptError, gate
}

// RunOnce dispatches ticket, or the next selectable ticket when ticket is
// empty. Retrying a named ticket after a blocked attempt records a
// manual_retry trigger.
func (s *Scheduler) RunOnce(ctx context.Context, ticket string) (*Outcome, error) {
	manual := ticket != ""
	if ticket == "" {
		picked, err := s.selectTickets(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(picked) == 0 {
			return nil, ErrNoTicket
		}
		ticket = picked[0]
	}
	s.event(ctx, eventlog.TypeSelect, ticket, "", nil)
	return s.dispatch(ctx, ticket, "", manual)
}

// Run executes the loop until the backlog drains, MaxIterations is reached,
// or ctx is cancelled at a sleep boundary. With Config.Parallel > 1 it runs
// the worker pool instead.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	s.init()
	s.event(ctx, eventlog.TypeSessionStart, "", "", map[string]any{
		"maxIterations": s.Config.MaxIterations, "parallel": s.Config.Parallel, "dryRun": s.DryRun,
	})

	var (
		sum *Summary
		err error
	)
	if s.Config.Parallel > 1 {
		sum, err = s.runParallel(ctx, s.Config.Parallel)
	} else {
		sum, err = s.runSequential(ctx)
	}
	sum.Skipped = s.SkippedTickets()

	if err == nil && s.Config.PromiseOnComplete {
		fmt.Fprintln(s.out(), Promise)
		s.event(ctx, eventlog.TypeComplete, "", "", map[string]any{
			"iterations": sum.Iterations, "drained": sum.Drained,
		})
	}
	s.event(context.WithoutCancel(ctx), eventlog.TypeSessionEnd, "", "", map[string]any{
		"iterations": sum.Iterations, "dispatched": sum.Dispatched,
	})
	return sum, err
}

func (s *Scheduler) runSequential(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	for sum.Iterations < s.Config.MaxIterations {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Iterations++

		picked, err := s.selectTickets(ctx, 1)
		if err != nil {
			log.Printf("ralph: %v", err)
			s.event(ctx, eventlog.TypeError, "", "", map[string]any{"error": err.Error()})
			if err := s.sleep(ctx, s.Config.SleepBetweenRetries, nil); err != nil {
				return sum, err
			}
			continue
		}

		if len(picked) == 0 {
			drained, err := s.drained(ctx)
			if err != nil {
				return sum, err
			}
			if drained {
				sum.Drained = true
				return sum, nil
			}
			if err := s.sleep(ctx, s.Config.SleepBetweenRetries, s.Wake); err != nil {
				return sum, err
			}
			continue
		}

		ticket := picked[0]
		s.event(ctx, eventlog.TypeSelect, ticket, "", map[string]any{"iteration": sum.Iterations})
		sum.Dispatched++
		outcome, err := s.Dispatch(ctx, ticket, "")
		if err != nil {
			log.Printf("ralph: %v", err)
			s.event(ctx, eventlog.TypeError, ticket, "", map[string]any{"error": err.Error()})
		} else if outcome.ExitCode != 0 {
			log.Printf("ralph: %s exited %d", ticket, outcome.ExitCode)
		}

		if err := s.sleep(ctx, s.Config.SleepBetweenTickets, nil); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// drained runs the completion check. The check succeeds while ready
// tickets remain, so failure means the backlog is empty. A dry run is
// drained once every selectable ticket has been previewed.
func (s *Scheduler) drained(ctx context.Context) (bool, error) {
	if s.DryRun {
		return true, nil
	}
	remaining, err := s.Shell.Succeeds(ctx, s.Config.CompletionCheck)
	if err != nil {
		return false, err
	}
	return !remaining, nil
}

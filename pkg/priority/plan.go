package priority

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"ticketflow/pkg/frontmatter"
	"ticketflow/pkg/protocol"
)

// ForcedDefault is the priority --force assigns when no rubric rule matches.
const ForcedDefault = P2

// Action is what Plan decided for a ticket.
type Action string

// Action constants.
const (
	ActionChange      Action = "change"
	ActionUnchanged   Action = "unchanged"
	ActionSkipClosed  Action = "skip-closed"
	ActionSkipUnknown Action = "skip-unknown"
	ActionCapped      Action = "capped"
)

// Options control which classifications become file writes.
type Options struct {
	IncludeClosed bool
	Force         bool
	// MaxChanges caps the number of writes; 0 means no cap.
	MaxChanges int
}

// Decision is the plan entry for one ticket.
type Decision struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Path       string   `json:"path,omitempty"`
	Current    Priority `json:"current"`
	CurrentRaw string   `json:"currentRaw,omitempty"`
	Proposed   Priority `json:"proposed"`
	Rationale  string   `json:"rationale"`
	Source     Source   `json:"source"`
	Action     Action   `json:"action"`
	Applied    bool     `json:"applied"`
	Error      string   `json:"error,omitempty"`
}

// Plan classifies every ticket and decides whether it should be written.
// Reclassifications beyond MaxChanges are marked ActionCapped and still
// returned so they can be reported.
func Plan(r Rubric, tickets []protocol.Ticket, opts Options) []Decision {
	out := make([]Decision, 0, len(tickets))
	changes := 0
	for _, t := range tickets {
		c := Classify(r, t)
		cur, _ := ParsePriority(t.Priority)
		d := Decision{
			ID:         t.ID,
			Title:      t.Title,
			Path:       t.Path,
			Current:    cur,
			CurrentRaw: t.Priority,
			Proposed:   c.Priority,
			Rationale:  c.Rationale,
			Source:     c.Source,
		}

		if d.Proposed == Unknown && opts.Force {
			d.Proposed = ForcedDefault
			d.Rationale = fmt.Sprintf("%s; forced default %s", c.Rationale, ForcedDefault)
		}

		switch {
		case t.IsClosed() && !opts.IncludeClosed:
			d.Action = ActionSkipClosed
		case d.Proposed == Unknown:
			d.Action = ActionSkipUnknown
		case d.Proposed == d.Current:
			d.Action = ActionUnchanged
		case opts.MaxChanges > 0 && changes >= opts.MaxChanges:
			d.Action = ActionCapped
		default:
			d.Action = ActionChange
			changes++
		}
		out = append(out, d)
	}
	return out
}

// Changes returns the decisions that will be written.
func Changes(ds []Decision) []Decision {
	var out []Decision
	for _, d := range ds {
		if d.Action == ActionChange {
			out = append(out, d)
		}
	}
	return out
}

// Apply rewrites the ticket file of every ActionChange decision. Failures
// are recorded per decision and joined into the returned error; other
// tickets are still written.
func Apply(ds []Decision, now time.Time) ([]Decision, error) {
	out := make([]Decision, len(ds))
	copy(out, ds)

	var errs []error
	for i := range out {
		d := &out[i]
		if d.Action != ActionChange {
			continue
		}
		if err := applyOne(d, now); err != nil {
			d.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, err))
			continue
		}
		d.Applied = true
	}
	return out, errors.Join(errs...)
}

func applyOne(d *Decision, now time.Time) error {
	if d.Path == "" {
		return errors.New("ticket file path unknown")
	}
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return fmt.Errorf("read ticket: %w", err)
	}
	updated := EditTicket(string(data), d.Proposed, d.Rationale, now)
	if err := atomic.WriteFile(d.Path, strings.NewReader(updated)); err != nil {
		return fmt.Errorf("write ticket: %w", err)
	}
	return nil
}

// EditTicket sets the frontmatter priority and appends an audit note under
// "## Notes". Nothing else in the frontmatter changes, and the presence or
// absence of a trailing newline is kept.
func EditTicket(content string, p Priority, reason string, now time.Time) string {
	doc := frontmatter.Parse(content)
	oldRaw, _ := doc.Get("priority")
	old := "unknown"
	if op, ok := ParsePriority(oldRaw); ok {
		old = op.String()
	}

	doc.Set(frontmatter.Field{Key: "priority", Value: formatLike(p, oldRaw)})

	reason = strings.TrimSuffix(strings.TrimSpace(reason), ".")
	note := fmt.Sprintf("- Priority reclassified: %s → %s (%s). Reason: %s.",
		old, p, now.Format("2006-01-02"), reason)
	doc.Body = AppendNote(doc.Body, note)

	out := doc.Render()
	if !strings.HasSuffix(content, "\n") {
		out = strings.TrimRight(out, "\n")
	}
	return out
}

var notesHeadingRe = regexp.MustCompile(`(?i)^##[ \t]+notes[ \t]*$`)

// AppendNote adds line as the last item of the body's "## Notes" section,
// creating the section at the end when it does not exist.
func AppendNote(body, line string) string {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	start := -1
	for i, l := range lines {
		if notesHeadingRe.MatchString(strings.TrimRight(l, "\r")) {
			start = i
			break
		}
	}
	if start < 0 {
		trimmed := strings.TrimRight(body, "\n")
		if trimmed == "" {
			return "## Notes\n\n" + line + "\n"
		}
		return trimmed + "\n\n## Notes\n\n" + line + "\n"
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "# ") || strings.HasPrefix(lines[i], "## ") {
			end = i
			break
		}
	}
	insert := end
	for insert > start+1 && strings.TrimSpace(lines[insert-1]) == "" {
		insert--
	}

	merged := make([]string, 0, len(lines)+1)
	merged = append(merged, lines[:insert]...)
	if insert == start+1 {
		merged = append(merged, "")
	}
	merged = append(merged, line)
	merged = append(merged, lines[insert:]...)
	return strings.Join(merged, "\n") + "\n"
}

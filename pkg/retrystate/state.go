// Package retrystate persists per-ticket attempt history in
// <artifact_dir>/retry-state.json.
package retrystate

import (
	"errors"

	"ticketflow/pkg/artifact"
)

// SchemaVersion is the only retry-state.json version this package loads.
const SchemaVersion = 1

// TimeFormat is the layout of every persisted timestamp.
const TimeFormat = "2006-01-02T15:04:05Z"

// AttemptStatus is the outcome of a single attempt.
type AttemptStatus string

// Attempt status constants.
const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptBlocked    AttemptStatus = "blocked"
	AttemptClosed     AttemptStatus = "closed"
	AttemptError      AttemptStatus = "error"
)

// Trigger records why an attempt was started.
type Trigger string

// Trigger constants.
const (
	TriggerInitial     Trigger = "initial"
	TriggerQualityGate Trigger = "quality_gate"
	TriggerManualRetry Trigger = "manual_retry"
	TriggerRalphRetry  Trigger = "ralph_retry"
)

// Status is the aggregate state of a ticket across attempts.
type Status string

// Aggregate status constants.
const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
	StatusClosed  Status = "closed"
)

var (
	// ErrMalformed reports a retry-state.json that is not valid JSON or lacks
	// a required field.
	ErrMalformed = errors.New("retry state malformed")

	// ErrSchemaMismatch reports a retry-state.json with an unsupported version.
	ErrSchemaMismatch = errors.New("retry state schema version mismatch")

	// ErrNoAttemptInProgress is returned by CompleteAttempt when there is no
	// open attempt to complete.
	ErrNoAttemptInProgress = errors.New("no attempt in progress")
)

// QualityGate is the gate snapshot recorded on an attempt.
type QualityGate struct {
	FailOn []artifact.Severity       `json:"failOn"`
	Counts map[artifact.Severity]int `json:"counts"`
}

// Escalation records the model overrides an attempt ran with.
type Escalation struct {
	Fixer                 *string `json:"fixer,omitempty"`
	ReviewerSecondOpinion *string `json:"reviewerSecondOpinion,omitempty"`
	Worker                *string `json:"worker,omitempty"`
}

// Attempt is one dispatch of a ticket to the Agent Runtime.
type Attempt struct {
	AttemptNumber   int           `json:"attemptNumber"`
	StartedAt       string        `json:"startedAt"`
	CompletedAt     string        `json:"completedAt,omitempty"`
	Status          AttemptStatus `json:"status"`
	Trigger         Trigger       `json:"trigger"`
	QualityGate     *QualityGate  `json:"qualityGate,omitempty"`
	Escalation      *Escalation   `json:"escalation,omitempty"`
	CloseSummaryRef string        `json:"closeSummaryRef,omitempty"`
}

// State is the persisted document.
type State struct {
	Version       int       `json:"version"`
	TicketID      string    `json:"ticketId"`
	Attempts      []Attempt `json:"attempts"`
	LastAttemptAt string    `json:"lastAttemptAt,omitempty"`
	Status        Status    `json:"status"`
	RetryCount    int       `json:"retryCount"`
}

// New returns an empty state for ticketID.
func New(ticketID string) *State {
	return &State{
		Version:  SchemaVersion,
		TicketID: ticketID,
		Attempts: []Attempt{},
		Status:   StatusActive,
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := *s
	out.Attempts = make([]Attempt, len(s.Attempts))
	for i, a := range s.Attempts {
		out.Attempts[i] = a.clone()
	}
	return &out
}

func (a Attempt) clone() Attempt {
	if a.QualityGate != nil {
		qg := &QualityGate{
			FailOn: append([]artifact.Severity(nil), a.QualityGate.FailOn...),
			Counts: make(map[artifact.Severity]int, len(a.QualityGate.Counts)),
		}
		for k, v := range a.QualityGate.Counts {
			qg.Counts[k] = v
		}
		a.QualityGate = qg
	}
	if a.Escalation != nil {
		esc := *a.Escalation
		a.Escalation = &esc
	}
	return a
}

// Last returns the most recent attempt, or nil when there are none.
func (s *State) Last() *Attempt {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}

// InProgress returns the trailing in-progress attempt, or nil.
func (s *State) InProgress() *Attempt {
	if last := s.Last(); last != nil && last.Status == AttemptInProgress {
		return last
	}
	return nil
}

// NewQualityGate snapshots counts for failOn into an attempt record.
func NewQualityGate(failOn []artifact.Severity, counts artifact.Counts) *QualityGate {
	qg := &QualityGate{
		FailOn: append([]artifact.Severity(nil), failOn...),
		Counts: make(map[artifact.Severity]int, len(artifact.AllSeverities)),
	}
	for _, s := range artifact.AllSeverities {
		qg.Counts[s] = counts.Get(s)
	}
	return qg
}

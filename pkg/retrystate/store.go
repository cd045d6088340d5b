package retrystate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"ticketflow/pkg/protocol"
)

// Store owns the retry state of one ticket for the lifetime of a process.
// In-memory state is authoritative; every mutation is persisted before the
// mutating call returns. A Store is not safe for concurrent use.
type Store struct {
	dir     string
	state   *State
	loadErr error

	// quarantine is set when the file on disk failed to load; the first save
	// moves it aside instead of overwriting it.
	quarantine bool

	nowFunc   func() time.Time
	lastStamp time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the clock used for timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// Path returns the retry-state.json path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, protocol.RetryStateFile)
}

// Load reads <dir>/retry-state.json. It returns (nil, nil) when the file does
// not exist, and an error wrapping ErrMalformed or ErrSchemaMismatch when the
// file cannot be used. Callers treat any error as "absent".
func Load(dir string) (*State, error) {
	data, err := os.ReadFile(Path(dir)) //nolint:gosec // path built from artifact dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read retry state: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (*State, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, key := range []string{"version", "ticketId", "status"} {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformed, key)
		}
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if st.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, st.Version, SchemaVersion)
	}
	if st.TicketID == "" {
		return nil, fmt.Errorf("%w: empty ticketId", ErrMalformed)
	}
	if st.Attempts == nil {
		st.Attempts = []Attempt{}
	}
	return &st, nil
}

// Open loads the state in dir, or starts an empty one for ticketID when the
// file is absent or unusable. The load problem, if any, is kept in LoadErr.
func Open(dir, ticketID string, opts ...Option) *Store {
	s := &Store{dir: dir, nowFunc: time.Now}
	for _, o := range opts {
		o(s)
	}

	st, err := Load(dir)
	switch {
	case err != nil:
		s.loadErr = err
		s.quarantine = true
		s.state = New(ticketID)
	case st == nil:
		s.state = New(ticketID)
	default:
		s.state = st
		s.lastStamp = latestStamp(st)
	}
	return s
}

// latestStamp returns the newest parseable timestamp in st.
func latestStamp(st *State) time.Time {
	var latest time.Time
	consider := func(v string) {
		if v == "" {
			return
		}
		if t, err := time.Parse(TimeFormat, v); err == nil && t.After(latest) {
			latest = t
		}
	}
	consider(st.LastAttemptAt)
	for _, a := range st.Attempts {
		consider(a.StartedAt)
		consider(a.CompletedAt)
	}
	return latest
}

// Dir returns the artifact directory this store writes into.
func (s *Store) Dir() string { return s.dir }

// LoadErr returns the error encountered when opening, if any.
func (s *Store) LoadErr() error { return s.loadErr }

// stamp returns the current UTC time, clamped so it never precedes an
// earlier stamp.
func (s *Store) stamp() string {
	t := s.nowFunc().UTC().Truncate(time.Second)
	if t.Before(s.lastStamp) {
		t = s.lastStamp
	}
	s.lastStamp = t
	return t.Format(TimeFormat)
}

// StartAttempt opens an attempt and returns its number. When the last
// attempt is still in progress, from a crash or an interrupted run, it is
// resumed: its trigger is replaced, qg and esc replace the recorded values
// when non-nil, and no new attempt is appended.
func (s *Store) StartAttempt(trigger Trigger, qg *QualityGate, esc *Escalation) (int, error) {
	if cur := s.state.InProgress(); cur != nil {
		cur.Trigger = trigger
		if qg != nil {
			cur.QualityGate = qg
		}
		if esc != nil {
			cur.Escalation = esc
		}
		return cur.AttemptNumber, s.Save()
	}

	now := s.stamp()
	n := len(s.state.Attempts) + 1
	s.state.Attempts = append(s.state.Attempts, Attempt{
		AttemptNumber: n,
		StartedAt:     now,
		Status:        AttemptInProgress,
		Trigger:       trigger,
		QualityGate:   qg,
		Escalation:    esc,
	})
	s.state.LastAttemptAt = now
	s.state.Status = StatusActive
	return n, s.Save()
}

// CompleteAttempt closes the in-progress attempt. closed resets the retry
// counter and marks the ticket closed; blocked increments it; error leaves
// it unchanged.
func (s *Store) CompleteAttempt(status AttemptStatus, closeSummaryRef string) error {
	cur := s.state.InProgress()
	if cur == nil {
		return fmt.Errorf("complete attempt for %s: %w", s.state.TicketID, ErrNoAttemptInProgress)
	}
	switch status {
	case AttemptClosed, AttemptBlocked, AttemptError:
	default:
		return fmt.Errorf("complete attempt: invalid status %q", status)
	}

	now := s.stamp()
	cur.CompletedAt = now
	cur.Status = status
	if closeSummaryRef != "" {
		cur.CloseSummaryRef = closeSummaryRef
	}
	s.state.LastAttemptAt = now

	switch status {
	case AttemptClosed:
		s.state.Status = StatusClosed
		s.state.RetryCount = 0
	case AttemptBlocked:
		s.state.Status = StatusActive
		s.state.RetryCount++
	default:
		s.state.Status = StatusActive
	}
	return s.Save()
}

// IsBlocked reports whether the most recent attempt ended blocked.
func (s *Store) IsBlocked() bool {
	last := s.state.Last()
	return last != nil && last.Status == AttemptBlocked
}

// RetryCount returns the number of blocked attempts since the last close.
func (s *Store) RetryCount() int { return s.state.RetryCount }

// AttemptNumber returns the number of the most recent attempt, 0 if none.
func (s *Store) AttemptNumber() int {
	if last := s.state.Last(); last != nil {
		return last.AttemptNumber
	}
	return 0
}

// NextAttemptNumber returns the number the next StartAttempt call will use:
// the in-progress attempt's number when one is open, else last+1.
func (s *Store) NextAttemptNumber() int {
	if cur := s.state.InProgress(); cur != nil {
		return cur.AttemptNumber
	}
	return s.AttemptNumber() + 1
}

// ShouldSkip reports whether the retry counter has reached maxRetries.
func (s *Store) ShouldSkip(maxRetries int) bool {
	return s.state.RetryCount >= maxRetries
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *State { return s.state.Clone() }

// Reset discards all history. With backup, the current file (if any) is
// first copied to retry-state.json.bak.<UTC timestamp>.
func (s *Store) Reset(backup bool) error {
	if backup {
		if _, err := s.backup(); err != nil {
			return err
		}
	}
	s.quarantine = false
	s.loadErr = nil
	s.state = New(s.state.TicketID)
	return s.Save()
}

// backup copies the current file aside and returns the backup path, or ""
// when there was nothing to copy.
func (s *Store) backup() (string, error) {
	data, err := os.ReadFile(Path(s.dir)) //nolint:gosec // path built from artifact dir
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read retry state for backup: %w", err)
	}
	dst := s.backupPath()
	if err := atomic.WriteFile(dst, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write retry state backup: %w", err)
	}
	return dst, nil
}

func (s *Store) backupPath() string {
	ts := s.nowFunc().UTC().Format("20060102T150405Z")
	return filepath.Join(s.dir, protocol.RetryStateBackupStem+ts)
}

// Save writes the state atomically. A file that failed to load is moved to
// a backup name first so it is never clobbered.
func (s *Store) Save() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil { //nolint:gosec // artifact dirs are shared with the agent runtime
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if s.quarantine {
		if err := os.Rename(Path(s.dir), s.backupPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("move aside unreadable retry state: %w", err)
		}
		s.quarantine = false
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal retry state: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(Path(s.dir), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write retry state: %w", err)
	}
	return nil
}

// Entry is one retry-state.json found by Scan.
type Entry struct {
	Dir   string
	State *State
	Err   error
}

// Scan walks root and loads every retry-state.json beneath it.
func Scan(root string) ([]Entry, error) {
	var out []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || d.Name() != protocol.RetryStateFile {
			return nil
		}
		dir := filepath.Dir(path)
		st, lerr := Load(dir)
		out = append(out, Entry{Dir: dir, State: st, Err: lerr})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan retry states: %w", err)
	}
	return out, nil
}

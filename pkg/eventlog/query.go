// Package eventlog records Ralph scheduler events in a SQLite database under
// .tf/ralph and reads them back for tf ralph log.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ticketflow/pkg/protocol"
)

// sqliteTime is the layout of CURRENT_TIMESTAMP.
const sqliteTime = "2006-01-02 15:04:05"

// Event is one row of the Ralph log. Source is the session id of the
// tf ralph process that wrote it.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	TicketID  string    `json:"ticketId"`
	WorkerID  string    `json:"workerId,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Ticket  string
	Session string
	Type    string
	// Attempt matches events whose payload carries this attempt number.
	Attempt int
	Since   time.Time
	Until   time.Time
	Limit   int
}

// where renders f as a SQL condition and its arguments.
func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.Ticket != "" {
		add("ticket_id = ?", f.Ticket)
	}
	if f.Session != "" {
		add("source = ?", f.Session)
	}
	if f.Type != "" {
		add("type = ?", f.Type)
	}
	if f.Attempt > 0 {
		add("CASE WHEN json_valid(payload) THEN json_extract(payload, '$.attempt') END = ?", f.Attempt)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since.UTC().Format(sqliteTime))
	}
	if !f.Until.IsZero() {
		add("created_at <= ?", f.Until.UTC().Format(sqliteTime))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Session summarises the events written by one tf ralph process.
type Session struct {
	ID      string
	Start   time.Time
	End     time.Time
	Events  int
	Tickets int
}

// Reader reads the event log without blocking a running loop.
type Reader struct {
	db *sql.DB
}

// NewReader opens dbPath read-only. A missing file is an error.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close releases the database. It may be called more than once.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Query returns the events matching f, newest first.
func (r *Reader) Query(ctx context.Context, f Filter) ([]Event, error) {
	cond, args := f.where()
	q := "SELECT id, type, source, ticket_id, worker_id, payload, created_at FROM events" + cond + " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                       Event
			ticket, worker, payload sql.NullString
			created                 string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &ticket, &worker, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.TicketID, e.WorkerID, e.Payload = ticket.String, worker.String, payload.String
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions lists the recorded tf ralph sessions, most recent first.
func (r *Reader) Sessions(ctx context.Context, limit int) ([]Session, error) {
	q := `SELECT source, MIN(created_at), MAX(created_at), COUNT(*),
		COUNT(DISTINCT NULLIF(ticket_id, ''))
		FROM events GROUP BY source ORDER BY MAX(id) DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s          Session
			start, end string
		)
		if err := rows.Scan(&s.ID, &start, &end, &s.Events, &s.Tickets); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if s.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if s.End, err = parseTime(end); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// parseTime reads a created_at value. The driver may hand back either the
// CURRENT_TIMESTAMP layout or RFC 3339.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{sqliteTime, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse created_at %q", s)
}

// DBPath returns the event log path for a project.
func DBPath(projectRoot string) string {
	return filepath.Join(projectRoot, protocol.RalphDir, protocol.RalphDBFile)
}

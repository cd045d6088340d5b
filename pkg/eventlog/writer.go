package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"ticketflow/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// Event types recorded by the Ralph scheduler.
const (
	TypeSessionStart = "session_start"
	TypeSessionEnd   = "session_end"
	TypeSelect       = "select"
	TypeSkip         = "skip"
	TypeDispatch     = "dispatch"
	TypeExit         = "exit"
	TypeGate         = "gate"
	TypeComplete     = "complete"
	TypeError        = "error"
)

// Writer appends events to the Ralph event log. It is safe for concurrent
// use by the parallel worker pool.
type Writer struct {
	db     *sql.DB
	source string
}

// OpenWriter opens (creating if needed) the event log at dbPath with WAL
// journaling and a 5-second busy timeout, and applies the schema. source is
// stamped on every event, normally the session id.
func OpenWriter(dbPath, source string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil { //nolint:gosec // state dir is user-readable
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One connection serialises writers from the worker pool; busy_timeout
	// covers a concurrent tf ralph log reader.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", protocol.SchemaDDL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init event log %s: %w", dbPath, err)
		}
	}
	return &Writer{db: db, source: source}, nil
}

// Log appends one event.
func (w *Writer) Log(ctx context.Context, evType, ticketID, workerID, payload string) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO events (type, source, ticket_id, worker_id, payload) VALUES (?, ?, ?, ?, ?)`,
		evType, w.source, ticketID, workerID, payload)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

package protocol

// SchemaDDL defines the SQLite schema for the Ralph event log.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Scheduler event log: selection, dispatch, runtime exit, gate outcomes
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    ticket_id TEXT,
    worker_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_ticket ON events(ticket_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

package eventlog_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ticketflow/pkg/eventlog"
)

// setupTestDB writes a handful of scheduler events through a Writer.
func setupTestDB(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), ".tf", "ralph", "ralph.db")
	w, err := eventlog.OpenWriter(dbPath, "session-1")
	if err != nil {
		t.Fatalf("OpenWriter failed: %v", err)
	}
	defer w.Close()

	events := []struct {
		evType   string
		ticketID string
		workerID string
		payload  string
	}{
		{eventlog.TypeSessionStart, "", "", `{"maxIterations":50}`},
		{eventlog.TypeSelect, "abc-1", "", ""},
		{eventlog.TypeDispatch, "abc-1", "w1", `{"attempt":1}`},
		{eventlog.TypeGate, "abc-1", "w1", `{"attempt":1,"blocked":true}`},
		{eventlog.TypeDispatch, "abc-1", "w1", `{"attempt":2}`},
		{eventlog.TypeDispatch, "def-2", "w2", `{"attempt":1}`},
		{eventlog.TypeComplete, "", "", ""},
	}
	ctx := context.Background()
	for _, e := range events {
		if err := w.Log(ctx, e.evType, e.ticketID, e.workerID, e.payload); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}
	return dbPath
}

func openReader(t *testing.T, dbPath string) *eventlog.Reader {
	t.Helper()
	reader, err := eventlog.NewReader(dbPath)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	t.Cleanup(func() { reader.Close() })
	return reader
}

func TestNewReader_MissingDB(t *testing.T) {
	reader, err := eventlog.NewReader(filepath.Join(t.TempDir(), "missing.db"))
	if err == nil {
		reader.Close()
		t.Fatal("expected error for missing database")
	}
}

func TestQuery_ByTicket(t *testing.T) {
	reader := openReader(t, setupTestDB(t))

	events, err := reader.Query(context.Background(), eventlog.Filter{Ticket: "abc-1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events for abc-1, got %d", len(events))
	}
	// Newest first.
	if events[0].Type != eventlog.TypeDispatch || events[1].Type != eventlog.TypeGate {
		t.Errorf("order = %s, %s; want dispatch, gate", events[0].Type, events[1].Type)
	}
	if events[0].Source != "session-1" || events[0].WorkerID != "w1" {
		t.Errorf("event = %+v", events[0])
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}
}

func TestQuery_FilterByTypeAndLimit(t *testing.T) {
	reader := openReader(t, setupTestDB(t))
	ctx := context.Background()

	events, err := reader.Query(ctx, eventlog.Filter{Type: eventlog.TypeDispatch})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 dispatch events, got %d", len(events))
	}

	events, err = reader.Query(ctx, eventlog.Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Type != eventlog.TypeComplete {
		t.Errorf("limit query = %+v", events)
	}
}

func TestQuery_ByAttempt(t *testing.T) {
	reader := openReader(t, setupTestDB(t))

	events, err := reader.Query(context.Background(), eventlog.Filter{Ticket: "abc-1", Attempt: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected dispatch and gate for attempt 1, got %+v", events)
	}
	for _, e := range events {
		if !strings.Contains(e.Payload, `"attempt":1`) {
			t.Errorf("event %s payload = %s", e.Type, e.Payload)
		}
	}
}

func TestSessions(t *testing.T) {
	dbPath := setupTestDB(t)
	w, err := eventlog.OpenWriter(dbPath, "session-2")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Log(context.Background(), eventlog.TypeSessionStart, "", "", ""); err != nil {
		t.Fatal(err)
	}
	_ = w.Close()

	ss, err := openReader(t, dbPath).Sessions(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ss) != 2 {
		t.Fatalf("sessions = %+v", ss)
	}
	if ss[0].ID != "session-2" || ss[0].Events != 1 || ss[0].Tickets != 0 {
		t.Errorf("latest session = %+v", ss[0])
	}
	if ss[1].ID != "session-1" || ss[1].Events != 7 || ss[1].Tickets != 2 {
		t.Errorf("first session = %+v", ss[1])
	}
	if ss[1].Start.IsZero() || ss[1].End.Before(ss[1].Start) {
		t.Errorf("session times = %v..%v", ss[1].Start, ss[1].End)
	}
}

func TestQuery_NullColumns(t *testing.T) {
	reader := openReader(t, setupTestDB(t))
	events, err := reader.Query(context.Background(), eventlog.Filter{Type: eventlog.TypeSessionStart})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].TicketID != "" {
		t.Errorf("session_start = %+v", events)
	}
}

func TestQuery_TimeRange(t *testing.T) {
	reader := openReader(t, setupTestDB(t))
	ctx := context.Background()

	events, err := reader.Query(ctx, eventlog.Filter{Since: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 7 {
		t.Errorf("expected 7 recent events, got %d", len(events))
	}

	events, err = reader.Query(ctx, eventlog.Filter{Until: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 old events, got %d", len(events))
	}
}

func TestWriter_ConcurrentLog(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ralph.db")
	w, err := eventlog.OpenWriter(dbPath, "s")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Log(context.Background(), eventlog.TypeDispatch, "t", string(rune('a'+i)), ""); err != nil {
				t.Errorf("Log: %v", err)
			}
		}()
	}
	wg.Wait()

	events, err := openReader(t, dbPath).Query(context.Background(), eventlog.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 8 {
		t.Errorf("expected 8 events, got %d", len(events))
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	reader, err := eventlog.NewReader(setupTestDB(t))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if err := reader.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := reader.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestDBPath(t *testing.T) {
	if got := eventlog.DBPath("/p"); got != filepath.Join("/p", ".tf", "ralph", "ralph.db") {
		t.Errorf("DBPath = %s", got)
	}
}

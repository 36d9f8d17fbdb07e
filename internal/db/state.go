package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb" // Driver
)

// Constants for event types
const (
	EventRunStart     = "run_start"
	EventRunEnd       = "run_end"
	EventSkip         = "skip"
	EventDecompileEnd = "decompile_end"
	EventError        = "error"
	RunEntry          = "*" // entry name used for run-level events
)

// Schema SQL
const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS deccp_event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS deccp_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('deccp_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    entry           VARCHAR NOT NULL,      -- archive member name, '*' for run events
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    output_path     VARCHAR,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_deccp_event_log_entry ON deccp_event_log (entry);
CREATE INDEX IF NOT EXISTS idx_deccp_event_log_event_time ON deccp_event_log (event, event_timestamp);
`

// Open opens (or creates) the DuckDB database at path, pings it and initializes the schema.
// An empty path or ":memory:" opens an in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == ":memory:" {
		path = ""
	}
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database (%s): %w", path, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping duckdb database (%s): %w", path, err)
	}
	if err := InitializeSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return conn, nil
}

// InitializeSchema creates the sequence and tables in the correct order.
func InitializeSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	_, err = db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// NewRunID returns a short identifier grouping the events of one run.
func NewRunID() string {
	return uuid.New().String()[:8]
}

// LogEntryEvent inserts a new event record into the log.
func LogEntryEvent(ctx context.Context, db *sql.DB, runID, entry, event, outputPath, message string, duration *time.Duration) error {
	query := `
        INSERT INTO deccp_event_log (run_id, entry, event, event_timestamp, output_path, message, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?);
    `
	var durationMs sql.NullInt64
	if duration != nil {
		durationMs = sql.NullInt64{Int64: duration.Milliseconds(), Valid: true}
	}

	_, err := db.ExecContext(ctx, query,
		runID,
		entry,
		event,
		time.Now().UTC(),
		sql.NullString{String: outputPath, Valid: outputPath != ""},
		sql.NullString{String: message, Valid: message != ""},
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", event, entry, err)
	}
	return nil
}

// EventLog binds the event log to a single run.
type EventLog struct {
	DB    *sql.DB
	RunID string
}

// NewEventLog returns an EventLog with a fresh run id.
func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{DB: db, RunID: NewRunID()}
}

// LogEntryEvent records an event for entry under this run.
func (l *EventLog) LogEntryEvent(ctx context.Context, entry, event, outputPath, message string, duration *time.Duration) error {
	return LogEntryEvent(ctx, l.DB, l.RunID, entry, event, outputPath, message, duration)
}

// LogRunEvent records a run-level event (start/end) against the '*' entry.
func (l *EventLog) LogRunEvent(ctx context.Context, event, message string, duration *time.Duration) error {
	return LogEntryEvent(ctx, l.DB, l.RunID, RunEntry, event, "", message, duration)
}

// Event is one row of the event log.
type Event struct {
	LogID      int64
	RunID      string
	Entry      string
	Event      string
	Timestamp  time.Time
	OutputPath string
	Message    string
	DurationMs sql.NullInt64
}

// EventFilter narrows ListEvents. Zero values mean no filter; Limit <= 0 means no limit.
type EventFilter struct {
	Entry string
	Event string
	RunID string
	Limit int
}

// ListEvents returns matching events, newest first.
func ListEvents(ctx context.Context, db *sql.DB, filter EventFilter) ([]Event, error) {
	query := `
        SELECT log_id, run_id, entry, event, event_timestamp, output_path, message, duration_ms
        FROM deccp_event_log
    `
	conditions := []string{}
	args := []any{}
	if filter.Entry != "" {
		conditions = append(conditions, "entry = ?")
		args = append(args, filter.Entry)
	}
	if filter.Event != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, filter.Event)
	}
	if filter.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY event_timestamp DESC, log_id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var outputPath, message sql.NullString
		if err := rows.Scan(&ev.LogID, &ev.RunID, &ev.Entry, &ev.Event, &ev.Timestamp, &outputPath, &message, &ev.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan event log row: %w", err)
		}
		ev.OutputPath = outputPath.String
		ev.Message = message.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event log rows: %w", err)
	}
	return events, nil
}

// GetLatestEntryEvent retrieves the most recent event record for a specific entry.
func GetLatestEntryEvent(ctx context.Context, db *sql.DB, entry string) (Event, bool, error) {
	events, err := ListEvents(ctx, db, EventFilter{Entry: entry, Limit: 1})
	if err != nil {
		return Event{}, false, fmt.Errorf("failed query latest event for '%s': %w", entry, err)
	}
	if len(events) == 0 {
		return Event{}, false, nil
	}
	return events[0], true, nil
}

// DisplayEntryHistory prints matching events as a table.
func DisplayEntryHistory(ctx context.Context, w io.Writer, db *sql.DB, filter EventFilter) error {
	events, err := ListEvents(ctx, db, filter)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "--- Event Log History (Limit %d) ---\n", filter.Limit)
	fmt.Fprintf(w, "%-8s | %-50s | %-13s | %-25s | %-10s | %s\n", "Run", "Entry", "Event", "Timestamp (UTC)", "DurationMS", "Message/Details")
	fmt.Fprintln(w, strings.Repeat("-", 150))
	for _, ev := range events {
		durationStr := ""
		if ev.DurationMs.Valid {
			durationStr = fmt.Sprintf("%d", ev.DurationMs.Int64)
		}
		details := ev.Message
		if ev.OutputPath != "" {
			details += fmt.Sprintf(" (Output: %s)", ev.OutputPath)
		}
		fmt.Fprintf(w, "%-8s | %-50s | %-13s | %-25s | %-10s | %s\n",
			ev.RunID, ev.Entry, ev.Event, ev.Timestamp.Format(time.RFC3339), durationStr, strings.TrimSpace(details))
	}
	fmt.Fprintf(w, "Displayed %d records.\n", len(events))
	return nil
}

// CompletedEntries returns entries decompiled successfully by any run.
func (l *EventLog) CompletedEntries(ctx context.Context, logger *slog.Logger) (map[string]bool, error) {
	return GetCompletedEntries(ctx, l.DB, logger)
}

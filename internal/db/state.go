package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // Driver

	"github.com/brensch/batchfetch/internal/outcome"
)

// Event values recorded for each terminal outcome.
const (
	EventSuccess = "success"
	EventSkip    = "skip"
	EventFailure = "failure"
)

// Pipeline names.
const (
	PipelineDownload = "download"
	PipelineExtract  = "extract"
)

// EventTable is the ledger table name.
const EventTable = "batchfetch_event_log"

const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS batchfetch_event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS batchfetch_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('batchfetch_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    pipeline        VARCHAR NOT NULL,      -- 'download', 'extract'
    identifier      VARCHAR NOT NULL,      -- file name on success, URL or archive path on failure
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    size_bytes      BIGINT,
    file_count      BIGINT,
    attempts        INTEGER,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_batchfetch_event_log_run ON batchfetch_event_log (run_id, pipeline);
CREATE INDEX IF NOT EXISTS idx_batchfetch_event_log_event_time ON batchfetch_event_log (event, event_timestamp);
`

// Open opens (creating if needed) the DuckDB ledger at path and initializes
// its schema. An empty path or ":memory:" opens an in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == ":memory:" {
		path = ""
	}
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database (%s): %w", path, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping duckdb database (%s): %w", path, err)
	}
	if err := InitializeSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return conn, nil
}

// InitializeSchema creates the sequence and table in the correct order.
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

// EventFor maps an outcome to its ledger event.
func EventFor(o outcome.Outcome) string {
	switch {
	case o.IsFailure():
		return EventFailure
	case o.Skipped:
		return EventSkip
	default:
		return EventSuccess
	}
}

// LogOutcomes appends one ledger row per outcome in a single transaction.
func LogOutcomes(ctx context.Context, db *sql.DB, runID, pipeline string, outcomes []outcome.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO batchfetch_event_log (run_id, pipeline, identifier, event, event_timestamp, size_bytes, file_count, attempts, message, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `)
	if err != nil {
		return fmt.Errorf("prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, o := range outcomes {
		_, err := stmt.ExecContext(ctx,
			runID,
			pipeline,
			o.Identifier,
			EventFor(o),
			now,
			o.SizeBytes,
			o.FileCount,
			o.Attempts,
			sql.NullString{String: o.ErrorMessage, Valid: o.ErrorMessage != ""},
			o.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to log event for '%s': %w", o.Identifier, err)
		}
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close ledger insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

// HistoryFilter narrows DisplayHistory output. Empty fields match everything.
type HistoryFilter struct {
	Pipeline string
	Event    string
	RunID    string
	Limit    int
}

// DisplayHistory prints the most recent ledger rows matching f to w.
func DisplayHistory(ctx context.Context, db *sql.DB, w io.Writer, f HistoryFilter) error {
	query := `
        SELECT run_id, pipeline, identifier, event, event_timestamp, size_bytes, file_count, attempts, duration_ms, message
        FROM batchfetch_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1

	for _, c := range []struct{ col, val string }{
		{"pipeline", f.Pipeline},
		{"event", f.Event},
		{"run_id", f.RunID},
	} {
		if c.val == "" {
			continue
		}
		conditions = append(conditions, fmt.Sprintf("%s = $%d", c.col, argCounter))
		args = append(args, c.val)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY event_timestamp DESC, log_id DESC LIMIT $%d", argCounter)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()

	fmt.Fprintf(w, "--- Event Log History (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-8s | %-8s | %-40s | %-7s | %-25s | %-12s | %-5s | %-3s | %-8s | %s\n",
		"Run", "Pipeline", "Identifier", "Event", "Timestamp (UTC)", "Bytes", "Files", "Try", "Ms", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 150))

	count := 0
	for rows.Next() {
		var runID, pipeline, identifier, event string
		var timestamp time.Time
		var size, files, durationMs sql.NullInt64
		var attempts sql.NullInt32
		var message sql.NullString
		if err := rows.Scan(&runID, &pipeline, &identifier, &event, &timestamp, &size, &files, &attempts, &durationMs, &message); err != nil {
			return fmt.Errorf("failed to scan event log row: %w", err)
		}
		fmt.Fprintf(w, "%-8s | %-8s | %-40s | %-7s | %-25s | %-12d | %-5d | %-3d | %-8d | %s\n",
			shortID(runID), pipeline, identifier, event, timestamp.Format(time.RFC3339),
			size.Int64, files.Int64, attempts.Int32, durationMs.Int64, message.String)
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating event log rows: %w", err)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", count)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

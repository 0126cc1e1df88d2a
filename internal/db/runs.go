package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RunRecord aggregates the ledger rows of one pipeline within one run.
type RunRecord struct {
	RunID      string
	Pipeline   string
	StartedAt  time.Time
	Total      int64
	Succeeded  int64
	Skipped    int64
	Failed     int64
	TotalBytes int64
	TotalFiles int64
}

// RecentRuns returns totals per run and pipeline, newest first, at most
// limit rows.
func RecentRuns(ctx context.Context, dbConnPool *sql.DB, logger *slog.Logger, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	logger.Debug("Querying ledger for recent runs.", slog.Int("limit", limit))

	query := `
		SELECT
			run_id,
			pipeline,
			MIN(event_timestamp)                                                        AS started_at,
			COUNT(*)                                                                    AS total,
			CAST(SUM(CASE WHEN event <> ? THEN 1 ELSE 0 END) AS BIGINT)                 AS succeeded,
			CAST(SUM(CASE WHEN event = ? THEN 1 ELSE 0 END) AS BIGINT)                  AS skipped,
			CAST(SUM(CASE WHEN event = ? THEN 1 ELSE 0 END) AS BIGINT)                  AS failed,
			CAST(COALESCE(SUM(CASE WHEN event <> ? THEN size_bytes END), 0) AS BIGINT)  AS total_bytes,
			CAST(COALESCE(SUM(CASE WHEN event <> ? THEN file_count END), 0) AS BIGINT)  AS total_files
		FROM batchfetch_event_log
		GROUP BY run_id, pipeline
		ORDER BY started_at DESC, pipeline
		LIMIT ?;
	`
	rows, err := dbConnPool.QueryContext(ctx, query,
		EventFailure, EventSkip, EventFailure, EventFailure, EventFailure, limit)
	if err != nil {
		logger.Error("Failed to query recent runs.", "error", err)
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var (
		records    []RunRecord
		scanErrors error
	)
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.Pipeline, &r.StartedAt, &r.Total, &r.Succeeded, &r.Skipped, &r.Failed, &r.TotalBytes, &r.TotalFiles); err != nil {
			scanErrors = errors.Join(scanErrors, fmt.Errorf("scan run record: %w", err))
			continue
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return records, errors.Join(scanErrors, fmt.Errorf("iterate run records: %w", err))
	}

	logger.Debug("Found runs in ledger.", slog.Int("count", len(records)))
	return records, scanErrors
}

package saver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SaveTablesToParquet copies every table of the ledger database to
// outputDir/<table>.parquet and returns the written paths.
func SaveTablesToParquet(ctx context.Context, db *sql.DB, outputDir string, logger *slog.Logger) ([]string, error) {
	logger.Info("--- Starting DuckDB Table to Parquet Save Process ---")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %w", outputDir, err)
	}

	rows, err := db.QueryContext(ctx, `PRAGMA show_tables;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	rows.Close()

	if len(tableNames) == 0 {
		logger.Info("No user tables found in the database to save.")
		return nil, nil
	}
	logger.Info("Found tables to save.", slog.Int("count", len(tableNames)))

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		saveErrors []error
		written    []string
	)
	for _, tableName := range tableNames {
		if ctx.Err() != nil {
			logger.Warn("Context cancelled before saving all tables.", "error", ctx.Err())
			saveErrors = append(saveErrors, ctx.Err())
			break
		}

		wg.Add(1)
		go func(tn string) {
			defer wg.Done()
			l := logger.With(slog.String("table", tn))

			safeFilename := strings.ReplaceAll(tn, `"`, "")
			safeFilename = strings.ReplaceAll(safeFilename, "/", "_")
			outputFilePath := filepath.Join(outputDir, safeFilename+".parquet")
			duckdbFilePath := strings.ReplaceAll(outputFilePath, `\`, `/`)

			quotedTableName := fmt.Sprintf(`"%s"`, strings.ReplaceAll(tn, `"`, `""`))
			copySQL := fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET);`,
				quotedTableName,
				strings.ReplaceAll(duckdbFilePath, "'", "''"),
			)

			_, execErr := db.ExecContext(ctx, copySQL)
			mu.Lock()
			defer mu.Unlock()
			if execErr != nil {
				l.Error("Failed to save table to Parquet.", "error", execErr)
				saveErrors = append(saveErrors, fmt.Errorf("save %s: %w", tn, execErr))
				return
			}
			l.Info("Saved table to Parquet.", slog.String("output_path", outputFilePath))
			written = append(written, outputFilePath)
		}(tableName)
	}
	wg.Wait()

	if err := errors.Join(saveErrors...); err != nil {
		logger.Error("Save process completed with errors.", "error", err)
		return written, err
	}
	logger.Info("--- DuckDB Table to Parquet Save Process Finished ---")
	return written, nil
}

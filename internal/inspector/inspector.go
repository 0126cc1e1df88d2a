package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/brensch/batchfetch/internal/report"
	"github.com/brensch/batchfetch/internal/util"
)

// pipelineSummary aggregates all report files of one pipeline.
type pipelineSummary struct {
	pipeline      string
	fileCount     int
	runCount      int64
	totalRows     int64
	succeeded     int64
	skipped       int64
	failed        int64
	totalBytes    int64
	totalFiles    int64
	schema        string
	schemaErr     error
	statsErr      error
	firstFilePath string
}

// InspectReports summarizes every report Parquet file in dir, grouped by
// pipeline, and prints the result to w.
func InspectReports(ctx context.Context, dir string, w io.Writer, logger *slog.Logger) error {
	logger.Info("--- Starting Report Summary Inspection ---", slog.String("dir", dir))

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `LOAD parquet;`); err != nil {
		logger.Warn("Failed load parquet extension.", "error", err)
	}

	parquetFiles, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return fmt.Errorf("failed glob parquet files in %s: %w", dir, err)
	}
	if len(parquetFiles) == 0 {
		logger.Info("No *.parquet files found.", "dir", dir)
		fmt.Fprintf(w, "No reports found in %s\n", dir)
		return nil
	}

	filesByPipeline := make(map[string][]string)
	var categorizationErrors error
	for _, fp := range parquetFiles {
		pipeline, _, err := report.ParseFileName(fp)
		if err != nil {
			logger.Warn("Skipping file due to unexpected name format.", slog.String("file", filepath.Base(fp)), "error", err)
			categorizationErrors = errors.Join(categorizationErrors, err)
			continue
		}
		filesByPipeline[pipeline] = append(filesByPipeline[pipeline], fp)
	}

	var ordered []string
	summaries := make(map[string]*pipelineSummary)
	for pipeline, files := range filesByPipeline {
		ordered = append(ordered, pipeline)
		l := logger.With(slog.String("pipeline", pipeline))
		s := &pipelineSummary{pipeline: pipeline, fileCount: len(files), firstFilePath: files[0]}
		summaries[pipeline] = s

		s.schema, s.schemaErr = describe(ctx, conn, s.firstFilePath)
		if s.schemaErr != nil {
			l.Error("Failed getting schema for pipeline.", "error", s.schemaErr)
		}

		statsSQL := fmt.Sprintf(`
			SELECT
				COUNT(DISTINCT run_id),
				COUNT(*),
				CAST(COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0) AS BIGINT),
				CAST(COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0) AS BIGINT),
				CAST(COALESCE(SUM(CASE WHEN status = 'failure' THEN 1 ELSE 0 END), 0) AS BIGINT),
				CAST(COALESCE(SUM(CASE WHEN status <> 'failure' THEN size_bytes END), 0) AS BIGINT),
				CAST(COALESCE(SUM(CASE WHEN status <> 'failure' THEN file_count END), 0) AS BIGINT)
			FROM read_parquet(%s);`, fileListLiteral(files))
		err := conn.QueryRowContext(ctx, statsSQL).Scan(&s.runCount, &s.totalRows, &s.succeeded, &s.skipped, &s.failed, &s.totalBytes, &s.totalFiles)
		if err != nil {
			s.statsErr = err
			l.Error("Failed getting statistics for pipeline.", "error", err)
			continue
		}
		l.Info("Statistics gathered.", slog.Int64("rows", s.totalRows), slog.Int64("runs", s.runCount))
	}

	sort.Strings(ordered)
	fmt.Fprintln(w, "\n--- Report Schema ---")
	for _, p := range ordered {
		s := summaries[p]
		fmt.Fprintf(w, "\n=== Pipeline: %s (%d files) ===\n", s.pipeline, s.fileCount)
		if s.schemaErr != nil {
			fmt.Fprintf(w, "    ERROR retrieving schema: %v\n", s.schemaErr)
			continue
		}
		for _, line := range strings.Split(s.schema, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}

	fmt.Fprintln(w, "\n--- Aggregated Statistics ---")
	fmt.Fprintf(w, "%-10s | %-6s | %-6s | %-9s | %-7s | %-6s | %-10s | %-8s | %s\n",
		"Pipeline", "Runs", "Rows", "Succeeded", "Skipped", "Failed", "Bytes", "Files", "Errors")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	var finalErr error = categorizationErrors
	for _, p := range ordered {
		s := summaries[p]
		errorStr := ""
		if s.statsErr != nil {
			errorStr = "Stats Error"
		}
		fmt.Fprintf(w, "%-10s | %-6d | %-6d | %-9d | %-7d | %-6d | %-10s | %-8d | %s\n",
			s.pipeline, s.runCount, s.totalRows, s.succeeded, s.skipped, s.failed, util.FormatBytes(s.totalBytes), s.totalFiles, errorStr)
		finalErr = errors.Join(finalErr, s.schemaErr, s.statsErr)
	}
	fmt.Fprintln(w, strings.Repeat("-", 100))

	if finalErr != nil {
		logger.Warn("Inspection completed with errors.", "error", finalErr)
	}
	logger.Info("--- Report Summary Inspection Finished ---")
	return finalErr
}

func fileListLiteral(files []string) string {
	quoted := make([]string, len(files))
	for i, p := range files {
		quoted[i] = quote(p)
	}
	return fmt.Sprintf("[%s]", strings.Join(quoted, ", "))
}

func quote(p string) string {
	dp := strings.ReplaceAll(p, `\`, `/`)
	return "'" + strings.ReplaceAll(dp, "'", "''") + "'"
}

func describe(ctx context.Context, conn *sql.Conn, filePath string) (string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("DESCRIBE SELECT * FROM read_parquet(%s);", quote(filePath)))
	if err != nil {
		return "", fmt.Errorf("query schema for %s: %w", filePath, err)
	}
	defer rows.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "%-20s | %s\n", "Column Name", "Column Type")
	b.WriteString(strings.Repeat("-", 45) + "\n")
	for rows.Next() {
		var colName, colType, nullVal, keyVal, defaultVal, extraVal sql.NullString
		if err := rows.Scan(&colName, &colType, &nullVal, &keyVal, &defaultVal, &extraVal); err != nil {
			return "", fmt.Errorf("scan schema row for %s: %w", filePath, err)
		}
		fmt.Fprintf(&b, "%-20s | %s\n", colName.String, colType.String)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate schema rows for %s: %w", filePath, err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

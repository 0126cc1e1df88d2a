// Package report writes one Parquet file per pipeline run with a row per
// outcome.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/batchfetch/internal/outcome"
)

// Row is the Parquet schema of a report.
type Row struct {
	RunID        string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Pipeline     string `parquet:"name=pipeline, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Position     int64  `parquet:"name=position, type=INT64"`
	Identifier   string `parquet:"name=identifier, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status       string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SizeBytes    int64  `parquet:"name=size_bytes, type=INT64"`
	FileCount    int64  `parquet:"name=file_count, type=INT64"`
	Attempts     int32  `parquet:"name=attempts, type=INT32"`
	DurationMs   int64  `parquet:"name=duration_ms, type=INT64"`
	ErrorMessage string `parquet:"name=error_message, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordedAt   int64  `parquet:"name=recorded_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// ErrBadFileName is returned by ParseFileName for names not written by Write.
var ErrBadFileName = errors.New("not a report file name")

// FileName is the report file name for a pipeline run.
func FileName(pipeline, runID string) string {
	return fmt.Sprintf("%s_%s.parquet", pipeline, runID)
}

// ParseFileName splits a report file name into pipeline and run id.
func ParseFileName(name string) (pipeline, runID string, err error) {
	base := filepath.Base(name)
	stem, ok := strings.CutSuffix(base, ".parquet")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrBadFileName, base)
	}
	pipeline, runID, ok = strings.Cut(stem, "_")
	if !ok || pipeline == "" || runID == "" {
		return "", "", fmt.Errorf("%w: %s", ErrBadFileName, base)
	}
	return pipeline, runID, nil
}

// Rows converts outcomes to report rows, keeping worklist order.
func Rows(runID, pipeline string, outcomes []outcome.Outcome, now time.Time) []Row {
	rows := make([]Row, len(outcomes))
	for i, o := range outcomes {
		rows[i] = Row{
			RunID:        runID,
			Pipeline:     pipeline,
			Position:     int64(i),
			Identifier:   o.Identifier,
			Status:       o.Status(),
			SizeBytes:    o.SizeBytes,
			FileCount:    o.FileCount,
			Attempts:     int32(o.Attempts),
			DurationMs:   o.Duration.Milliseconds(),
			ErrorMessage: o.ErrorMessage,
			RecordedAt:   now.UnixMilli(),
		}
	}
	return rows
}

// Write stores outcomes as dir/<pipeline>_<runID>.parquet and returns the path.
func Write(dir, runID, pipeline string, outcomes []outcome.Outcome) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(pipeline, runID))
	if err := WriteRows(path, Rows(runID, pipeline, outcomes, time.Now())); err != nil {
		return "", err
	}
	return path, nil
}

// WriteRows writes rows to a new Parquet file at path.
func WriteRows(path string, rows []Row) (err error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create report file %s: %w", path, err)
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close report file %s: %w", path, closeErr))
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	pw, err := writer.NewParquetWriter(fw, new(Row), 2)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return fmt.Errorf("write report row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize report %s: %w", path, err)
	}
	return nil
}

// ReadRows loads every row of the report at path.
func ReadRows(path string) ([]Row, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open report file %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Row), 2)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]Row, int(pr.GetNumRows()))
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read report %s: %w", path, err)
	}
	return rows, nil
}

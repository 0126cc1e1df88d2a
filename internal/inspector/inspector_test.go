package inspector

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/batchfetch/internal/outcome"
	"github.com/brensch/batchfetch/internal/report"
)

func TestInspectReports(t *testing.T) {
	dir := t.TempDir()
	_, err := report.Write(dir, "r1", "download", []outcome.Outcome{
		outcome.Succeeded("a.zip", 1000, 0),
		outcome.Skipped("b.zip"),
		outcome.Failed("https://x/c.zip", errors.New("timeout")),
	})
	require.NoError(t, err)
	_, err = report.Write(dir, "r2", "download", []outcome.Outcome{outcome.Succeeded("d.zip", 24, 0)})
	require.NoError(t, err)
	_, err = report.Write(dir, "r1", "extract", []outcome.Outcome{outcome.Succeeded("a.tgz", 10, 4)})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, InspectReports(context.Background(), dir, &buf, slog.New(slog.DiscardHandler)))

	out := buf.String()
	assert.Contains(t, out, "=== Pipeline: download (2 files) ===")
	assert.Contains(t, out, "=== Pipeline: extract (1 files) ===")
	assert.Contains(t, out, "identifier")
	assert.Regexp(t, `download\s+\|\s+2\s+\|\s+4\s+\|\s+2\s+\|\s+1\s+\|\s+1\s+\|`, out)
	assert.Regexp(t, `extract\s+\|\s+1\s+\|\s+1\s+\|\s+1\s+\|\s+0\s+\|\s+0\s+\|\s+10 B\s+\|\s+4`, out)
}

func TestInspectReportsEmptyDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, InspectReports(context.Background(), dir, &buf, slog.New(slog.DiscardHandler)))
	assert.Contains(t, buf.String(), "No reports found")
}

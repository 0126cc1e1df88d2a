package saver

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/batchfetch/internal/db"
	"github.com/brensch/batchfetch/internal/outcome"
)

func TestSaveTablesToParquet(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, db.LogOutcomes(ctx, conn, "r1", db.PipelineDownload, []outcome.Outcome{
		outcome.Succeeded("a.zip", 10, 0),
		outcome.Skipped("b.zip"),
	}))

	out := filepath.Join(t.TempDir(), "export")
	paths, err := SaveTablesToParquet(ctx, conn, out, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	want := filepath.Join(out, db.EventTable+".parquet")
	assert.Contains(t, paths, want)
	assert.FileExists(t, want)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM read_parquet('"+filepath.ToSlash(want)+"')").Scan(&n))
	assert.Equal(t, 2, n)
}

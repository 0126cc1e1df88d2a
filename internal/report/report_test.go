package report

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/batchfetch/internal/outcome"
)

func TestWriteAndReadBack(t *testing.T) {
	ok := outcome.Succeeded("a.tgz", 2048, 3)
	ok.Attempts, ok.Duration = 1, 250*time.Millisecond
	skip := outcome.Skipped("b.zip")
	skip.Attempts = 1
	fail := outcome.Failed("/src/c.tar", errors.New("unpack: unexpected EOF"))
	fail.Attempts = 3

	dir := t.TempDir()
	path, err := Write(dir, "run42", "extract", []outcome.Outcome{ok, skip, fail})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "extract_run42.parquet"), path)

	rows, err := ReadRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "a.tgz", rows[0].Identifier)
	assert.Equal(t, "success", rows[0].Status)
	assert.EqualValues(t, 2048, rows[0].SizeBytes)
	assert.EqualValues(t, 3, rows[0].FileCount)
	assert.EqualValues(t, 250, rows[0].DurationMs)

	assert.Equal(t, "skipped", rows[1].Status)
	assert.EqualValues(t, 1, rows[1].Position)

	assert.Equal(t, "failure", rows[2].Status)
	assert.Equal(t, "unpack: unexpected EOF", rows[2].ErrorMessage)
	assert.EqualValues(t, 3, rows[2].Attempts)
	for _, r := range rows {
		assert.Equal(t, "run42", r.RunID)
		assert.Equal(t, "extract", r.Pipeline)
	}
}

func TestParseFileName(t *testing.T) {
	p, id, err := ParseFileName("/tmp/reports/" + FileName("download", "0b6c3f1e-aaaa"))
	require.NoError(t, err)
	assert.Equal(t, "download", p)
	assert.Equal(t, "0b6c3f1e-aaaa", id)

	for _, bad := range []string{"download.parquet", "x_y.csv", "_id.parquet", "download_.parquet"} {
		_, _, err := ParseFileName(bad)
		assert.ErrorIs(t, err, ErrBadFileName, bad)
	}
}

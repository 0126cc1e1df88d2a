package orchestrator

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/batchfetch/internal/batch"
	"github.com/brensch/batchfetch/internal/config"
	"github.com/brensch/batchfetch/internal/db"
	"github.com/brensch/batchfetch/internal/downloader"
	"github.com/brensch/batchfetch/internal/extractor"
	"github.com/brensch/batchfetch/internal/outcome"
	"github.com/brensch/batchfetch/internal/report"
)

var quiet = slog.New(slog.DiscardHandler)

// filesServer serves files by path; anything else is a 500.
func filesServer(t *testing.T, files map[string][]byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.Error(w, "no such file", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			gets.Add(1)
			_, _ = w.Write(body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()
	cfg.DownloadDir = filepath.Join(root, "downloads")
	cfg.ExtractDestDir = filepath.Join(root, "extracted")
	cfg.Timeout = 5 * time.Second
	cfg.RetryDelay = time.Millisecond
	return cfg
}

type recordingObserver struct {
	mu        sync.Mutex
	started   []string
	batches   []batch.Progress
	transfers int
	finished  map[string]outcome.Summary
}

func (r *recordingObserver) PipelineStarted(p string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, p)
}

func (r *recordingObserver) BatchDone(p batch.Progress, _ []outcome.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, p)
}

func (r *recordingObserver) Transfer(downloader.Transfer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers++
}

func (r *recordingObserver) PipelineFinished(p string, s outcome.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = map[string]outcome.Summary{}
	}
	r.finished[p] = s
}

func TestDownloadPhaseFiveURLs(t *testing.T) {
	files := map[string][]byte{}
	cfg := testConfig(t)
	for i := range 5 {
		files[fmt.Sprintf("/f%d.bin", i)] = bytes.Repeat([]byte{byte(i)}, 100+i)
	}
	srv, gets := filesServer(t, files)
	for i := range 5 {
		cfg.URLs = append(cfg.URLs, fmt.Sprintf("%s/f%d.bin", srv.URL, i))
	}
	cfg.ReportDir = filepath.Join(t.TempDir(), "reports")

	ledger, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	obs := &recordingObserver{}
	res, err := DownloadPhase(context.Background(), cfg, ledger, quiet, Options{RunID: "run-a", Client: srv.Client(), Observer: obs})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Summary.Total)
	assert.Equal(t, 5, res.Summary.Succeeded)
	assert.Zero(t, res.Summary.Failed)
	assert.EqualValues(t, 510, res.Summary.TotalBytes)
	assert.EqualValues(t, 5, gets.Load())
	for i, o := range res.Outcomes {
		assert.Equal(t, fmt.Sprintf("f%d.bin", i), o.Identifier)
	}

	require.Len(t, obs.batches, 2)
	assert.Equal(t, 3, obs.batches[0].Done)
	assert.Equal(t, 5, obs.batches[1].Done)
	assert.Equal(t, []string{db.PipelineDownload}, obs.started)
	assert.Equal(t, 5, obs.finished[db.PipelineDownload].Total)

	var n int
	require.NoError(t, ledger.QueryRow("SELECT COUNT(*) FROM "+db.EventTable+" WHERE run_id = 'run-a'").Scan(&n))
	assert.Equal(t, 5, n)

	require.NotEmpty(t, res.ReportPath)
	rows, err := report.ReadRows(res.ReportPath)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestDownloadPhaseSecondRunSkips(t *testing.T) {
	srv, gets := filesServer(t, map[string][]byte{"/data.zip": []byte("zipzipzip")})
	cfg := testConfig(t)
	cfg.URLs = []string{srv.URL + "/data.zip"}

	first, err := DownloadPhase(context.Background(), cfg, nil, quiet, Options{Client: srv.Client()})
	require.NoError(t, err)
	require.False(t, first.Outcomes[0].Skipped)

	second, err := DownloadPhase(context.Background(), cfg, nil, quiet, Options{Client: srv.Client()})
	require.NoError(t, err)
	assert.True(t, second.Outcomes[0].Skipped)
	assert.Equal(t, 1, second.Summary.Skipped)
	assert.Zero(t, second.Summary.TotalBytes)
	assert.EqualValues(t, 1, gets.Load(), "second run transfers nothing")
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestDownloadPhaseFailureIsData(t *testing.T) {
	srv, _ := filesServer(t, map[string][]byte{"/ok.txt": []byte("ok")})
	cfg := testConfig(t)
	cfg.URLs = []string{srv.URL + "/ok.txt", srv.URL + "/broken.zip"}

	res, err := DownloadPhase(context.Background(), cfg, nil, quiet, Options{Client: srv.Client()})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Summary.Failed)
	require.Len(t, res.Summary.Failures, 1)
	assert.Equal(t, srv.URL+"/broken.zip", res.Summary.Failures[0].Identifier)
	assert.Equal(t, 3, res.Outcomes[1].Attempts)
	assert.Equal(t, 1, Failures([]*Result{res}))
}

func TestDownloadPhaseNoURLs(t *testing.T) {
	_, err := DownloadPhase(context.Background(), testConfig(t), nil, quiet, Options{})
	assert.ErrorIs(t, err, ErrNoURLs)
}

func TestBuildWorklistMergesFeeds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/index/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="one.zip">1</a><a href="two.tgz">2</a><a href="page.html">x</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t)
	cfg.URLs = []string{srv.URL + "/index/two.tgz", "https://elsewhere.example/direct.tar"}
	cfg.FeedURLs = []string{srv.URL + "/index/", srv.URL + "/gone/"}

	urls, err := BuildWorklist(context.Background(), cfg, quiet, Options{Client: srv.Client()})
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/index/two.tgz",
		"https://elsewhere.example/direct.tar",
		srv.URL + "/index/one.zip",
	}, urls)
}

func TestBuildWorklistAllFeedsFail(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := testConfig(t)
	cfg.FeedURLs = []string{srv.URL + "/feed/"}
	_, err := BuildWorklist(context.Background(), cfg, quiet, Options{Client: srv.Client()})
	assert.ErrorIs(t, err, downloader.ErrBadStatus)
}

func TestExtractPhaseMissingSource(t *testing.T) {
	cfg := testConfig(t)
	obs := &recordingObserver{}
	_, err := ExtractPhase(context.Background(), cfg, nil, quiet, Options{Observer: obs})

	require.ErrorIs(t, err, extractor.ErrSourceDirNotFound)
	assert.Empty(t, obs.started)
	assert.Empty(t, obs.batches)
}

func tarball(t *testing.T, gz bool, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	if !gz {
		return buf.Bytes()
	}
	var out bytes.Buffer
	zw := gzip.NewWriter(&out)
	_, err := zw.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return out.Bytes()
}

func TestRunCombinedWorkflow(t *testing.T) {
	srv, _ := filesServer(t, map[string][]byte{
		"/a.tgz": tarball(t, true, map[string]string{"x.txt": "xx", "y/z.txt": "zzz"}),
		"/b.tar": tarball(t, false, map[string]string{"only.txt": "1234"}),
	})
	cfg := testConfig(t)
	cfg.URLs = []string{srv.URL + "/a.tgz", srv.URL + "/b.tar"}
	cfg.DeleteAfterExtract = true

	results, err := RunCombinedWorkflow(context.Background(), cfg, nil, quiet, Options{Client: srv.Client()})
	require.NoError(t, err)
	require.Len(t, results, 2)

	dl, ex := results[0], results[1]
	assert.Equal(t, db.PipelineDownload, dl.Pipeline)
	assert.Equal(t, db.PipelineExtract, ex.Pipeline)
	assert.Equal(t, dl.RunID, ex.RunID)
	assert.Zero(t, Failures(results))

	require.Equal(t, 2, ex.Summary.Total)
	assert.Equal(t, "a.tgz", ex.Outcomes[0].Identifier)
	assert.EqualValues(t, 2, ex.Outcomes[0].FileCount)
	assert.EqualValues(t, 5, ex.Outcomes[0].SizeBytes)
	assert.EqualValues(t, 1, ex.Outcomes[1].FileCount)
	assert.EqualValues(t, 3, ex.Summary.TotalFiles)

	assert.FileExists(t, filepath.Join(cfg.ExtractDestDir, "a", "y", "z.txt"))
	assert.FileExists(t, filepath.Join(cfg.ExtractDestDir, "b", "only.txt"))
	assert.NoFileExists(t, filepath.Join(cfg.DownloadDir, "a.tgz"))
}

func TestRunCombinedWorkflowSkipExtract(t *testing.T) {
	srv, _ := filesServer(t, map[string][]byte{"/a.tar": tarball(t, false, map[string]string{"f": "1"})})
	cfg := testConfig(t)
	cfg.URLs = []string{srv.URL + "/a.tar"}
	cfg.SkipExtract = true

	results, err := RunCombinedWorkflow(context.Background(), cfg, nil, quiet, Options{Client: srv.Client()})
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, statErr := os.Stat(cfg.ExtractDestDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractPhaseSeparateSourceDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExtractSourceDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ExtractSourceDir, "bad.tgz"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ExtractSourceDir, "good.tar"), tarball(t, false, map[string]string{"a": "a"}), 0o644))
	cfg.RetryAttempts = 2

	res, err := ExtractPhase(context.Background(), cfg, nil, quiet, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.Failed)
	assert.True(t, strings.HasSuffix(res.Summary.Failures[0].Identifier, "bad.tgz"))
	assert.Equal(t, 2, res.Outcomes[0].Attempts)
	assert.True(t, res.Outcomes[1].IsSuccess())
}

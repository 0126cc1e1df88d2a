package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/brensch/batchfetch/internal/outcome"
	"github.com/brensch/batchfetch/internal/retry"
	"github.com/brensch/batchfetch/internal/util"
)

var (
	// ErrBadStatus is returned for any non-2xx response.
	ErrBadStatus = errors.New("bad status")
	// ErrTimeout is returned when a request makes no progress for Options.Timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrShortBody is returned when fewer bytes arrive than the response announced.
	ErrShortBody = errors.New("short body")
)

const mib = 1 << 20

// Transfer is a byte-level progress observation for one file.
type Transfer struct {
	FileName string
	Written  int64
	Total    int64 // -1 when unknown
	Done     bool
}

// Options configures a Downloader.
type Options struct {
	// DestDir receives downloaded files.
	DestDir string
	// Timeout bounds the probe request and any period without progress
	// during a transfer.
	Timeout time.Duration
	Retry   retry.Policy
	// UserAgent is sent with every request when non-empty.
	UserAgent string
	// OnTransfer, if set, receives progress at least once per MiB and once
	// when a transfer completes. It is called from the downloading goroutine.
	OnTransfer func(Transfer)
}

// FileInfo is what the header-only probe learns about a URL.
type FileInfo struct {
	Size        int64 // -1 when the server sent no length
	FileName    string
	ContentType string
}

// Downloader fetches single URLs into Options.DestDir.
type Downloader struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	seq    atomic.Uint64 // suffix for generated file names
}

// New creates a Downloader. A nil client uses util.DefaultHTTPClient.
func New(client *http.Client, opts Options, logger *slog.Logger) *Downloader {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if client == nil {
		client = util.DefaultHTTPClient(opts.Timeout)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Downloader{client: client, opts: opts, logger: logger, now: time.Now}
}

// Download fetches rawURL, retrying on any error up to the retry policy.
// A destination file whose size equals the probed length is left untouched
// and reported as skipped. It never returns an error: failures are carried
// in the outcome.
func (d *Downloader) Download(ctx context.Context, rawURL string) outcome.Outcome {
	start := time.Now()
	l := d.logger.With(slog.String("url", rawURL))

	var result outcome.Outcome
	attempts, err := retry.Do(ctx, d.opts.Retry,
		func(attempt int, err error) {
			l.Warn("Download attempt failed, retrying.",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", d.opts.Retry.MaxAttempts()),
				slog.Duration("delay", d.opts.Retry.Delay),
				"error", err)
		},
		func(attempt int) error {
			o, err := d.attempt(ctx, l.With(slog.Int("attempt", attempt)), rawURL)
			if err != nil {
				return err
			}
			result = o
			return nil
		})
	if err != nil {
		l.Error("Download failed.", slog.Int("attempts", attempts), "error", err)
		result = outcome.Failed(rawURL, err)
	}
	result.Attempts = attempts
	result.Duration = time.Since(start)
	return result
}

func (d *Downloader) attempt(ctx context.Context, l *slog.Logger, rawURL string) (outcome.Outcome, error) {
	info, err := d.Probe(ctx, rawURL)
	if err != nil {
		return outcome.Outcome{}, fmt.Errorf("probe: %w", err)
	}
	dest := filepath.Join(d.opts.DestDir, info.FileName)
	l = l.With(slog.String("file", info.FileName))

	if st, err := os.Stat(dest); err == nil && st.Mode().IsRegular() {
		if info.Size > 0 && st.Size() == info.Size {
			l.Info("File already downloaded, skipping.", slog.Int64("bytes", st.Size()))
			return outcome.Skipped(info.FileName), nil
		}
		l.Info("Existing file incomplete or unverifiable, downloading again.",
			slog.Int64("local_bytes", st.Size()), slog.Int64("remote_bytes", info.Size))
	}

	l.Info("Starting download.", slog.Int64("expected_bytes", info.Size))
	n, err := d.fetch(ctx, l, rawURL, dest, info)
	if err != nil {
		return outcome.Outcome{}, err
	}
	l.Info("Download complete.", slog.Int64("bytes", n))
	return outcome.Succeeded(info.FileName, n, 0), nil
}

// Probe issues a HEAD request for rawURL.
func (d *Downloader) Probe(ctx context.Context, rawURL string) (*FileInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	d.setHeaders(req)

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("head %s: %w after %s", rawURL, ErrTimeout, d.opts.Timeout)
		}
		return nil, fmt.Errorf("head %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w %s", ErrBadStatus, util.StatusError(resp))
	}

	contentType := resp.Header.Get("Content-Type")
	return &FileInfo{
		Size:        resp.ContentLength,
		FileName:    FileName(resp.Header.Get("Content-Disposition"), contentType, req.URL, d.now(), d.seq.Add(1)),
		ContentType: contentType,
	}, nil
}

// fetch streams rawURL into dest and returns the number of bytes written.
func (d *Downloader) fetch(ctx context.Context, l *slog.Logger, rawURL, dest string, info *FileInfo) (int64, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	idle := time.AfterFunc(d.opts.Timeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer idle.Stop()

	wrap := func(err error) error {
		if timedOut.Load() {
			return fmt.Errorf("get %s: %w: no progress for %s", rawURL, ErrTimeout, d.opts.Timeout)
		}
		return fmt.Errorf("get %s: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	d.setHeaders(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w %s", ErrBadStatus, util.StatusError(resp))
	}

	total := info.Size
	if total <= 0 {
		total = resp.ContentLength
	}

	if err := os.MkdirAll(d.opts.DestDir, 0o755); err != nil {
		return 0, fmt.Errorf("create destination directory %s: %w", d.opts.DestDir, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create file %s: %w", dest, err)
	}

	pw := &progressWriter{
		w:        f,
		fileName: info.FileName,
		total:    total,
		logger:   l,
		notify:   d.opts.OnTransfer,
	}
	n, copyErr := io.Copy(pw, &idleReader{r: resp.Body, timer: idle, timeout: d.opts.Timeout})
	closeErr := f.Close()

	if copyErr != nil {
		return n, wrap(copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close file %s: %w", dest, closeErr)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, fmt.Errorf("%w: got %d of %d bytes from %s", ErrShortBody, n, resp.ContentLength, rawURL)
	}
	pw.finish()
	return n, nil
}

func (d *Downloader) setHeaders(req *http.Request) {
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}
	req.Header.Set("Accept", "*/*")
}

// idleReader pushes the idle deadline forward on every successful read.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

// progressWriter counts bytes and logs and reports each MiB boundary crossed.
type progressWriter struct {
	w        io.Writer
	fileName string
	written  int64
	total    int64
	lastMiB  int64
	logger   *slog.Logger
	notify   func(Transfer)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)

	if mb := p.written / mib; mb > p.lastMiB {
		p.lastMiB = mb
		if p.total > 0 {
			p.logger.Info("Download progress.",
				slog.Int64("dl_mb", p.written>>20),
				slog.Int64("tot_mb", p.total>>20),
				slog.Float64("pct", float64(p.written)*100.0/float64(p.total)))
		} else {
			p.logger.Info("Download progress.", slog.Int64("dl_mb", p.written>>20))
		}
		if p.notify != nil {
			p.notify(Transfer{FileName: p.fileName, Written: p.written, Total: p.total})
		}
	}
	return n, err
}

func (p *progressWriter) finish() {
	if p.notify != nil {
		p.notify(Transfer{FileName: p.fileName, Written: p.written, Total: p.total, Done: true})
	}
}

package extractor

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/brensch/batchfetch/internal/outcome"
	"github.com/brensch/batchfetch/internal/retry"
)

// ErrUnsupportedArchive is returned for files without a recognised extension.
var ErrUnsupportedArchive = errors.New("unsupported archive type")

// Options configures an Extractor.
type Options struct {
	// DestDir is the parent of the per-archive destination subdirectories.
	DestDir string
	// DeleteAfter removes the source archive once it has been unpacked.
	DeleteAfter bool
	Retry       retry.Policy
}

// Extractor unpacks archives into per-archive subdirectories of DestDir.
type Extractor struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{opts: opts, logger: logger}
}

// Extract unpacks a into DestDir/<stem>, where stem is the archive name
// without its extension.
func (e *Extractor) Extract(ctx context.Context, a Archive) outcome.Outcome {
	return e.ExtractTo(ctx, a.Path, filepath.Join(e.opts.DestDir, Stem(a.Name)))
}

// ExtractTo unpacks archivePath into destDir and reports the file count and
// byte size of everything under destDir afterwards. Errors are retried per
// the retry policy and end in a failure outcome.
func (e *Extractor) ExtractTo(ctx context.Context, archivePath, destDir string) outcome.Outcome {
	start := time.Now()
	name := filepath.Base(archivePath)
	l := e.logger.With(slog.String("archive", name), slog.String("dest", destDir))

	var result outcome.Outcome
	attempts, err := retry.Do(ctx, e.opts.Retry,
		func(attempt int, err error) {
			l.Warn("Extraction attempt failed, retrying.",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", e.opts.Retry.MaxAttempts()),
				slog.Duration("delay", e.opts.Retry.Delay),
				"error", err)
		},
		func(attempt int) error {
			files, size, err := e.attempt(ctx, l, archivePath, destDir)
			if err != nil {
				return err
			}
			result = outcome.Succeeded(name, size, files)
			return nil
		})
	if err != nil {
		l.Error("Extraction failed.", slog.Int("attempts", attempts), "error", err)
		result = outcome.Failed(archivePath, err)
	}
	result.Attempts = attempts
	result.Duration = time.Since(start)
	return result
}

func (e *Extractor) attempt(ctx context.Context, l *slog.Logger, archivePath, destDir string) (int64, int64, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, 0, fmt.Errorf("create destination %s: %w", destDir, err)
	}

	l.Info("Extracting archive.")
	if err := unpack(ctx, l, archivePath, destDir); err != nil {
		return 0, 0, fmt.Errorf("unpack %s: %w", archivePath, err)
	}

	files, size, err := DirStats(destDir)
	if err != nil {
		return 0, 0, err
	}

	if e.opts.DeleteAfter {
		if err := os.Remove(archivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, 0, fmt.Errorf("delete source archive: %w", err)
		}
		l.Debug("Deleted source archive.")
	}

	l.Info("Extraction complete.", slog.Int64("files", files), slog.Int64("bytes", size))
	return files, size, nil
}

// DirStats walks dir and returns the number of regular files beneath it and
// their total size.
func DirStats(dir string) (files, size int64, err error) {
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, size, nil
}

func unpack(ctx context.Context, l *slog.Logger, archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	switch archiveExt(filepath.Base(archivePath)) {
	case ".tar":
		return untar(ctx, l, tar.NewReader(bufio.NewReader(f)), destDir)
	case ".tar.gz", ".tgz":
		zr, err := gzip.NewReader(bufio.NewReader(f))
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		return untar(ctx, l, tar.NewReader(zr), destDir)
	case ".gz":
		zr, err := gzip.NewReader(bufio.NewReader(f))
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		br := bufio.NewReader(zr)
		if isTar(br) {
			return untar(ctx, l, tar.NewReader(br), destDir)
		}
		target := filepath.Join(destDir, Stem(archivePath))
		_, err = writeFile(target, br, 0o644)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, archivePath)
	}
}

// isTar peeks at the ustar magic of the first header block.
func isTar(br *bufio.Reader) bool {
	const magicOffset = 257
	b, err := br.Peek(magicOffset + 5)
	if err != nil {
		return false
	}
	return string(b[magicOffset:]) == "ustar"
}

func untar(ctx context.Context, l *slog.Logger, tr *tar.Reader, destDir string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		rel, ok := sanitizeEntry(hdr.Name)
		if !ok {
			l.Debug("Skipping tar entry with empty path.", slog.String("entry", hdr.Name))
			continue
		}
		target := filepath.Join(destDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", rel, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create directory for %s: %w", rel, err)
			}
			if _, err := writeFile(target, tr, fileMode(hdr.FileInfo().Mode())); err != nil {
				return err
			}
		default:
			// Links and device nodes could point outside destDir.
			l.Debug("Skipping non-regular tar entry.", slog.String("entry", hdr.Name), slog.String("type", string(hdr.Typeflag)))
		}
	}
}

// sanitizeEntry turns an archive entry name into a path relative to the
// destination. Leading "/" and ".." components are dropped.
func sanitizeEntry(name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	cleaned := strings.TrimPrefix(path.Clean("/"+name), "/")
	if cleaned == "" || cleaned == "." {
		return "", false
	}
	rel := filepath.FromSlash(cleaned)
	if vol := filepath.VolumeName(rel); vol != "" {
		rel = strings.TrimLeft(rel[len(vol):], `\/`)
	}
	if rel == "" || !filepath.IsLocal(rel) {
		return "", false
	}
	return rel, true
}

func fileMode(m fs.FileMode) fs.FileMode {
	perm := m.Perm()
	if perm == 0 {
		return 0o644
	}
	return perm | 0o600
}

func writeFile(target string, r io.Reader, mode fs.FileMode) (int64, error) {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	n, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return n, fmt.Errorf("write %s: %w", target, err)
	}
	return n, nil
}

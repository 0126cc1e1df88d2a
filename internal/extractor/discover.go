package extractor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrSourceDirNotFound is returned by Discover when the source directory is
// missing. It is a structural error: there is no worklist to process.
var ErrSourceDirNotFound = errors.New("source directory not found")

// archiveExtensions are checked longest first so ".tar.gz" wins over ".gz".
var archiveExtensions = []string{".tar.gz", ".tgz", ".tar", ".gz"}

// Archive is one extraction work item.
type Archive struct {
	Path string // full path to the archive
	Name string // base file name
	Size int64  // size at discovery time
}

// Discover lists the archives directly inside sourceDir, sorted by name.
// Subdirectories are not scanned.
func Discover(sourceDir string) ([]Archive, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceDirNotFound, sourceDir)
		}
		if isNotDir(sourceDir) {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceDirNotFound, sourceDir)
		}
		return nil, fmt.Errorf("read source directory %s: %w", sourceDir, err)
	}

	archives := make([]Archive, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsArchive(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		archives = append(archives, Archive{
			Path: filepath.Join(sourceDir, e.Name()),
			Name: e.Name(),
			Size: info.Size(),
		})
	}
	return archives, nil
}

func isNotDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// IsArchive reports whether name has a recognised archive extension.
func IsArchive(name string) bool {
	return archiveExt(name) != ""
}

// Stem strips the archive extension from name: "a.tar.gz" -> "a".
func Stem(name string) string {
	name = filepath.Base(name)
	if ext := archiveExt(name); ext != "" {
		return name[:len(name)-len(ext)]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func archiveExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return ext
		}
	}
	return ""
}

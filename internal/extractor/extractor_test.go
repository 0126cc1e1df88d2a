package extractor

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/batchfetch/internal/retry"
)

type entry struct {
	name string
	body string
	dir  bool
	link string
}

func tarBytes(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		switch {
		case e.dir:
			hdr.Typeflag, hdr.Mode, hdr.Size = tar.TypeDir, 0o755, 0
		case e.link != "":
			hdr.Typeflag, hdr.Linkname, hdr.Size = tar.TypeSymlink, e.link, 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeArchive(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestDiscover(t *testing.T) {
	src := t.TempDir()
	for _, n := range []string{"b.tar", "a.tgz", "c.tar.gz", "d.gz", "notes.txt", "e.zip", ".gz"} {
		writeArchive(t, src, n, []byte("x"))
	}
	require.NoError(t, os.Mkdir(filepath.Join(src, "nested.tar"), 0o755))
	writeArchive(t, filepath.Join(src, "nested.tar"), "deep.tgz", []byte("x"))

	archives, err := Discover(src)
	require.NoError(t, err)

	var names []string
	for _, a := range archives {
		names = append(names, a.Name)
		assert.Equal(t, filepath.Join(src, a.Name), a.Path)
		assert.EqualValues(t, 1, a.Size)
	}
	assert.Equal(t, []string{"a.tgz", "b.tar", "c.tar.gz", "d.gz"}, names)
}

func TestDiscoverMissingDir(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "nope"))
	require.ErrorIs(t, err, ErrSourceDirNotFound)

	file := writeArchive(t, t.TempDir(), "plain.tar", []byte("x"))
	_, err = Discover(file)
	require.ErrorIs(t, err, ErrSourceDirNotFound)
}

func TestStem(t *testing.T) {
	tests := map[string]string{
		"a.tgz":         "a",
		"b.tar":         "b",
		"data.tar.gz":   "data",
		"DATA.TAR.GZ":   "DATA",
		"log.gz":        "log",
		"/x/y/v1.2.tgz": "v1.2",
		"readme.txt":    "readme",
		"noext":         "noext",
	}
	for in, want := range tests {
		assert.Equal(t, want, Stem(in), in)
	}
}

func TestExtractIntoStemSubdirectories(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	writeArchive(t, src, "a.tgz", gzipBytes(t, tarBytes(t, []entry{
		{name: "docs/", dir: true},
		{name: "docs/one.txt", body: "one"},
		{name: "two.txt", body: "twotwo"},
	})))
	writeArchive(t, src, "b.tar", tarBytes(t, []entry{
		{name: "only.bin", body: "0123456789"},
	}))

	archives, err := Discover(src)
	require.NoError(t, err)
	require.Len(t, archives, 2)

	x := New(Options{DestDir: dest}, nil)
	oa := x.Extract(context.Background(), archives[0])
	ob := x.Extract(context.Background(), archives[1])

	require.True(t, oa.IsSuccess(), oa.ErrorMessage)
	assert.Equal(t, "a.tgz", oa.Identifier)
	assert.EqualValues(t, 2, oa.FileCount)
	assert.EqualValues(t, 9, oa.SizeBytes)
	assert.FileExists(t, filepath.Join(dest, "a", "docs", "one.txt"))

	require.True(t, ob.IsSuccess(), ob.ErrorMessage)
	assert.EqualValues(t, 1, ob.FileCount)
	assert.EqualValues(t, 10, ob.SizeBytes)
	assert.FileExists(t, filepath.Join(dest, "b", "only.bin"))

	assert.FileExists(t, archives[0].Path, "source kept without DeleteAfter")
}

func TestExtractStripsTraversal(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	p := writeArchive(t, src, "evil.tar", tarBytes(t, []entry{
		{name: "../../escape.txt", body: "x"},
		{name: "/abs/path.txt", body: "y"},
		{name: "ok/../inside.txt", body: "z"},
		{name: "link", link: "/etc/passwd"},
	}))

	x := New(Options{DestDir: dest}, nil)
	o := x.ExtractTo(context.Background(), p, filepath.Join(dest, "evil"))

	require.True(t, o.IsSuccess(), o.ErrorMessage)
	assert.FileExists(t, filepath.Join(dest, "evil", "escape.txt"))
	assert.FileExists(t, filepath.Join(dest, "evil", "abs", "path.txt"))
	assert.FileExists(t, filepath.Join(dest, "evil", "inside.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "evil", "link"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "escape.txt"))
	assert.EqualValues(t, 3, o.FileCount)
}

func TestSanitizeEntry(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a/b.txt", filepath.Join("a", "b.txt"), true},
		{"../../x", "x", true},
		{"/etc/passwd", filepath.Join("etc", "passwd"), true},
		{`dir\file`, filepath.Join("dir", "file"), true},
		{"./", "", false},
		{"..", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := sanitizeEntry(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestExtractPlainGzip(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	writeArchive(t, src, "server.log.gz", gzipBytes(t, []byte("line one\nline two\n")))
	writeArchive(t, src, "bundle.gz", gzipBytes(t, tarBytes(t, []entry{{name: "in.txt", body: "abc"}})))

	archives, err := Discover(src)
	require.NoError(t, err)
	require.Len(t, archives, 2)

	x := New(Options{DestDir: dest}, nil)
	for _, a := range archives {
		o := x.Extract(context.Background(), a)
		require.True(t, o.IsSuccess(), o.ErrorMessage)
	}
	got, err := os.ReadFile(filepath.Join(dest, "server.log", "server.log"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(got))
	assert.FileExists(t, filepath.Join(dest, "bundle", "in.txt"))
}

func TestExtractDeleteAfter(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	p := writeArchive(t, src, "gone.tar", tarBytes(t, []entry{{name: "f", body: "1"}}))

	x := New(Options{DestDir: dest, DeleteAfter: true}, nil)
	o := x.Extract(context.Background(), Archive{Path: p, Name: "gone.tar"})

	require.True(t, o.IsSuccess(), o.ErrorMessage)
	assert.NoFileExists(t, p)
	assert.FileExists(t, filepath.Join(dest, "gone", "f"))
}

func TestExtractCorruptArchiveRetries(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	p := writeArchive(t, src, "broken.tgz", []byte("definitely not gzip"))

	x := New(Options{DestDir: dest, DeleteAfter: true, Retry: retry.Policy{Attempts: 3, Delay: time.Millisecond}}, nil)
	o := x.Extract(context.Background(), Archive{Path: p, Name: "broken.tgz"})

	require.True(t, o.IsFailure())
	assert.Equal(t, p, o.Identifier)
	assert.Equal(t, 3, o.Attempts)
	assert.Contains(t, o.ErrorMessage, "gzip")
	assert.FileExists(t, p, "failed archives are never deleted")
}

func TestExtractMissingArchive(t *testing.T) {
	dest := t.TempDir()
	x := New(Options{DestDir: dest}, nil)
	o := x.Extract(context.Background(), Archive{Path: filepath.Join(dest, "missing.tar"), Name: "missing.tar"})

	require.True(t, o.IsFailure())
	assert.Equal(t, 1, o.Attempts)
}

func TestDirStatsIncludesExistingContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("12345"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("12"), 0o644))

	files, size, err := DirStats(dir)
	require.NoError(t, err)
	assert.EqualValues(t, 2, files)
	assert.EqualValues(t, 7, size)
}

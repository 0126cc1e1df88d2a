package downloader

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// contentTypeExtensions maps the recognised media types to the extension
// appended to a file name that has none.
var contentTypeExtensions = map[string]string{
	"application/zip": ".zip",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// FileName picks the local name for a download. The Content-Disposition
// filename wins, then the last segment of the URL path, then a name built
// from now and seq. seq must differ between concurrent calls so generated
// names never collide. An extension is added from contentType when the name
// has none.
func FileName(contentDisposition, contentType string, u *url.URL, now time.Time, seq uint64) string {
	var name string
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			name = baseName(params["filename"])
		}
	}
	if name == "" && u != nil {
		name = baseName(u.Path)
	}
	if name == "" {
		name = fmt.Sprintf("download_%d_%d", now.UnixMilli(), seq)
	}

	if filepath.Ext(name) == "" && contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			name += contentTypeExtensions[strings.ToLower(mediaType)]
		}
	}
	return name
}

// baseName reduces p to its final element, or "" when nothing usable remains.
func baseName(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	b := path.Base(p)
	switch b {
	case ".", "..", "/":
		return ""
	}
	return b
}

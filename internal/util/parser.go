package util

import (
	"strings"

	"golang.org/x/net/html"
)

// ParseLinks finds href values ending with any of suffixes (case-insensitive)
// within an HTML node tree, in document order.
func ParseLinks(n *html.Node, suffixes ...string) []string {
	var out []string
	var walk func(*html.Node)

	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode && nd.Data == "a" {
			for _, a := range nd.Attr {
				if a.Key == "href" {
					if a.Val != "/" && HasAnySuffix(a.Val, suffixes) {
						out = append(out, a.Val)
					}
					break
				}
			}
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return out
}

// HasAnySuffix reports whether s ends with one of suffixes, ignoring case.
// The query string and fragment of a link are not considered.
func HasAnySuffix(s string, suffixes []string) bool {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	lower := strings.ToLower(s)
	for _, suffix := range suffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

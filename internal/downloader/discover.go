package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/net/html"

	"github.com/brensch/batchfetch/internal/util"
)

// maxFeedBytes caps how much of a feed index page is parsed.
const maxFeedBytes = 16 << 20

// DiscoverURLs fetches each feed index page and collects absolute links
// whose path ends with one of suffixes. Results keep document order across
// feeds and contain no duplicates. Per-feed failures are joined into the
// returned error; links found on the other feeds are still returned.
func DiscoverURLs(ctx context.Context, client *http.Client, feedURLs, suffixes []string, userAgent string, logger *slog.Logger) ([]string, error) {
	if client == nil {
		client = util.DefaultHTTPClient(0)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var discoveryErr error
	seen := make(map[string]struct{})
	found := make([]string, 0)

	logger.Debug("Starting discovery across feed URLs.", slog.Int("feed_count", len(feedURLs)))
	for i, feedURL := range feedURLs {
		if err := ctx.Err(); err != nil {
			logger.Warn("Discovery cancelled by context.")
			return found, errors.Join(discoveryErr, err)
		}

		l := logger.With(slog.String("feed_url", feedURL), slog.Int("feed_num", i+1), slog.Int("total_feeds", len(feedURLs)))
		links, base, err := fetchFeed(ctx, client, feedURL, suffixes, userAgent)
		if err != nil {
			l.Warn("Skip: feed discovery failed.", "error", err)
			discoveryErr = errors.Join(discoveryErr, err)
			continue
		}

		added := 0
		for _, link := range links {
			abs, err := base.Parse(link)
			if err != nil {
				l.Warn("Failed to resolve relative link.", "link", link, "error", err)
				continue
			}
			s := abs.String()
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			found = append(found, s)
			added++
		}
		l.Debug("Feed checked.", slog.Int("links", len(links)), slog.Int("new", added))
	}

	logger.Info("Discovery complete.", slog.Int("total_urls", len(found)))
	return found, discoveryErr
}

func fetchFeed(ctx context.Context, client *http.Client, feedURL string, suffixes []string, userAgent string) ([]string, *url.URL, error) {
	base, err := url.Parse(feedURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse feed url %s: %w", feedURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request %s: %w", feedURL, err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("discover GET %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("discover %s: %w %s", feedURL, ErrBadStatus, util.StatusError(resp))
	}

	root, err := html.Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("discover parse HTML %s: %w", feedURL, err)
	}
	// Links resolve against the final URL after redirects.
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	return util.ParseLinks(root, suffixes...), base, nil
}

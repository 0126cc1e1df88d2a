package util

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultHTTPClient creates the client shared by probe and transfer requests.
// It has no overall Timeout: the downloader bounds each request itself so a
// large but steadily progressing body is not cut off.
func DefaultHTTPClient(dialTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: dialTimeout,
	}
	return &http.Client{Transport: transport}
}

// StatusError reads a short prefix of a non-2xx body for error context.
func StatusError(resp *http.Response) string {
	limitReader := io.LimitReader(resp.Body, 512)
	bodyBytes, _ := io.ReadAll(limitReader)
	if len(bodyBytes) == 0 {
		return fmt.Sprintf("'%s' fetching %s", resp.Status, resp.Request.URL.String())
	}
	return fmt.Sprintf("'%s' fetching %s: %s", resp.Status, resp.Request.URL.String(), string(bodyBytes))
}

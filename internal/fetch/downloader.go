package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"vodscribe/internal/failure"
)

const maxRedirects = 10

// Downloader streams a URL to a writer with a timeout and a size limit,
// dialing only addresses the guard allows.
type Downloader struct {
	client   *http.Client
	guard    *Guard
	maxBytes int64
	timeout  time.Duration
}

// NewDownloader builds a downloader whose transport re-checks every dialed
// address against guard.
func NewDownloader(guard *Guard, maxBytes int64, timeout time.Duration) *Downloader {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   guard.control,
	}
	transport := &http.Transport{
		// No proxy: a proxy would dial on our behalf and skip the address check.
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return failure.Errorf(failure.DownloadFailed, "stopped after %d redirects", maxRedirects)
			}
			return checkScheme(req.URL)
		},
	}
	return &Downloader{
		client:   client,
		guard:    guard,
		maxBytes: maxBytes,
		timeout:  timeout,
	}
}

// HTTPClient returns the guarded client.
func (d *Downloader) HTTPClient() *http.Client {
	return d.client
}

// Download validates rawURL, then streams the response body to w. It
// returns the number of bytes written. Errors are *failure.Error with one of
// ssrf_blocked, download_size_exceeded, download_timeout or download_failed.
func (d *Downloader) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	if _, err := d.guard.Validate(ctx, rawURL); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, failure.Errorf(failure.DownloadFailed, "build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, failure.Errorf(failure.DownloadFailed, "unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > d.maxBytes {
		return 0, failure.Errorf(failure.DownloadSizeExceeded, "declared length %d exceeds %d", resp.ContentLength, d.maxBytes)
	}

	// Read one byte past the limit so an overflow is detectable without
	// trusting the declared length.
	n, err := io.Copy(w, io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return n, classify(ctx, err)
	}
	if n > d.maxBytes {
		return n, failure.Errorf(failure.DownloadSizeExceeded, "body exceeds %d bytes", d.maxBytes)
	}
	return n, nil
}

func classify(ctx context.Context, err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure.New(failure.DownloadTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failure.New(failure.DownloadTimeout, err)
	}
	return failure.New(failure.DownloadFailed, fmt.Errorf("download: %w", err))
}

// Package fetcher retrieves pages over HTTP and reduces them to the records
// the crawl pipeline works with: a link-discovery view (title + outbound
// links) and a content view (title + visible text).
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	maxAttempts       = 2
	backoffMultiplier = 500 * time.Millisecond
	backoffCap        = 4 * time.Second
)

// Rejection reasons. Callers treat any fetch error as a non-fatal miss.
var (
	ErrBadStatus = errors.New("non-2xx response")
	ErrTooLarge  = errors.New("content exceeds size cap")
	ErrNotHTML   = errors.New("unsupported content type")
)

// Config controls HTTP behavior for a Fetcher.
type Config struct {
	Timeout      time.Duration
	MaxContentMB int
	UserAgent    string
}

// Fetcher issues HTTP GETs with a timeout, a body size cap, and bounded
// retries with exponential backoff. Redirects are followed; the final URL
// is recorded on the returned record.
type Fetcher struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Fetcher. The client follows redirects and handles
// decompression itself (including brotli).
func New(cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "webseek/0.1"
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true,
	}
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		cfg:    cfg,
		logger: logger.With("component", "fetcher"),
	}
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

// fetched is the raw result of a successful GET before HTML parsing.
type fetched struct {
	finalURL string
	body     []byte
}

// get performs the GET with retries. Only transient failures (network
// errors, 5xx) are retried; a non-2xx status or an oversize body rejects
// immediately.
func (f *Fetcher) get(ctx context.Context, rawURL string) (*fetched, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := backoffMultiplier << (attempt - 2)
			if backoff > backoffCap {
				backoff = backoffCap
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		res, retryable, err := f.getOnce(ctx, rawURL)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		f.logger.Debug("fetch attempt failed", "url", rawURL, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

func (f *Fetcher) getOnce(ctx context.Context, rawURL string) (*fetched, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, isRetryableError(err), fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("get %s: %w (status %d)", rawURL, ErrBadStatus, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("get %s: %w (status %d)", rawURL, ErrBadStatus, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !isHTMLContentType(ct) {
		return nil, false, fmt.Errorf("get %s: %w (%s)", rawURL, ErrNotHTML, ct)
	}

	maxBytes := int64(f.cfg.MaxContentMB) * 1024 * 1024
	reader, err := decompressReader(resp, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, false, fmt.Errorf("get %s: decompress: %w", rawURL, err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, isRetryableError(err), fmt.Errorf("get %s: read body: %w", rawURL, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, false, fmt.Errorf("get %s: %w (> %d MiB)", rawURL, ErrTooLarge, f.cfg.MaxContentMB)
	}

	return &fetched{
		finalURL: resp.Request.URL.String(),
		body:     body,
	}, false, nil
}

func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") ||
		strings.Contains(ct, "application/xhtml") ||
		strings.Contains(ct, "text/plain")
}

// decompressReader wraps a reader with the decompressor matching the
// response's Content-Encoding.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// isRetryableError reports whether a network failure warrants another
// attempt. Context cancellation never does.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

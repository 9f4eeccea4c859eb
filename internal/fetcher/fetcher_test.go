package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func newTestFetcher() *Fetcher {
	return New(Config{
		Timeout:      5 * time.Second,
		MaxContentMB: 1,
		UserAgent:    "webseek-test/0.1",
	}, testLogger())
}

func TestFetchContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head>
			<title>  Hello
			World  </title>
			<style>.x { color: red }</style>
		</head><body>
			<script>var hidden = 1;</script>
			<p>visible   text</p>
			<noscript>enable js</noscript>
		</body></html>`)
	}))
	defer srv.Close()

	f := newTestFetcher()
	defer f.Close()

	page, err := f.FetchContent(context.Background(), srv.URL, false)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if page.Title != "Hello World" {
		t.Errorf("title = %q, want %q", page.Title, "Hello World")
	}
	if page.Text != "visible text" {
		t.Errorf("text = %q, want %q", page.Text, "visible text")
	}
	if page.HTML != "" {
		t.Errorf("html kept without keepHTML: %q", page.HTML)
	}
	if page.URL != srv.URL || page.FinalURL != srv.URL {
		t.Errorf("urls = %q / %q, want %q", page.URL, page.FinalURL, srv.URL)
	}
}

func TestFetchContentKeepHTML(t *testing.T) {
	const body = "<html><head><title>t</title></head><body>b</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := newTestFetcher()
	defer f.Close()

	page, err := f.FetchContent(context.Background(), srv.URL, true)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if page.HTML != body {
		t.Errorf("html = %q, want %q", page.HTML, body)
	}
}

func TestFetchContentFollowsRedirect(t *testing.T) {
	var finalURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><title>end</title></html>")
	}))
	defer srv.Close()
	finalURL = srv.URL + "/end"

	f := newTestFetcher()
	defer f.Close()

	page, err := f.FetchContent(context.Background(), srv.URL+"/start", false)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if page.URL != srv.URL+"/start" {
		t.Errorf("url = %q", page.URL)
	}
	if page.FinalURL != finalURL {
		t.Errorf("final_url = %q, want %q", page.FinalURL, finalURL)
	}
}

func TestFetchContentRejectsOversize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		// 1 MiB cap; send 1 MiB + change.
		w.Write([]byte(strings.Repeat("a", 1<<20+512)))
	}))
	defer srv.Close()

	f := newTestFetcher()
	defer f.Close()

	_, err := f.FetchContent(context.Background(), srv.URL, false)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestFetchContentRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	defer f.Close()

	_, err := f.FetchContent(context.Background(), srv.URL, false)
	if !errors.Is(err, ErrNotHTML) {
		t.Fatalf("err = %v, want ErrNotHTML", err)
	}
}

func TestFetchContentNoRetryOn404(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher()
	defer f.Close()

	_, err := f.FetchContent(context.Background(), srv.URL, false)
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("err = %v, want ErrBadStatus", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
}

func TestFetchContentRetriesOn5xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><title>ok</title></html>")
	}))
	defer srv.Close()

	f := newTestFetcher()
	defer f.Close()

	page, err := f.FetchContent(context.Background(), srv.URL, false)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if page.Title != "ok" {
		t.Errorf("title = %q", page.Title)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hit %d times, want 2", got)
	}
}

func TestFetchContentGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		fmt.Fprint(gz, "<html><title>compressed</title></html>")
		gz.Close()
	}))
	defer srv.Close()

	f := newTestFetcher()
	defer f.Close()

	page, err := f.FetchContent(context.Background(), srv.URL, false)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if page.Title != "compressed" {
		t.Errorf("title = %q", page.Title)
	}
}

func TestFetchLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><title>links</title><body>
			<a href="/b">relative</a>
			<a href="https://ex.com/c">absolute</a>
			<a href="#top">fragment</a>
			<a href="https://other.com/d">offsite</a>
			<a href="mailto:x@example.com">mail</a>
			<a href="https://ex.com/c">dup</a>
		</body></html>`)
	}))
	defer srv.Close()

	f := newTestFetcher()
	defer f.Close()

	res, err := f.FetchLinks(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchLinks: %v", err)
	}
	want := []string{srv.URL + "/b", "https://ex.com/c", "https://other.com/d", "https://ex.com/c"}
	if len(res.Links) != len(want) {
		t.Fatalf("links = %v, want %v", res.Links, want)
	}
	for i, link := range want {
		if res.Links[i] != link {
			t.Errorf("links[%d] = %q, want %q", i, res.Links[i], link)
		}
	}
}

func TestExtractLinks(t *testing.T) {
	doc, err := parseHTML([]byte(`<body>
		<a href="/b">rel</a>
		<a href="https://ex.com/c">abs</a>
		<a href="#top">frag</a>
		<a href="https://other.com/d">off</a>
	</body>`))
	if err != nil {
		t.Fatal(err)
	}
	got := ExtractLinks("https://ex.com/a", doc)
	want := []string{"https://ex.com/b", "https://ex.com/c", "https://other.com/d"}
	if len(got) != len(want) {
		t.Fatalf("links = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("links[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractLinksNoOrigin(t *testing.T) {
	doc, err := parseHTML([]byte(`<a href="/only-relative">x</a>`))
	if err != nil {
		t.Fatal(err)
	}
	if links := ExtractLinks("not-a-url", doc); links != nil {
		t.Errorf("links = %v, want nil", links)
	}
}

func TestSameDomain(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"https://ex.com/a", "https://ex.com/b", true},
		{"https://EX.com/a", "http://ex.com/b", true},
		{"https://ex.com/a", "https://other.com/b", false},
		{"https://ex.com/a", "https://sub.ex.com/b", false},
		{"https://ex.com:8080/a", "https://ex.com/b", false},
		{"not-a-url", "https://ex.com", false},
	}
	for _, tt := range tests {
		if got := SameDomain(tt.a, tt.b); got != tt.want {
			t.Errorf("SameDomain(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if isRetryableError(nil) {
		t.Error("nil should not be retryable")
	}
	if isRetryableError(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
	if isRetryableError(fmt.Errorf("read: %w", context.DeadlineExceeded)) {
		t.Error("deadline exceeded should not be retryable")
	}
	if !isRetryableError(fmt.Errorf("read: %w", io.ErrUnexpectedEOF)) {
		t.Error("unexpected EOF should be retryable")
	}
}

package crawler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"webseek/internal/fetcher"
)

// Sink receives fetched page records. Appends may come from the batch
// collector only, never concurrently.
type Sink interface {
	Append(page *fetcher.PageRecord) error
}

// JSONLSink appends page records to a file, one JSON object per line.
type JSONLSink struct {
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
}

// NewJSONLSink opens (or creates) the output file for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl sink: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLSink{f: f, w: w, enc: enc}, nil
}

// Append writes one page record as a JSON line.
func (s *JSONLSink) Append(page *fetcher.PageRecord) error {
	if err := s.enc.Encode(page); err != nil {
		return fmt.Errorf("encode page record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// ContentOptions control one content-fetch run.
type ContentOptions struct {
	BatchSize int
	Workers   int
	MaxURLs   int
	KeepHTML  bool
	Delay     time.Duration
}

// ContentSummary reports what a content-fetch run did.
type ContentSummary struct {
	Attempted int
	Fetched   int
	Failed    int
	Batches   int
}

// ContentFetcher drains the uncrawled queue in batches, fetching pages in
// parallel and appending the successes to a sink. Each batch's successful
// URLs are marked crawled before the next batch starts.
type ContentFetcher struct {
	fetcher ContentGetter
	queue   Queue
	logger  *slog.Logger
}

// NewContentFetcher creates a ContentFetcher.
func NewContentFetcher(f ContentGetter, q Queue, logger *slog.Logger) *ContentFetcher {
	return &ContentFetcher{
		fetcher: f,
		queue:   q,
		logger:  logger.With("component", "content_fetcher"),
	}
}

// Run snapshots the uncrawled queue and works through it. Failures are
// counted, not retried beyond the fetcher's internal retries.
func (c *ContentFetcher) Run(ctx context.Context, sink Sink, opts ContentOptions) (ContentSummary, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}

	urls, err := c.queue.Uncrawled(ctx)
	if err != nil {
		return ContentSummary{}, err
	}
	if opts.MaxURLs > 0 && len(urls) > opts.MaxURLs {
		urls = urls[:opts.MaxURLs]
	}
	if len(urls) == 0 {
		c.logger.Info("no uncrawled urls")
		return ContentSummary{}, nil
	}
	c.logger.Info("content fetch starting", "urls", len(urls), "batch_size", opts.BatchSize, "workers", opts.Workers)

	var summary ContentSummary
	for start := 0; start < len(urls); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(urls) {
			end = len(urls)
		}
		batch := urls[start:end]
		summary.Batches++
		c.logger.Info("processing batch", "batch", summary.Batches, "urls", len(batch))

		pages := c.fetchBatch(ctx, batch, opts)
		summary.Attempted += len(batch)
		summary.Fetched += len(pages)
		summary.Failed += len(batch) - len(pages)

		crawled := make([]string, 0, len(pages))
		finals := make([]string, 0, len(pages))
		for _, page := range pages {
			if err := sink.Append(page); err != nil {
				return summary, fmt.Errorf("append page %s: %w", page.URL, err)
			}
			crawled = append(crawled, page.URL)
			finals = append(finals, page.FinalURL)
		}
		if len(crawled) > 0 {
			if err := c.queue.MarkCrawledMany(ctx, crawled, finals); err != nil {
				return summary, err
			}
		}

		if opts.Delay > 0 && end < len(urls) {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}

	c.logger.Info("content fetch completed",
		"attempted", summary.Attempted,
		"fetched", summary.Fetched,
		"failed", summary.Failed,
		"batches", summary.Batches,
	)
	return summary, nil
}

// fetchBatch dispatches one batch across the worker pool and collects the
// successful page records. Completion order within a batch is unspecified.
func (c *ContentFetcher) fetchBatch(ctx context.Context, batch []string, opts ContentOptions) []*fetcher.PageRecord {
	var (
		mu    sync.Mutex
		pages []*fetcher.PageRecord
	)

	urlCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range urlCh {
				page, err := c.fetcher.FetchContent(ctx, u, opts.KeepHTML)
				if err != nil {
					c.logger.Warn("content fetch failed", "url", u, "error", err)
					continue
				}
				mu.Lock()
				pages = append(pages, page)
				mu.Unlock()
			}
		}()
	}
	for _, u := range batch {
		urlCh <- u
	}
	close(urlCh)
	wg.Wait()
	return pages
}

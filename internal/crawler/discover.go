// Package crawler holds the two crawl phases: link discovery over seed URLs
// and content fetching over the uncrawled queue.
package crawler

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"webseek/internal/fetcher"
)

// LinkFetcher is the fetch surface link discovery needs.
type LinkFetcher interface {
	FetchLinks(ctx context.Context, url string) (*fetcher.LinkResult, error)
}

// ContentGetter is the fetch surface the content phase needs.
type ContentGetter interface {
	FetchContent(ctx context.Context, url string, keepHTML bool) (*fetcher.PageRecord, error)
}

// Queue is the URL-tracking surface both crawl phases need.
type Queue interface {
	Enqueue(ctx context.Context, urls []string) error
	MarkCrawledMany(ctx context.Context, urls, finalURLs []string) error
	IsCrawled(ctx context.Context, url string) (bool, error)
	Uncrawled(ctx context.Context) ([]string, error)
}

// DiscoverOptions control one link-discovery run.
type DiscoverOptions struct {
	SameDomainOnly bool
	SkipCrawled    bool
	Workers        int
}

// Discoverer fetches seed URLs, extracts their outbound links, and feeds
// the union into the URL queue.
type Discoverer struct {
	fetcher LinkFetcher
	queue   Queue
	logger  *slog.Logger
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(f LinkFetcher, q Queue, logger *slog.Logger) *Discoverer {
	return &Discoverer{
		fetcher: f,
		queue:   q,
		logger:  logger.With("component", "link_discoverer"),
	}
}

// Run processes the seeds with a worker pool and returns the deduplicated
// discovered links, sorted for stable output. A failing seed is logged and
// skipped; the run itself still succeeds.
func (d *Discoverer) Run(ctx context.Context, seeds []string, opts DiscoverOptions) ([]string, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	pending := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if opts.SkipCrawled {
			crawled, err := d.queue.IsCrawled(ctx, seed)
			if err != nil {
				return nil, err
			}
			if crawled {
				d.logger.Debug("seed already processed", "url", seed)
				continue
			}
		}
		pending = append(pending, seed)
	}
	d.logger.Info("link discovery starting",
		"seeds", len(seeds),
		"pending", len(pending),
		"workers", opts.Workers,
		"same_domain_only", opts.SameDomainOnly,
	)

	if len(pending) == 0 {
		return nil, nil
	}
	if err := d.queue.Enqueue(ctx, pending); err != nil {
		return nil, err
	}

	var (
		mu         sync.Mutex
		discovered = make(map[string]struct{})
		processed  []string
		finals     []string
	)

	seedCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seed := range seedCh {
				res, err := d.fetcher.FetchLinks(ctx, seed)
				if err != nil {
					d.logger.Warn("seed fetch failed", "url", seed, "error", err)
					continue
				}
				kept := 0
				mu.Lock()
				for _, link := range res.Links {
					if opts.SameDomainOnly && !fetcher.SameDomain(seed, link) {
						continue
					}
					discovered[link] = struct{}{}
					kept++
				}
				processed = append(processed, seed)
				finals = append(finals, res.FinalURL)
				total := len(discovered)
				mu.Unlock()
				d.logger.Info("seed processed", "url", seed, "links", kept, "total_unique", total)
			}
		}()
	}

	for _, seed := range pending {
		seedCh <- seed
	}
	close(seedCh)
	wg.Wait()

	if len(processed) > 0 {
		if err := d.queue.MarkCrawledMany(ctx, processed, finals); err != nil {
			return nil, err
		}
	}

	links := make([]string, 0, len(discovered))
	for link := range discovered {
		links = append(links, link)
	}
	sort.Strings(links)

	if len(links) > 0 {
		if err := d.queue.Enqueue(ctx, links); err != nil {
			return nil, err
		}
	}
	d.logger.Info("link discovery completed", "processed", len(processed), "discovered", len(links))
	return links, nil
}

// Package tracker keeps the persistent URL queue: which URLs are known,
// which have been crawled, and which are still waiting for a content fetch.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"webseek/internal/store"
)

// Tracker layers queue semantics over the store's urls collection. All
// operations are safe under concurrent callers; marking a URL crawled twice
// is a no-op semantically.
type Tracker struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a Tracker over the given store.
func New(s *store.Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  s,
		logger: logger.With("component", "url_tracker"),
	}
}

// Enqueue adds URLs to the queue. New records start uncrawled; records
// that already exist keep their crawled state.
func (t *Tracker) Enqueue(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	res, err := t.store.BulkUpsert(ctx, store.CollURLs, enqueueOps(urls, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("enqueue urls: %w", err)
	}
	t.logger.Info("urls enqueued", "count", len(urls), "new", res.Upserted, "existing", res.Matched)
	return nil
}

// enqueueOps builds the bulk upserts for Enqueue. The crawled flag is set
// only on insert so re-enqueueing a crawled URL leaves it crawled.
func enqueueOps(urls []string, now time.Time) []store.BulkOp {
	ops := make([]store.BulkOp, 0, len(urls))
	for _, u := range urls {
		ops = append(ops, store.BulkOp{
			Filter: bson.M{"url": u},
			Set:    bson.M{"updated_at": now},
			SetOnInsert: bson.M{
				"crawled":    false,
				"created_at": now,
			},
		})
	}
	return ops
}

// MarkCrawled flips a URL to crawled. finalURL is recorded only when it
// differs from the fetch URL.
func (t *Tracker) MarkCrawled(ctx context.Context, url, finalURL string) error {
	now := time.Now().UTC()
	set := bson.M{
		"crawled":    true,
		"crawled_at": now,
		"updated_at": now,
	}
	if finalURL != "" && finalURL != url {
		set["final_url"] = finalURL
	}
	err := t.store.Upsert(ctx, store.CollURLs, bson.M{"url": url}, set, bson.M{"created_at": now})
	if err != nil {
		return fmt.Errorf("mark crawled %s: %w", url, err)
	}
	return nil
}

// MarkCrawledMany marks a batch of URLs crawled. finalURLs is a parallel
// slice; it may be nil when no redirects were observed.
func (t *Tracker) MarkCrawledMany(ctx context.Context, urls, finalURLs []string) error {
	if len(urls) == 0 {
		return nil
	}
	if finalURLs != nil && len(finalURLs) != len(urls) {
		return errors.New("mark crawled: urls and finalURLs length mismatch")
	}
	res, err := t.store.BulkUpsert(ctx, store.CollURLs, markCrawledOps(urls, finalURLs, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("mark crawled batch: %w", err)
	}
	t.logger.Info("urls marked crawled", "count", len(urls), "new", res.Upserted, "updated", res.Modified)
	return nil
}

func markCrawledOps(urls, finalURLs []string, now time.Time) []store.BulkOp {
	ops := make([]store.BulkOp, 0, len(urls))
	for i, u := range urls {
		set := bson.M{
			"crawled":    true,
			"crawled_at": now,
			"updated_at": now,
		}
		if finalURLs != nil && finalURLs[i] != "" && finalURLs[i] != u {
			set["final_url"] = finalURLs[i]
		}
		ops = append(ops, store.BulkOp{
			Filter:      bson.M{"url": u},
			Set:         set,
			SetOnInsert: bson.M{"created_at": now},
		})
	}
	return ops
}

// IsCrawled reports whether a record exists for the URL with crawled=true.
func (t *Tracker) IsCrawled(ctx context.Context, url string) (bool, error) {
	var rec struct {
		Crawled bool `bson:"crawled"`
	}
	err := t.store.FindOne(ctx, store.CollURLs, bson.M{"url": url}, bson.M{"crawled": 1}, &rec)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is crawled %s: %w", url, err)
	}
	return rec.Crawled, nil
}

// Uncrawled returns the URLs still waiting for a content fetch.
func (t *Tracker) Uncrawled(ctx context.Context) ([]string, error) {
	return t.store.FindURLs(ctx, store.CollURLs, bson.M{"crawled": bson.M{"$ne": true}})
}

// CrawledURLs returns the URLs already crawled.
func (t *Tracker) CrawledURLs(ctx context.Context) ([]string, error) {
	return t.store.FindURLs(ctx, store.CollURLs, bson.M{"crawled": true})
}

// Stats summarizes queue progress.
type Stats struct {
	Total           int64   `json:"total"`
	Crawled         int64   `json:"crawled"`
	Uncrawled       int64   `json:"uncrawled"`
	CrawlPercentage float64 `json:"crawl_percentage"`
}

// Stats counts total, crawled and uncrawled URLs.
func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	total, err := t.store.Count(ctx, store.CollURLs, bson.M{})
	if err != nil {
		return Stats{}, err
	}
	crawled, err := t.store.Count(ctx, store.CollURLs, bson.M{"crawled": true})
	if err != nil {
		return Stats{}, err
	}
	uncrawled, err := t.store.Count(ctx, store.CollURLs, bson.M{"crawled": bson.M{"$ne": true}})
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Total:           total,
		Crawled:         crawled,
		Uncrawled:       uncrawled,
		CrawlPercentage: crawlPercentage(crawled, total),
	}, nil
}

func crawlPercentage(crawled, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(crawled) / float64(total) * 100
}

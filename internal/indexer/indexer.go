// Package indexer turns fetched pages into documents and positional
// postings in the store.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"

	"webseek/internal/fetcher"
	"webseek/internal/store"
	"webseek/internal/textpipe"
)

// Writer is the store surface the indexer writes through.
type Writer interface {
	BulkUpsert(ctx context.Context, coll string, ops []store.BulkOp) (store.BulkResult, error)
	DeleteMany(ctx context.Context, coll string, filter bson.M) (int64, error)
	EachDocument(ctx context.Context, filter bson.M, fn func(store.Document) error) error
}

// PageSource streams page records into the indexer, bufio.Scanner style.
type PageSource interface {
	Next() bool
	Page() fetcher.PageRecord
	Err() error
}

// Config sizes the indexing pipeline.
type Config struct {
	ExcerptMaxChars int
	BatchSize       int
	Workers         int
	MaxPages        int // 0 = no cap
}

// Stats summarizes an indexing run.
type Stats struct {
	Attempted int `json:"attempted"`
	Changed   int `json:"changed"`
	Batches   int `json:"batches"`
}

// TermPostings accumulates one term's occurrences within a document.
type TermPostings struct {
	TF        int
	Positions []int
}

// Indexer builds documents and postings and bulk-upserts them.
type Indexer struct {
	store  Writer
	pipe   *textpipe.Pipeline
	cfg    Config
	logger *slog.Logger
}

// New creates an Indexer.
func New(w Writer, pipe *textpipe.Pipeline, cfg Config, logger *slog.Logger) *Indexer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 200
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ExcerptMaxChars < 2 {
		cfg.ExcerptMaxChars = 400
	}
	return &Indexer{
		store:  w,
		pipe:   pipe,
		cfg:    cfg,
		logger: logger.With("component", "indexer"),
	}
}

// BuildDocument converts a page into its document record. IndexText is the
// normalized token stream joined by spaces; ContentLength counts the
// characters of the raw text.
func (ix *Indexer) BuildDocument(page fetcher.PageRecord) store.Document {
	normalized := ix.pipe.Normalize(page.Text)
	return store.Document{
		URL:           page.URL,
		FinalURL:      page.FinalURL,
		Title:         page.Title,
		RawText:       page.Text,
		TextExcerpt:   textpipe.Summarize(page.Text, ix.cfg.ExcerptMaxChars),
		IndexText:     normalized.Joined,
		ContentLength: utf8.RuneCountInString(page.Text),
		Source:        "crawler",
		UpdatedAt:     time.Now().UTC(),
	}
}

// BuildPostings walks the raw token stream of the page text and maps each
// surviving token to its index term. Positions are indices into the raw
// (pre-stopword-removal) token sequence, so they come out strictly
// increasing and tf always equals len(positions).
func (ix *Indexer) BuildPostings(page fetcher.PageRecord) map[string]TermPostings {
	raw := ix.pipe.Tokenize(page.Text)
	acc := make(map[string]TermPostings)
	for i, tok := range raw {
		term, ok := ix.pipe.NormalizeToken(tok)
		if !ok {
			continue
		}
		tp := acc[term]
		tp.TF++
		tp.Positions = append(tp.Positions, i)
		acc[term] = tp
	}
	return acc
}

// documentOp builds the keyed upsert for a document: every field except the
// key is set, created_at only on insert.
func documentOp(doc store.Document, now time.Time) store.BulkOp {
	return store.BulkOp{
		Filter: bson.M{"url": doc.URL},
		Set: bson.M{
			"final_url":      doc.FinalURL,
			"title":          doc.Title,
			"raw_text":       doc.RawText,
			"text_excerpt":   doc.TextExcerpt,
			"index_text":     doc.IndexText,
			"content_length": doc.ContentLength,
			"source":         doc.Source,
			"updated_at":     doc.UpdatedAt,
		},
		SetOnInsert: bson.M{"created_at": now},
	}
}

// postingOps builds the upserts for one document's postings plus the terms
// dictionary. tf and positions are fully replaced, so a re-index never
// accumulates stale positions for terms still present.
func postingOps(docURL string, terms map[string]TermPostings, now time.Time) (postings, dict []store.BulkOp) {
	for term, tp := range terms {
		postings = append(postings, store.BulkOp{
			Filter: bson.M{"term": term, "doc_url": docURL},
			Set: bson.M{
				"tf":        tp.TF,
				"positions": tp.Positions,
			},
			SetOnInsert: bson.M{"created_at": now},
		})
		dict = append(dict, store.BulkOp{
			Filter:      bson.M{"term": term},
			Set:         bson.M{"updated_at": now},
			SetOnInsert: bson.M{"created_at": now},
		})
	}
	return postings, dict
}

// UpsertDocument writes a single document record.
func (ix *Indexer) UpsertDocument(ctx context.Context, doc store.Document) error {
	_, err := ix.store.BulkUpsert(ctx, store.CollDocuments, []store.BulkOp{documentOp(doc, time.Now().UTC())})
	return err
}

// UpsertPostings replaces a document's postings for the given terms and
// refreshes the terms dictionary.
func (ix *Indexer) UpsertPostings(ctx context.Context, docURL string, terms map[string]TermPostings) error {
	if len(terms) == 0 {
		return nil
	}
	now := time.Now().UTC()
	postings, dict := postingOps(docURL, terms, now)
	if _, err := ix.store.BulkUpsert(ctx, store.CollPostings, postings); err != nil {
		return fmt.Errorf("upsert postings for %s: %w", docURL, err)
	}
	if _, err := ix.store.BulkUpsert(ctx, store.CollTerms, dict); err != nil {
		return fmt.Errorf("upsert terms for %s: %w", docURL, err)
	}
	return nil
}

// IndexPages indexes pages sequentially, flushing documents in batches and
// postings per document.
func (ix *Indexer) IndexPages(ctx context.Context, src PageSource) (Stats, error) {
	var (
		stats  Stats
		buffer []store.BulkOp
	)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		res, err := ix.store.BulkUpsert(ctx, store.CollDocuments, buffer)
		if err != nil {
			return err
		}
		stats.Changed += int(res.Matched + res.Modified + res.Upserted)
		stats.Batches++
		buffer = buffer[:0]
		return nil
	}

	for src.Next() {
		if ix.cfg.MaxPages > 0 && stats.Attempted >= ix.cfg.MaxPages {
			break
		}
		page := src.Page()
		stats.Attempted++

		doc := ix.BuildDocument(page)
		buffer = append(buffer, documentOp(doc, time.Now().UTC()))
		if err := ix.UpsertPostings(ctx, page.URL, ix.BuildPostings(page)); err != nil {
			return stats, err
		}

		if len(buffer) >= ix.cfg.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := src.Err(); err != nil {
		return stats, fmt.Errorf("read pages: %w", err)
	}
	if err := flush(); err != nil {
		return stats, err
	}
	ix.logger.Info("indexing completed", "attempted", stats.Attempted, "changed", stats.Changed, "batches", stats.Batches)
	return stats, nil
}

// built is the output of one worker: a document op plus the page's postings.
type built struct {
	docOp  store.BulkOp
	docURL string
	terms  map[string]TermPostings
}

// IndexPagesParallel builds documents and postings in a worker pool and
// serializes all writes on a single writer goroutine to limit contention.
func (ix *Indexer) IndexPagesParallel(ctx context.Context, src PageSource) (Stats, error) {
	pageCh := make(chan fetcher.PageRecord, ix.cfg.Workers)
	builtCh := make(chan built, ix.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < ix.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range pageCh {
				doc := ix.BuildDocument(page)
				builtCh <- built{
					docOp:  documentOp(doc, time.Now().UTC()),
					docURL: page.URL,
					terms:  ix.BuildPostings(page),
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(builtCh)
	}()

	// Single writer: buffer document ops to batch size, postings flushed
	// per document.
	var (
		stats    Stats
		buffer   []store.BulkOp
		writeErr error
		writerWg sync.WaitGroup
	)
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		res, err := ix.store.BulkUpsert(ctx, store.CollDocuments, buffer)
		if err != nil {
			return err
		}
		stats.Changed += int(res.Matched + res.Modified + res.Upserted)
		stats.Batches++
		buffer = buffer[:0]
		return nil
	}
	writerWg.Add(1)
	go func() {
		defer writerWg.Done()
		for b := range builtCh {
			if writeErr != nil {
				continue
			}
			buffer = append(buffer, b.docOp)
			if err := ix.UpsertPostings(ctx, b.docURL, b.terms); err != nil {
				writeErr = err
				continue
			}
			if len(buffer) >= ix.cfg.BatchSize {
				if err := flush(); err != nil {
					writeErr = err
				}
			}
		}
		if writeErr == nil {
			writeErr = flush()
		}
	}()

	for src.Next() {
		if ix.cfg.MaxPages > 0 && stats.Attempted >= ix.cfg.MaxPages {
			break
		}
		stats.Attempted++
		pageCh <- src.Page()
	}
	close(pageCh)
	writerWg.Wait()

	if err := src.Err(); err != nil {
		return stats, fmt.Errorf("read pages: %w", err)
	}
	if writeErr != nil {
		return stats, writeErr
	}
	ix.logger.Info("parallel indexing completed", "attempted", stats.Attempted, "changed", stats.Changed, "batches", stats.Batches)
	return stats, nil
}

// Reindex recomputes index_text and text_excerpt from stored raw_text for
// documents matching filter. With rebuildPostings set, each document's
// postings are deleted before the rebuilt set is upserted, so terms that
// disappeared from a document do not linger.
func (ix *Indexer) Reindex(ctx context.Context, filter bson.M, rebuildPostings bool) (Stats, error) {
	var (
		stats  Stats
		buffer []store.BulkOp
	)
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		res, err := ix.store.BulkUpsert(ctx, store.CollDocuments, buffer)
		if err != nil {
			return err
		}
		stats.Changed += int(res.Modified)
		stats.Batches++
		buffer = buffer[:0]
		return nil
	}

	err := ix.store.EachDocument(ctx, filter, func(doc store.Document) error {
		stats.Attempted++
		normalized := ix.pipe.Normalize(doc.RawText)
		buffer = append(buffer, store.BulkOp{
			Filter: bson.M{"url": doc.URL},
			Set: bson.M{
				"index_text":   normalized.Joined,
				"text_excerpt": textpipe.Summarize(doc.RawText, ix.cfg.ExcerptMaxChars),
				"updated_at":   time.Now().UTC(),
			},
		})

		if rebuildPostings {
			if _, err := ix.store.DeleteMany(ctx, store.CollPostings, bson.M{"doc_url": doc.URL}); err != nil {
				return fmt.Errorf("purge postings for %s: %w", doc.URL, err)
			}
			page := fetcher.PageRecord{URL: doc.URL, Text: doc.RawText}
			if err := ix.UpsertPostings(ctx, doc.URL, ix.BuildPostings(page)); err != nil {
				return err
			}
		}

		if len(buffer) >= ix.cfg.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	if err := flush(); err != nil {
		return stats, err
	}
	ix.logger.Info("reindex completed", "attempted", stats.Attempted, "changed", stats.Changed, "batches", stats.Batches)
	return stats, nil
}

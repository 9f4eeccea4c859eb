package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Domain accessors used by the BM25 ranking path. These are thin shells over
// the generic operations with the projections the searcher needs.

// DocumentCount returns the total number of indexed documents.
func (s *Store) DocumentCount(ctx context.Context) (int64, error) {
	return s.Count(ctx, CollDocuments, bson.M{})
}

// AvgContentLength returns the mean content_length across all documents,
// 0 when the corpus is empty.
func (s *Store) AvgContentLength(ctx context.Context) (float64, error) {
	return s.AggregateAvg(ctx, CollDocuments, "content_length")
}

// TermDocFrequency returns the number of documents containing the term.
func (s *Store) TermDocFrequency(ctx context.Context, term string) (int64, error) {
	return s.Count(ctx, CollPostings, bson.M{"term": term})
}

// PostingsForTerm streams (doc_url, tf) pairs for a term through fn.
func (s *Store) PostingsForTerm(ctx context.Context, term string, fn func(docURL string, tf int) error) error {
	cur, err := s.Find(ctx, CollPostings, bson.M{"term": term}, bson.M{"doc_url": 1, "tf": 1})
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var row struct {
			DocURL string `bson:"doc_url"`
			TF     int    `bson:"tf"`
		}
		if err := cur.Decode(&row); err != nil {
			return fmt.Errorf("decode posting: %w", err)
		}
		if err := fn(row.DocURL, row.TF); err != nil {
			return err
		}
	}
	return cur.Err()
}

// ContentLength returns a document's content_length. The second return is
// false when no document exists for the URL.
func (s *Store) ContentLength(ctx context.Context, url string) (int, bool, error) {
	var row struct {
		ContentLength int `bson:"content_length"`
	}
	err := s.FindOne(ctx, CollDocuments, bson.M{"url": url}, bson.M{"content_length": 1}, &row)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.ContentLength, true, nil
}

// DocumentsByURL fetches search projections for a set of URLs in one query.
func (s *Store) DocumentsByURL(ctx context.Context, urls []string) ([]SearchDoc, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	cur, err := s.Find(ctx, CollDocuments,
		bson.M{"url": bson.M{"$in": urls}},
		bson.M{"url": 1, "final_url": 1, "title": 1, "text_excerpt": 1})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []SearchDoc
	for cur.Next(ctx) {
		var doc SearchDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode search doc: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, cur.Err()
}

// TextSearch runs the legacy weighted $text search over the documents
// collection, ranked by Mongo's textScore. The BM25 path supersedes this;
// it is kept for comparison against the text index.
func (s *Store) TextSearch(ctx context.Context, query string, limit, skip int) ([]SearchDoc, error) {
	opts := options.Find().
		SetProjection(bson.M{
			"score":        bson.M{"$meta": "textScore"},
			"url":          1,
			"final_url":    1,
			"title":        1,
			"text_excerpt": 1,
		}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	cur, err := s.collection(CollDocuments).Find(ctx, bson.M{"$text": bson.M{"$search": query}}, opts)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer cur.Close(ctx)

	var docs []SearchDoc
	for cur.Next(ctx) {
		var doc SearchDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode search doc: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, cur.Err()
}

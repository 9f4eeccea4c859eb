package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo error codes for index definition conflicts: an index with the same
// name but different options, or the same keys under a different name.
const (
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// ensureIndexes creates every index the engine relies on. Creation is
// idempotent; a conflicting definition left by an older build is dropped by
// name and rebuilt.
func (s *Store) ensureIndexes(ctx context.Context) error {
	type indexSpec struct {
		coll  string
		model mongo.IndexModel
	}

	specs := []indexSpec{
		{CollURLs, mongo.IndexModel{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_url"),
		}},
		{CollURLs, mongo.IndexModel{
			Keys:    bson.D{{Key: "crawled", Value: 1}},
			Options: options.Index().SetName("idx_crawled"),
		}},
		{CollDocuments, mongo.IndexModel{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_url"),
		}},
		// Weighted text index kept for the legacy $text search mode; the
		// BM25 path does not use it.
		{CollDocuments, mongo.IndexModel{
			Keys: bson.D{
				{Key: "title", Value: "text"},
				{Key: "index_text", Value: "text"},
			},
			Options: options.Index().
				SetName("text_index_title_indextext").
				SetDefaultLanguage("english").
				SetWeights(bson.D{
					{Key: "title", Value: 5},
					{Key: "index_text", Value: 1},
				}),
		}},
		{CollPostings, mongo.IndexModel{
			Keys:    bson.D{{Key: "term", Value: 1}},
			Options: options.Index().SetName("idx_term"),
		}},
		{CollPostings, mongo.IndexModel{
			Keys: bson.D{
				{Key: "term", Value: 1},
				{Key: "doc_url", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("unique_term_doc_url"),
		}},
		{CollTerms, mongo.IndexModel{
			Keys:    bson.D{{Key: "term", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_term"),
		}},
	}

	for _, spec := range specs {
		if err := s.createIndex(ctx, spec.coll, spec.model); err != nil {
			return err
		}
	}
	return nil
}

// createIndex creates one index, recovering from a definition conflict by
// dropping the named index and recreating it.
func (s *Store) createIndex(ctx context.Context, coll string, model mongo.IndexModel) error {
	name := ""
	if model.Options != nil && model.Options.Name != nil {
		name = *model.Options.Name
	}

	_, err := s.collection(coll).Indexes().CreateOne(ctx, model)
	if err == nil {
		return nil
	}
	if !isIndexConflict(err) || name == "" {
		return fmt.Errorf("create index %s on %s: %w", name, coll, err)
	}

	s.logger.Warn("index conflict, dropping and recreating", "collection", coll, "index", name)
	if _, err := s.collection(coll).Indexes().DropOne(ctx, name); err != nil {
		return fmt.Errorf("drop conflicting index %s on %s: %w", name, coll, err)
	}
	if _, err := s.collection(coll).Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("recreate index %s on %s: %w", name, coll, err)
	}
	return nil
}

func isIndexConflict(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == codeIndexOptionsConflict || cmdErr.Code == codeIndexKeySpecsConflict
	}
	return false
}

// Package searcher ranks documents for free-text queries with Okapi BM25
// under conjunctive (AND) semantics: a document is a candidate only if it
// contains every query term.
package searcher

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"webseek/internal/store"
	"webseek/internal/textpipe"
)

// BM25 free parameters.
const (
	k1 = 1.5
	b  = 0.75
)

// Index is the read surface the searcher ranks over.
type Index interface {
	DocumentCount(ctx context.Context) (int64, error)
	AvgContentLength(ctx context.Context) (float64, error)
	TermDocFrequency(ctx context.Context, term string) (int64, error)
	PostingsForTerm(ctx context.Context, term string, fn func(docURL string, tf int) error) error
	ContentLength(ctx context.Context, url string) (int, bool, error)
	DocumentsByURL(ctx context.Context, urls []string) ([]store.SearchDoc, error)
}

// Result is one ranked search hit.
type Result struct {
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	TextExcerpt string  `json:"text_excerpt"`
	Score       float64 `json:"score"`
}

// Searcher runs BM25 conjunctive retrieval. The same text pipeline used at
// index time normalizes the query, so query terms line up with postings.
type Searcher struct {
	index  Index
	pipe   *textpipe.Pipeline
	logger *slog.Logger
}

// New creates a Searcher.
func New(index Index, pipe *textpipe.Pipeline, logger *slog.Logger) *Searcher {
	return &Searcher{
		index:  index,
		pipe:   pipe,
		logger: logger.With("component", "searcher"),
	}
}

// Search ranks documents for the query and returns the page at skip/limit.
// An empty normalized query or a term with zero document frequency yields
// an empty result, not an error.
func (s *Searcher) Search(ctx context.Context, query string, limit, skip int) ([]Result, error) {
	terms := dedupe(s.pipe.Normalize(query).Tokens)
	if len(terms) == 0 {
		return nil, nil
	}

	n, err := s.index.DocumentCount(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	avgdl, err := s.index.AvgContentLength(ctx)
	if err != nil {
		return nil, err
	}

	dfs := make(map[string]int64, len(terms))
	for _, term := range terms {
		df, err := s.index.TermDocFrequency(ctx, term)
		if err != nil {
			return nil, err
		}
		if df == 0 {
			s.logger.Debug("term has no postings", "term", term)
			return nil, nil
		}
		dfs[term] = df
	}

	scores := make(map[string]float64)
	matched := make(map[string]int)
	docLengths := make(map[string]int)

	for _, term := range terms {
		df := dfs[term]
		err := s.index.PostingsForTerm(ctx, term, func(docURL string, tf int) error {
			dl, ok := docLengths[docURL]
			if !ok {
				length, found, err := s.index.ContentLength(ctx, docURL)
				if err != nil {
					return err
				}
				if !found {
					length = 0
				}
				docLengths[docURL] = length
				dl = length
			}
			scores[docURL] += bm25Score(tf, df, dl, n, avgdl)
			matched[docURL]++
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// Conjunctive filter: terms are deduplicated, so a document matching
	// every term has exactly len(terms) contributions.
	ranked := make([]string, 0, len(scores))
	for docURL, count := range matched {
		if count == len(terms) {
			ranked = append(ranked, docURL)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	if skip >= len(ranked) {
		return nil, nil
	}
	ranked = ranked[skip:]
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	docs, err := s.index.DocumentsByURL(ctx, ranked)
	if err != nil {
		return nil, err
	}
	byURL := make(map[string]store.SearchDoc, len(docs))
	for _, doc := range docs {
		byURL[doc.URL] = doc
	}

	results := make([]Result, 0, len(ranked))
	for _, docURL := range ranked {
		doc, ok := byURL[docURL]
		if !ok {
			// Posting without a document: the write window between
			// posting and document upserts. Skip.
			continue
		}
		results = append(results, Result{
			URL:         doc.ResultURL(),
			Title:       doc.Title,
			TextExcerpt: doc.TextExcerpt,
			Score:       scores[docURL],
		})
	}
	s.logger.Debug("search completed", "terms", terms, "candidates", len(scores), "results", len(results))
	return results, nil
}

// bm25Score is the per-term contribution with the saturated idf variant:
// idf = ln(1 + max(0, (N - df + 0.5) / (df + 0.5))).
func bm25Score(tf int, df int64, dl int, n int64, avgdl float64) float64 {
	idfRaw := (float64(n) - float64(df) + 0.5) / (float64(df) + 0.5)
	if idfRaw < 0 {
		idfRaw = 0
	}
	idf := math.Log(1 + idfRaw)
	k := k1 * (1 - b + b*float64(dl)/math.Max(avgdl, 1))
	return idf * (float64(tf) * (k1 + 1)) / (float64(tf) + k)
}

// dedupe removes repeated terms preserving first-occurrence order.
func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

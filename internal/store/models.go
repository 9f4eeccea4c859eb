package store

import "time"

// Collection names for the four logical collections the engine owns.
const (
	CollURLs      = "urls"
	CollDocuments = "documents"
	CollPostings  = "postings"
	CollTerms     = "terms"
)

// URLRecord tracks a URL through the crawl lifecycle. Records are created
// uncrawled when enqueued and flipped to crawled once content is stored;
// they are never deleted.
type URLRecord struct {
	URL       string    `bson:"url"`
	FinalURL  string    `bson:"final_url,omitempty"`
	Crawled   bool      `bson:"crawled"`
	CrawledAt time.Time `bson:"crawled_at,omitempty"`
	CreatedAt time.Time `bson:"created_at,omitempty"`
	UpdatedAt time.Time `bson:"updated_at,omitempty"`
}

// Document is an indexed page. IndexText is the deterministic output of the
// text pipeline over RawText, and ContentLength is len(RawText).
type Document struct {
	URL           string    `bson:"url"`
	FinalURL      string    `bson:"final_url,omitempty"`
	Title         string    `bson:"title"`
	RawText       string    `bson:"raw_text"`
	TextExcerpt   string    `bson:"text_excerpt"`
	IndexText     string    `bson:"index_text"`
	ContentLength int       `bson:"content_length"`
	Source        string    `bson:"source,omitempty"`
	CreatedAt     time.Time `bson:"created_at,omitempty"`
	UpdatedAt     time.Time `bson:"updated_at,omitempty"`
}

// Posting is a per-(term, document) index record. Positions are raw-token
// indices into the tokenized document text, strictly increasing.
type Posting struct {
	Term      string    `bson:"term"`
	DocURL    string    `bson:"doc_url"`
	TF        int       `bson:"tf"`
	Positions []int     `bson:"positions"`
	CreatedAt time.Time `bson:"created_at,omitempty"`
}

// Term is a dictionary marker. Document frequency is derived by counting
// postings, so terms are not required for ranking correctness.
type Term struct {
	Term      string    `bson:"term"`
	CreatedAt time.Time `bson:"created_at,omitempty"`
	UpdatedAt time.Time `bson:"updated_at,omitempty"`
}

// SearchDoc is the projection returned to search callers.
type SearchDoc struct {
	URL         string  `bson:"url"`
	FinalURL    string  `bson:"final_url,omitempty"`
	Title       string  `bson:"title"`
	TextExcerpt string  `bson:"text_excerpt"`
	Score       float64 `bson:"score,omitempty"`
}

// ResultURL returns the URL to present for a search hit: the post-redirect
// URL when one was recorded, the fetch URL otherwise.
func (d SearchDoc) ResultURL() string {
	if d.FinalURL != "" {
		return d.FinalURL
	}
	return d.URL
}

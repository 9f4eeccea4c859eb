package indexer

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"webseek/internal/fetcher"
	"webseek/internal/store"
	"webseek/internal/textpipe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func newTestIndexer(w Writer, cfg Config) *Indexer {
	return New(w, textpipe.New(), cfg, testLogger())
}

// fakeWriter records bulk operations per collection and tracks which filter
// keys exist so repeated upserts count as matches, not inserts.
type fakeWriter struct {
	mu      sync.Mutex
	ops     map[string][]store.BulkOp
	seen    map[string]map[string]bool
	deleted []bson.M
	docs    []store.Document
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		ops:  make(map[string][]store.BulkOp),
		seen: make(map[string]map[string]bool),
	}
}

func filterKey(filter bson.M) string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		if s, ok := filter[k].(string); ok {
			b.WriteString(s)
		}
		b.WriteString(";")
	}
	return b.String()
}

func (w *fakeWriter) BulkUpsert(_ context.Context, coll string, ops []store.BulkOp) (store.BulkResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ops[coll] = append(w.ops[coll], ops...)
	if w.seen[coll] == nil {
		w.seen[coll] = make(map[string]bool)
	}
	var res store.BulkResult
	for _, op := range ops {
		key := filterKey(op.Filter)
		if w.seen[coll][key] {
			res.Matched++
			res.Modified++
		} else {
			w.seen[coll][key] = true
			res.Upserted++
		}
	}
	return res, nil
}

func (w *fakeWriter) DeleteMany(_ context.Context, coll string, filter bson.M) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deleted = append(w.deleted, filter)
	return 0, nil
}

func (w *fakeWriter) EachDocument(_ context.Context, _ bson.M, fn func(store.Document) error) error {
	for _, doc := range w.docs {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func TestBuildDocument(t *testing.T) {
	ix := newTestIndexer(newFakeWriter(), Config{ExcerptMaxChars: 400})
	page := fetcher.PageRecord{
		URL:      "https://ex.com/a",
		FinalURL: "https://ex.com/a/final",
		Title:    "A Page",
		Text:     "The quick brown foxes jumped over lazy dogs.",
	}

	doc := ix.BuildDocument(page)
	if doc.URL != page.URL || doc.FinalURL != page.FinalURL || doc.Title != page.Title {
		t.Errorf("identity fields not carried: %+v", doc)
	}
	if doc.RawText != page.Text {
		t.Errorf("raw_text = %q", doc.RawText)
	}
	if doc.IndexText != "quick brown fox jump lazi dog" {
		t.Errorf("index_text = %q", doc.IndexText)
	}
	if doc.TextExcerpt != page.Text {
		t.Errorf("excerpt = %q, short text should pass through", doc.TextExcerpt)
	}
	if doc.ContentLength != len([]rune(page.Text)) {
		t.Errorf("content_length = %d, want %d", doc.ContentLength, len([]rune(page.Text)))
	}
	if doc.Source != "crawler" {
		t.Errorf("source = %q", doc.Source)
	}
}

func TestBuildPostings(t *testing.T) {
	ix := newTestIndexer(newFakeWriter(), Config{})
	page := fetcher.PageRecord{
		URL: "https://ex.com/a",
		// Raw token stream: the(0) quick(1) fox(2) and(3) the(4) quick(5) dog(6)
		Text: "the quick fox and the quick dog",
	}

	got := ix.BuildPostings(page)
	want := map[string]TermPostings{
		"quick": {TF: 2, Positions: []int{1, 5}},
		"fox":   {TF: 1, Positions: []int{2}},
		"dog":   {TF: 1, Positions: []int{6}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("postings = %v, want %v", got, want)
	}
}

func TestBuildPostingsInvariants(t *testing.T) {
	ix := newTestIndexer(newFakeWriter(), Config{})
	page := fetcher.PageRecord{
		URL:  "https://ex.com/a",
		Text: "Running runners run the running race while dogs dog other dogs eagerly.",
	}

	for term, tp := range ix.BuildPostings(page) {
		if tp.TF != len(tp.Positions) {
			t.Errorf("term %q: tf=%d but %d positions", term, tp.TF, len(tp.Positions))
		}
		for i := 1; i < len(tp.Positions); i++ {
			if tp.Positions[i] <= tp.Positions[i-1] {
				t.Errorf("term %q: positions not strictly increasing: %v", term, tp.Positions)
			}
		}
	}
}

func TestIndexPages(t *testing.T) {
	w := newFakeWriter()
	ix := newTestIndexer(w, Config{BatchSize: 2})

	pages := []fetcher.PageRecord{
		{URL: "https://ex.com/1", FinalURL: "https://ex.com/1", Text: "quick fox"},
		{URL: "https://ex.com/2", FinalURL: "https://ex.com/2", Text: "lazy dog"},
		{URL: "https://ex.com/3", FinalURL: "https://ex.com/3", Text: "quick dog"},
	}
	stats, err := ix.IndexPages(context.Background(), NewSliceSource(pages))
	if err != nil {
		t.Fatalf("IndexPages: %v", err)
	}
	if stats.Attempted != 3 {
		t.Errorf("attempted = %d, want 3", stats.Attempted)
	}
	if stats.Changed != 3 {
		t.Errorf("changed = %d, want 3", stats.Changed)
	}
	if stats.Batches != 2 {
		t.Errorf("batches = %d, want 2", stats.Batches)
	}
	if got := len(w.ops[store.CollDocuments]); got != 3 {
		t.Errorf("document ops = %d, want 3", got)
	}
	// Two pages mention "quick": two posting rows, one dictionary row.
	quickPostings := 0
	for _, op := range w.ops[store.CollPostings] {
		if op.Filter["term"] == "quick" {
			quickPostings++
		}
	}
	if quickPostings != 2 {
		t.Errorf("postings for quick = %d, want 2", quickPostings)
	}
	if !w.seen[store.CollTerms]["term=quick;"] {
		t.Error("terms dictionary missing quick")
	}
}

func TestIndexPagesIdempotent(t *testing.T) {
	w := newFakeWriter()
	ix := newTestIndexer(w, Config{})
	pages := []fetcher.PageRecord{
		{URL: "https://ex.com/1", FinalURL: "https://ex.com/1", Text: "quick fox"},
	}

	first, err := ix.IndexPages(context.Background(), NewSliceSource(pages))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := ix.IndexPages(context.Background(), NewSliceSource(pages))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.Attempted != second.Attempted {
		t.Errorf("attempted differs: %d vs %d", first.Attempted, second.Attempted)
	}
	// The second run matches existing rows instead of inserting new ones.
	docKeys := len(w.seen[store.CollDocuments])
	if docKeys != 1 {
		t.Errorf("distinct document keys = %d, want 1", docKeys)
	}
	postingKeys := len(w.seen[store.CollPostings])
	if postingKeys != 2 {
		t.Errorf("distinct posting keys = %d, want 2", postingKeys)
	}
}

func TestIndexPagesMaxPages(t *testing.T) {
	w := newFakeWriter()
	ix := newTestIndexer(w, Config{MaxPages: 2})

	pages := []fetcher.PageRecord{
		{URL: "https://ex.com/1", Text: "one"},
		{URL: "https://ex.com/2", Text: "two"},
		{URL: "https://ex.com/3", Text: "three"},
	}
	stats, err := ix.IndexPages(context.Background(), NewSliceSource(pages))
	if err != nil {
		t.Fatalf("IndexPages: %v", err)
	}
	if stats.Attempted != 2 {
		t.Errorf("attempted = %d, want 2", stats.Attempted)
	}
}

func TestIndexPagesParallel(t *testing.T) {
	w := newFakeWriter()
	ix := newTestIndexer(w, Config{Workers: 4, BatchSize: 2})

	pages := []fetcher.PageRecord{
		{URL: "https://ex.com/1", FinalURL: "https://ex.com/1", Text: "quick fox"},
		{URL: "https://ex.com/2", FinalURL: "https://ex.com/2", Text: "lazy dog"},
		{URL: "https://ex.com/3", FinalURL: "https://ex.com/3", Text: "quick dog"},
		{URL: "https://ex.com/4", FinalURL: "https://ex.com/4", Text: "brown bear"},
	}
	stats, err := ix.IndexPagesParallel(context.Background(), NewSliceSource(pages))
	if err != nil {
		t.Fatalf("IndexPagesParallel: %v", err)
	}
	if stats.Attempted != 4 {
		t.Errorf("attempted = %d, want 4", stats.Attempted)
	}
	if got := len(w.seen[store.CollDocuments]); got != 4 {
		t.Errorf("distinct document keys = %d, want 4", got)
	}
}

func TestReindex(t *testing.T) {
	w := newFakeWriter()
	w.docs = []store.Document{
		{URL: "https://ex.com/1", RawText: "The quick brown foxes jumped."},
		{URL: "https://ex.com/2", RawText: "Lazy dogs slept."},
	}
	// Simulate documents already present.
	w.seen[store.CollDocuments] = map[string]bool{
		"url=https://ex.com/1;": true,
		"url=https://ex.com/2;": true,
	}
	ix := newTestIndexer(w, Config{})

	stats, err := ix.Reindex(context.Background(), bson.M{}, true)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if stats.Attempted != 2 {
		t.Errorf("attempted = %d, want 2", stats.Attempted)
	}
	if stats.Changed != 2 {
		t.Errorf("changed = %d, want 2", stats.Changed)
	}
	if len(w.deleted) != 2 {
		t.Errorf("postings purges = %d, want 2", len(w.deleted))
	}
	// index_text recomputed from raw text.
	var found bool
	for _, op := range w.ops[store.CollDocuments] {
		if op.Filter["url"] == "https://ex.com/1" {
			found = true
			if got := op.Set["index_text"]; got != "quick brown fox jump" {
				t.Errorf("index_text = %q", got)
			}
		}
	}
	if !found {
		t.Error("no document op for reindexed url")
	}
}

func TestJSONLSource(t *testing.T) {
	input := strings.Join([]string{
		`{"url":"https://ex.com/1","final_url":"https://ex.com/1","title":"one","text":"first"}`,
		``,
		`not json`,
		`{"url":"https://ex.com/2","title":"two","text":"second"}`,
	}, "\n")

	src := NewJSONLSource(strings.NewReader(input))
	var urls, finals []string
	for src.Next() {
		urls = append(urls, src.Page().URL)
		finals = append(finals, src.Page().FinalURL)
	}
	if err := src.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if want := []string{"https://ex.com/1", "https://ex.com/2"}; !reflect.DeepEqual(urls, want) {
		t.Errorf("urls = %v, want %v", urls, want)
	}
	// Missing final_url falls back to url.
	if finals[1] != "https://ex.com/2" {
		t.Errorf("final_url fallback = %q", finals[1])
	}
	if src.Skipped() != 1 {
		t.Errorf("skipped = %d, want 1", src.Skipped())
	}
}

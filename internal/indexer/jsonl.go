package indexer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"webseek/internal/fetcher"
)

// JSONLSource streams page records from a JSONL reader. Blank lines are
// skipped; a malformed line is a non-fatal skip, consistent with how the
// crawl pipeline treats bad records.
type JSONLSource struct {
	scanner *bufio.Scanner
	page    fetcher.PageRecord
	skipped int
	err     error
}

// NewJSONLSource wraps a reader producing one JSON page object per line.
func NewJSONLSource(r io.Reader) *JSONLSource {
	scanner := bufio.NewScanner(r)
	// Page records carry full page text; allow long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &JSONLSource{scanner: scanner}
}

// Next advances to the next well-formed record.
func (s *JSONLSource) Next() bool {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var page fetcher.PageRecord
		if err := json.Unmarshal([]byte(line), &page); err != nil {
			s.skipped++
			continue
		}
		if page.FinalURL == "" {
			page.FinalURL = page.URL
		}
		s.page = page
		return true
	}
	s.err = s.scanner.Err()
	return false
}

// Page returns the current record.
func (s *JSONLSource) Page() fetcher.PageRecord { return s.page }

// Skipped returns how many malformed lines were dropped.
func (s *JSONLSource) Skipped() int { return s.skipped }

// Err returns the first read error, if any.
func (s *JSONLSource) Err() error {
	if s.err != nil {
		return fmt.Errorf("scan jsonl: %w", s.err)
	}
	return nil
}

// SliceSource adapts an in-memory page slice to a PageSource.
type SliceSource struct {
	pages []fetcher.PageRecord
	idx   int
}

// NewSliceSource wraps pages already in memory.
func NewSliceSource(pages []fetcher.PageRecord) *SliceSource {
	return &SliceSource{pages: pages, idx: -1}
}

func (s *SliceSource) Next() bool {
	s.idx++
	return s.idx < len(s.pages)
}

func (s *SliceSource) Page() fetcher.PageRecord { return s.pages[s.idx] }

func (s *SliceSource) Err() error { return nil }

// Package textpipe normalizes text for indexing and querying: tokenize,
// drop stopwords, Porter-stem, join. The indexer and the query path share
// one Pipeline value, so both sides of retrieval see identical terms.
package textpipe

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/kljensen/snowball/english"
)

var wordPattern = regexp.MustCompile(`[A-Za-z][A-Za-z\-']+`)

// Normalized is the output of Normalize: the stemmed token sequence and the
// same tokens joined by single spaces.
type Normalized struct {
	Tokens []string
	Joined string
}

// Pipeline holds the precomputed stopword set. It is immutable after
// construction and safe for concurrent use.
type Pipeline struct {
	stop map[string]struct{}
}

// New returns a Pipeline using the built-in English stopword list.
func New() *Pipeline {
	return NewWithStopwords(fallbackStopwords)
}

// NewWithStopwords returns a Pipeline with a caller-supplied stopword list.
func NewWithStopwords(words []string) *Pipeline {
	stop := make(map[string]struct{}, len(words))
	for _, w := range words {
		stop[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return &Pipeline{stop: stop}
}

// NewFromFile loads a stopword list from a file with one word per line,
// replacing the built-in set.
func NewFromFile(path string) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stopwords file: %w", err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if w := strings.TrimSpace(scanner.Text()); w != "" {
			words = append(words, w)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stopwords file: %w", err)
	}
	return NewWithStopwords(words), nil
}

// Tokenize lowercases s and extracts maximal word matches. Token positions
// are indices into the returned sequence.
func (p *Pipeline) Tokenize(s string) []string {
	return wordPattern.FindAllString(strings.ToLower(s), -1)
}

// NormalizeToken maps a single raw token to its index term. The second
// return is false when the token is filtered out (stopword or too short).
func (p *Pipeline) NormalizeToken(t string) (string, bool) {
	if len(t) <= 1 {
		return "", false
	}
	if _, ok := p.stop[t]; ok {
		return "", false
	}
	stemmed := english.Stem(t, false)
	if stemmed == "" {
		return "", false
	}
	return stemmed, true
}

// Normalize tokenizes s, filters stopwords and single-character tokens,
// and stems what remains.
func (p *Pipeline) Normalize(s string) Normalized {
	raw := p.Tokenize(s)
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if term, ok := p.NormalizeToken(t); ok {
			tokens = append(tokens, term)
		}
	}
	return Normalized{Tokens: tokens, Joined: strings.Join(tokens, " ")}
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// Summarize collapses runs of whitespace to single spaces, trims, and
// truncates to maxChars with a trailing ellipsis when over.
func Summarize(text string, maxChars int) string {
	clean := strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
	runes := []rune(clean)
	if len(runes) <= maxChars {
		return clean
	}
	return string(runes[:maxChars-1]) + "…"
}

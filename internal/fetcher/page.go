package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageRecord is the normalized page produced by the content fetch. HTML is
// carried only when the caller asked to keep it; the JSONL sink omits it
// otherwise.
type PageRecord struct {
	URL      string `json:"url"`
	FinalURL string `json:"final_url"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	HTML     string `json:"html,omitempty"`
}

// LinkResult is the link-discovery view of a fetched page.
type LinkResult struct {
	URL      string
	FinalURL string
	Title    string
	Links    []string
}

// FetchLinks fetches a URL and extracts its outbound absolute HTTP(S)
// links. Duplicates are preserved; the caller deduplicates.
func (f *Fetcher) FetchLinks(ctx context.Context, rawURL string) (*LinkResult, error) {
	res, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := parseHTML(res.body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	links := ExtractLinks(rawURL, doc)
	f.logger.Debug("links discovered", "url", rawURL, "final_url", res.finalURL, "links", len(links))
	return &LinkResult{
		URL:      rawURL,
		FinalURL: res.finalURL,
		Title:    cleanTitle(doc),
		Links:    links,
	}, nil
}

// FetchContent fetches a URL and extracts its title and visible text.
// The raw HTML is kept on the record only when keepHTML is set.
func (f *Fetcher) FetchContent(ctx context.Context, rawURL string, keepHTML bool) (*PageRecord, error) {
	res, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := parseHTML(res.body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	page := &PageRecord{
		URL:      rawURL,
		FinalURL: res.finalURL,
		Title:    cleanTitle(doc),
		Text:     visibleText(doc),
	}
	if keepHTML {
		page.HTML = string(res.body)
	}
	f.logger.Debug("content fetched", "url", rawURL, "final_url", res.finalURL, "text_len", len(page.Text))
	return page, nil
}

func parseHTML(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// cleanTitle returns the document title with entities decoded and runs of
// whitespace collapsed.
func cleanTitle(doc *goquery.Document) string {
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

// visibleText strips script, style and noscript subtrees and joins the
// remaining text with single spaces.
func visibleText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

var (
	absLinkPattern = regexp.MustCompile(`(?i)^https?://`)
	originPattern  = regexp.MustCompile(`(?i)^(https?://[^/]+)`)
)

// ExtractLinks pulls outbound absolute HTTP(S) links from anchors.
// Fragment-only hrefs are skipped and root-relative hrefs are resolved
// against the scheme://host of the fetch URL.
func ExtractLinks(fetchURL string, doc *goquery.Document) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if strings.HasPrefix(href, "/") {
			m := originPattern.FindStringSubmatch(fetchURL)
			if m == nil {
				return
			}
			href = m[1] + href
		}
		if absLinkPattern.MatchString(href) {
			links = append(links, href)
		}
	})
	return links
}

// SameDomain compares the host portions of two URLs case-insensitively.
// Exact match only; no public-suffix logic.
func SameDomain(a, b string) bool {
	return hostOf(a) != "" && strings.EqualFold(hostOf(a), hostOf(b))
}

func hostOf(rawURL string) string {
	m := originPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(m[1]), "https://"), "http://")
}

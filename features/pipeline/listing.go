package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pulpit/internal/config"
)

// Entry is one row of the external listing.
type Entry struct {
	Key      string
	Title    string
	MediaURL string
}

// Lister fetches one page of a reverse-chronological listing. Page
// numbering starts at 1. An empty result means the listing is
// exhausted.
type Lister interface {
	Page(ctx context.Context, page int) ([]Entry, error)
}

// HTMLLister reads a paginated HTML archive page using the selectors
// from the pipeline definition.
type HTMLLister struct {
	client  *http.Client
	def     config.PipelineDef
	timeout time.Duration
}

func NewHTMLLister(def config.PipelineDef, pageTimeout time.Duration) *HTMLLister {
	return &HTMLLister{
		client:  &http.Client{Timeout: pageTimeout},
		def:     def,
		timeout: pageTimeout,
	}
}

func (l *HTMLLister) Page(ctx context.Context, page int) ([]Entry, error) {
	pageURL, err := l.buildPageURL(page)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}
	req.Header.Set("User-Agent", "pulpit/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch listing page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing page %d returned %s", page, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing page %d: %w", page, err)
	}

	return l.extractEntries(doc), nil
}

func (l *HTMLLister) buildPageURL(page int) (string, error) {
	parsed, err := url.Parse(l.def.ListURL)
	if err != nil {
		return "", fmt.Errorf("invalid list url %s: %w", l.def.ListURL, err)
	}
	param := l.def.PageParam
	if param == "" {
		param = "page"
	}
	query := parsed.Query()
	query.Set(param, strconv.Itoa(page))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (l *HTMLLister) extractEntries(doc *goquery.Document) []Entry {
	var entries []Entry
	doc.Find(l.def.EntrySelector).Each(func(i int, sel *goquery.Selection) {
		entry := Entry{
			Key:      l.selectValue(sel, l.def.KeySelector, l.def.KeyAttr),
			Title:    strings.TrimSpace(sel.Find(l.def.TitleSelector).First().Text()),
			MediaURL: l.selectValue(sel, l.def.MediaSelector, l.def.MediaAttr),
		}
		if entry.Key == "" {
			return
		}
		entry.MediaURL = l.resolveURL(entry.MediaURL)
		entries = append(entries, entry)
	})
	return entries
}

func (l *HTMLLister) selectValue(sel *goquery.Selection, selector, attr string) string {
	target := sel
	if selector != "" {
		target = sel.Find(selector).First()
	}
	if attr == "" {
		return strings.TrimSpace(target.Text())
	}
	val, _ := target.Attr(attr)
	return strings.TrimSpace(val)
}

func (l *HTMLLister) resolveURL(href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	base, err := url.Parse(l.def.ListURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

package search

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/weblinq/weblinq-go/internal/metrics"
	"github.com/weblinq/weblinq-go/internal/types"
)

const (
	ddgLiteURL = "https://lite.duckduckgo.com/lite/"
	ddgHTMLURL = "https://html.duckduckgo.com/html/"
)

// DuckDuckGo queries the JS-free DDG endpoints: the lite table layout first,
// the full HTML page when lite parses to nothing. DDG is the strictest of
// the three engines about request pacing, so calls are serialized
// process-wide with a minimum 2s gap.
type DuckDuckGo struct {
	fetcher *Fetcher
	sel     *SelectorManager
	pacer   *rate.Limiter
	mu      sync.Mutex
}

// NewDuckDuckGo creates the engine.
func NewDuckDuckGo(fetcher *Fetcher, sel *SelectorManager) *DuckDuckGo {
	return &DuckDuckGo{
		fetcher: fetcher,
		sel:     sel,
		pacer:   rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

func (d *DuckDuckGo) Name() string { return engineDuckDuckGo }

// Search fetches and parses DDG results.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]types.SearchResult, error) {
	// The mutex keeps at most one DDG call in flight; the pacer enforces the
	// gap between consecutive calls. Spacing starts alone would let a slow
	// fetch overlap the next call.
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := d.fetcher.Get(ctx, ddgLiteURL+"?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	results, err := d.parseLite(body)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		metrics.RecordParserLayer(engineDuckDuckGo, "lite")
		return results, nil
	}

	// Lite layout drifted or served an empty shell; try the full page.
	body, err = d.fetcher.Get(ctx, ddgHTMLURL+"?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	results, err = d.parseFull(body)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		metrics.RecordParserLayer(engineDuckDuckGo, "full")
	}
	return results, nil
}

// parseLite walks the lite endpoint's table rows: a row's first anchor is
// the result link, the following row carries the snippet.
func (d *DuckDuckGo) parseLite(body []byte) ([]types.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo lite: %w", err)
	}

	var results []types.SearchResult
	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		link := row.Find("a[href]").First()
		if link.Length() == 0 {
			return true
		}
		href := unwrapDDGHref(link.AttrOr("href", ""))
		if !strings.HasPrefix(href, "http") {
			return true
		}
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}

		snippet := strings.TrimSpace(row.Next().Find(".result-snippet").Text())
		results = append(results, types.SearchResult{
			Title:   title,
			URL:     href,
			Snippet: snippet,
			Source:  engineDuckDuckGo,
		})
		return len(results) < maxPerEngine
	})
	return results, nil
}

func (d *DuckDuckGo) parseFull(body []byte) ([]types.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo html: %w", err)
	}
	sel := d.sel.Get().DuckDuckGo

	var results []types.SearchResult
	doc.Find(joined(sel.FullResults)).EachWithBreak(func(_ int, res *goquery.Selection) bool {
		link := httpAnchor(res, sel.FullTitleLinks)
		if link == nil {
			return true
		}
		href := unwrapDDGHref(link.AttrOr("href", ""))
		if !strings.HasPrefix(href, "http") {
			return true
		}
		title := linkText(link)
		if title == "" {
			return true
		}

		results = append(results, types.SearchResult{
			Title:   title,
			URL:     href,
			Snippet: firstMatching(res, sel.Snippets),
			Source:  engineDuckDuckGo,
		})
		return len(results) < maxPerEngine
	})
	return results, nil
}

// unwrapDDGHref resolves DDG's /l/?uddg= redirect wrapper to the target URL.
func unwrapDDGHref(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

package search

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/weblinq/weblinq-go/internal/types"
)

const startpageURL = "https://www.startpage.com/sp/search"

// Startpage queries startpage.com. Its markup drifts between several result
// block classes, so the selectors cover every variant seen in the wild.
type Startpage struct {
	fetcher *Fetcher
	sel     *SelectorManager
}

// NewStartpage creates the engine.
func NewStartpage(fetcher *Fetcher, sel *SelectorManager) *Startpage {
	return &Startpage{fetcher: fetcher, sel: sel}
}

func (s *Startpage) Name() string { return engineStartpage }

// Search fetches and parses startpage results.
func (s *Startpage) Search(ctx context.Context, query string) ([]types.SearchResult, error) {
	body, err := s.fetcher.Get(ctx, startpageURL+"?query="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	return s.parse(body)
}

func (s *Startpage) parse(body []byte) ([]types.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse startpage: %w", err)
	}
	sel := s.sel.Get().Startpage

	var results []types.SearchResult
	doc.Find(joined(sel.Results)).EachWithBreak(func(_ int, res *goquery.Selection) bool {
		link := httpAnchor(res, sel.TitleLinks)
		if link == nil {
			return true
		}
		href := link.AttrOr("href", "")
		if !strings.HasPrefix(href, "http") {
			return true
		}
		// Title anchors wrap favicon markup; strip it before taking text.
		title := linkText(link)
		if title == "" {
			return true
		}

		results = append(results, types.SearchResult{
			Title:   title,
			URL:     href,
			Snippet: firstMatching(res, sel.Snippets),
			Source:  engineStartpage,
		})
		return len(results) < maxPerEngine
	})
	return results, nil
}

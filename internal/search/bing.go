package search

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/metrics"
	"github.com/weblinq/weblinq-go/internal/types"
)

const (
	bingURL          = "https://www.bing.com/search?q="
	bingCaptchaDelay = 5 * time.Second
	minBingTitleLen  = 5
)

// Interstitial phrases bing serves instead of results when it suspects
// automation. Matched case-insensitively against the whole page.
var bingCaptchaMarkers = []string{
	"verify you are a human",
	"unusual traffic",
}

// Bing queries bing.com with layered parsers: the canonical result markup
// first, then progressively looser fallbacks for degraded page variants.
type Bing struct {
	fetcher *Fetcher
	sel     *SelectorManager
	clk     clock.Clock
}

// NewBing creates the engine.
func NewBing(fetcher *Fetcher, sel *SelectorManager, clk clock.Clock) *Bing {
	return &Bing{fetcher: fetcher, sel: sel, clk: clk}
}

func (b *Bing) Name() string { return engineBing }

// Search fetches and parses bing results. A CAPTCHA interstitial gets one
// retry after a 5s pause.
func (b *Bing) Search(ctx context.Context, query string) ([]types.SearchResult, error) {
	body, err := b.fetcher.Get(ctx, bingURL+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}

	if isBingCaptcha(body) {
		log.Warn().Msg("Bing served a CAPTCHA interstitial, retrying once")
		if err := b.clk.Sleep(ctx, bingCaptchaDelay); err != nil {
			return nil, err
		}
		body, err = b.fetcher.Get(ctx, bingURL+url.QueryEscape(query))
		if err != nil {
			return nil, err
		}
		if isBingCaptcha(body) {
			return nil, fmt.Errorf("bing CAPTCHA persisted after retry")
		}
	}

	return b.parse(body)
}

func isBingCaptcha(body []byte) bool {
	page := strings.ToLower(string(body))
	for _, marker := range bingCaptchaMarkers {
		if strings.Contains(page, marker) {
			return true
		}
	}
	return false
}

// parse tries each selector layer in order and keeps the first layer that
// yields anything. Anchors are deduped by href; stub titles are noise from
// pagination and footer links, skipped.
func (b *Bing) parse(body []byte) ([]types.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse bing: %w", err)
	}
	sel := b.sel.Get().Bing

	for i, layer := range sel.Layers {
		results := b.parseLayer(doc, layer, sel.Snippets)
		if len(results) > 0 {
			metrics.RecordParserLayer(engineBing, fmt.Sprintf("layer_%d", i+1))
			return results, nil
		}
	}
	return nil, nil
}

func (b *Bing) parseLayer(doc *goquery.Document, layer string, snippets []string) []types.SearchResult {
	var results []types.SearchResult
	seen := make(map[string]bool)

	doc.Find(layer).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href := cleanRedirectHref(link.AttrOr("href", ""))
		if !strings.HasPrefix(href, "http") || seen[href] {
			return true
		}
		title := linkText(link)
		if len(title) < minBingTitleLen {
			return true
		}
		seen[href] = true

		// Snippet lives next to the heading inside the result block.
		snippet := firstMatching(link.Closest("li, .b_algo"), snippets)
		results = append(results, types.SearchResult{
			Title:   title,
			URL:     href,
			Snippet: snippet,
			Source:  engineBing,
		})
		return len(results) < maxPerEngine
	})
	return results
}

package search

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/weblinq/weblinq-go/internal/types"
)

// Engine names double as the "source" field on results.
const (
	engineDuckDuckGo = "duckduckgo"
	engineStartpage  = "startpage"
	engineBing       = "bing"
)

// maxPerEngine caps what a single engine contributes to the union; the
// aggregator truncates to the requested limit after ranking.
const maxPerEngine = 10

// Engine is one search backend.
type Engine interface {
	Name() string
	Search(ctx context.Context, query string) ([]types.SearchResult, error)
}

// firstMatching returns the text of the first selector in the priority list
// that matches inside sel.
func firstMatching(sel *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		if found := sel.Find(s).First(); found.Length() > 0 {
			if text := strings.TrimSpace(found.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

// httpAnchor finds the preferred title link inside a result block: the
// configured selectors first, then any http(s) anchor.
func httpAnchor(sel *goquery.Selection, preferred []string) *goquery.Selection {
	for _, s := range preferred {
		if link := sel.Find(s).First(); link.Length() > 0 {
			return link
		}
	}
	var found *goquery.Selection
	sel.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			found = a
			return false
		}
		return true
	})
	return found
}

// linkText returns the anchor's visible text with icon markup removed. The
// anchor is cloned so stripping does not mutate the parsed document.
func linkText(link *goquery.Selection) string {
	clone := link.Clone()
	clone.Find("img, svg").Remove()
	return strings.TrimSpace(clone.Text())
}

// cleanRedirectHref unwraps engine redirect wrappers: GLinkRedirect-style
// links and any ?url=/&url= parameter carrying an absolute http(s) URL.
func cleanRedirectHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("url"); strings.HasPrefix(target, "http") {
		return target
	}
	if strings.Contains(href, "GLinkRedirect") {
		// Wrapper without a usable url param; nothing to unwrap.
		return href
	}
	return href
}

// Package runner executes the browser-backed web operations: lease a page,
// navigate, extract the operation's payload, release.
package runner

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/extract"
	"github.com/weblinq/weblinq-go/internal/harden"
	"github.com/weblinq/weblinq-go/internal/markdown"
	"github.com/weblinq/weblinq-go/internal/pool"
	"github.com/weblinq/weblinq-go/internal/security"
	"github.com/weblinq/weblinq-go/internal/types"
)

// Runner executes web operations on leased browser pages.
type Runner struct {
	pool *pool.Pool
	nav  *harden.Navigator
	conv *markdown.Converter
	ai   *extract.Client
	clk  clock.Clock
}

// New creates a Runner. The AI client may be nil when json-extraction is not
// configured; Extract then fails cleanly per call.
func New(p *pool.Pool, nav *harden.Navigator, conv *markdown.Converter, ai *extract.Client, clk clock.Clock) *Runner {
	return &Runner{pool: p, nav: nav, conv: conv, ai: ai, clk: clk}
}

// withPage runs fn on a freshly leased, navigated page. The lease is
// released on every exit path including panics in fn.
func (r *Runner) withPage(ctx context.Context, rawURL string, opts pool.LeaseOptions, waitUntil harden.WaitUntil, navTimeout time.Duration, waitTimeMs int, fn func(page *rod.Page) error) error {
	lease, err := r.pool.Lease(ctx, opts)
	if err != nil {
		return err
	}
	defer lease.Release()

	if err := r.nav.GotoWithRetry(ctx, lease.Page, rawURL, waitUntil, navTimeout); err != nil {
		log.Warn().Err(err).Str("url", security.RedactURL(rawURL)).Msg("Navigation failed")
		return err
	}
	if waitTimeMs > 0 {
		if err := r.clk.Sleep(ctx, time.Duration(waitTimeMs)*time.Millisecond); err != nil {
			return err
		}
	}
	return fn(lease.Page)
}

// Markdown renders the page and converts its HTML to markdown.
func (r *Runner) Markdown(ctx context.Context, req *types.MarkdownRequest) (*types.MarkdownData, error) {
	var data *types.MarkdownData
	err := r.withPage(ctx, req.URL, pool.LeaseOptions{BlockResources: true}, harden.WaitDOMContentLoaded, 0, req.WaitTime, func(page *rod.Page) error {
		html, err := page.HTML()
		if err != nil {
			return err
		}
		md, err := r.conv.Convert(html)
		if err != nil {
			return err
		}
		data = &types.MarkdownData{
			Markdown: md,
			Metadata: types.MarkdownMetadata{
				URL:       req.URL,
				WordCount: markdown.WordCount(md),
				Timestamp: r.clk.Now().UTC(),
			},
		}
		return nil
	})
	return data, err
}

// Content returns the rendered page HTML verbatim.
func (r *Runner) Content(ctx context.Context, req *types.ContentRequest) (*types.ContentData, error) {
	var data *types.ContentData
	err := r.withPage(ctx, req.URL, pool.LeaseOptions{BlockResources: true}, harden.WaitDOMContentLoaded, 0, req.WaitTime, func(page *rod.Page) error {
		html, err := page.HTML()
		if err != nil {
			return err
		}
		data = &types.ContentData{
			Content:     html,
			ContentType: "text/html",
			Metadata: types.ContentMetadata{
				URL:       req.URL,
				Length:    len(html),
				Timestamp: r.clk.Now().UTC(),
			},
		}
		return nil
	})
	return data, err
}

// collectAnchorsJS gathers every absolute http(s) anchor with its visible
// text. Runs in the page so href resolution follows the document base.
const collectAnchorsJS = `() => Array.from(document.querySelectorAll('a[href]'))
	.map(a => ({ href: a.href, text: (a.textContent || '').trim() }))
	.filter(l => l.href.startsWith('http://') || l.href.startsWith('https://'))`

type pageAnchor struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Links extracts and classifies the page's anchors.
func (r *Runner) Links(ctx context.Context, req *types.LinksRequest) (*types.LinksData, error) {
	var data *types.LinksData
	err := r.withPage(ctx, req.URL, pool.LeaseOptions{BlockResources: true}, harden.WaitDOMContentLoaded, 0, req.WaitTime, func(page *rod.Page) error {
		obj, err := page.Eval(collectAnchorsJS)
		if err != nil {
			return err
		}
		var anchors []pageAnchor
		raw, err := json.Marshal(obj.Value)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &anchors); err != nil {
			return err
		}

		links, internal, external := assembleLinks(anchors, normalizedHost(req.URL), req.External())

		data = &types.LinksData{
			Links: links,
			Metadata: types.LinksMetadata{
				URL:           req.URL,
				TotalLinks:    len(links),
				InternalLinks: internal,
				ExternalLinks: external,
				Timestamp:     r.clk.Now().UTC(),
			},
		}
		return nil
	})
	return data, err
}

// assembleLinks classifies anchors against the base hostname, dropping
// externals when they are excluded. Counts cover the returned set only, so
// excluding externals leaves an external count of zero.
func assembleLinks(anchors []pageAnchor, baseHost string, includeExternal bool) ([]types.Link, int, int) {
	var links []types.Link
	internal, external := 0, 0
	for _, a := range anchors {
		kind := classifyLink(a.Href, baseHost)
		if kind == "external" && !includeExternal {
			continue
		}
		if kind == "internal" {
			internal++
		} else {
			external++
		}
		links = append(links, types.Link{URL: a.Href, Text: a.Text, Type: kind})
	}
	return links, internal, external
}

// classifyLink labels a link internal when its hostname matches the base
// hostname, both with any leading "www." stripped. Links that do not parse
// get classified internal rather than leaking as external.
func classifyLink(rawURL, baseHost string) string {
	host := normalizedHost(rawURL)
	if host == "" || host == baseHost {
		return "internal"
	}
	return "external"
}

func normalizedHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

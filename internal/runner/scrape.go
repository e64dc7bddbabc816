package runner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/weblinq/weblinq-go/internal/harden"
	"github.com/weblinq/weblinq-go/internal/pool"
	"github.com/weblinq/weblinq-go/internal/security"
	"github.com/weblinq/weblinq-go/internal/types"
)

// maxElementsPerSelector caps what one selector may capture.
const maxElementsPerSelector = 50

// scrapeElementsJS captures up to 50 matches for a selector: outer HTML,
// bounding rect and the (optionally filtered) attribute map. Text is derived
// server-side from the HTML.
const scrapeElementsJS = `(selector, attrFilter, max) => {
	return Array.from(document.querySelectorAll(selector)).slice(0, max).map(el => {
		const rect = el.getBoundingClientRect();
		const attrs = {};
		for (const a of el.attributes) {
			if (!attrFilter || attrFilter.length === 0 || attrFilter.includes(a.name)) {
				attrs[a.name] = a.value;
			}
		}
		return {
			html: el.outerHTML,
			top: rect.top, left: rect.left,
			width: rect.width, height: rect.height,
			attributes: attrs
		};
	});
}`

type scrapedElementJS struct {
	HTML       string            `json:"html"`
	Top        float64           `json:"top"`
	Left       float64           `json:"left"`
	Width      float64           `json:"width"`
	Height     float64           `json:"height"`
	Attributes map[string]string `json:"attributes"`
}

// Scrape captures DOM elements by CSS selector from the fully loaded page.
// Unlike the other operations it manages its own lease: client headers must
// be installed before navigation so the document request itself carries
// them, not only later subresource fetches.
func (r *Runner) Scrape(ctx context.Context, req *types.ScrapeRequest) (*types.ScrapeData, error) {
	lease, err := r.pool.Lease(ctx, pool.LeaseOptions{BlockResources: true})
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	page := lease.Page

	if len(req.Headers) > 0 {
		if err := applyExtraHeaders(page, req.Headers); err != nil {
			return nil, err
		}
	}
	if err := r.nav.GotoWithRetry(ctx, page, req.URL, harden.WaitNetworkIdle, 0); err != nil {
		log.Warn().Err(err).Str("url", security.RedactURL(req.URL)).Msg("Navigation failed")
		return nil, err
	}
	if req.WaitTime > 0 {
		if err := r.clk.Sleep(ctx, time.Duration(req.WaitTime)*time.Millisecond); err != nil {
			return nil, err
		}
	}

	results := make([]types.SelectorResult, 0, len(req.Elements))
	total := 0
	for _, el := range req.Elements {
		obj, err := page.Eval(scrapeElementsJS, el.Selector, el.Attributes, maxElementsPerSelector)
		if err != nil {
			return nil, err
		}
		var captured []scrapedElementJS
		raw, err := json.Marshal(obj.Value)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &captured); err != nil {
			return nil, err
		}

		elements := make([]types.ScrapedElement, 0, len(captured))
		for _, c := range captured {
			attrs := c.Attributes
			if attrs == nil {
				attrs = map[string]string{}
			}
			elements = append(elements, types.ScrapedElement{
				HTML:       c.HTML,
				Text:       ElementText(c.HTML),
				Top:        c.Top,
				Left:       c.Left,
				Width:      c.Width,
				Height:     c.Height,
				Attributes: attrs,
			})
		}
		total += len(elements)
		results = append(results, types.SelectorResult{
			Selector: el.Selector,
			Count:    len(elements),
			Elements: elements,
		})
	}

	return &types.ScrapeData{
		Elements: results,
		Metadata: types.ScrapeMetadata{
			URL:           req.URL,
			TotalElements: total,
			Timestamp:     r.clk.Now().UTC(),
		},
	}, nil
}

// mergeHeaders lays client headers over the identity set. Setting extra
// headers replaces the whole map, so the identity headers must ride along
// or they would be lost.
func mergeHeaders(extra map[string]string) map[string]string {
	merged := harden.IdentityHeaders()
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func applyExtraHeaders(page *rod.Page, extra map[string]string) error {
	merged := mergeHeaders(extra)
	headers := make(map[string]gson.JSON, len(merged))
	for k, v := range merged {
		headers[k] = gson.New(v)
	}
	return proto.NetworkSetExtraHTTPHeaders{Headers: headers}.Call(page)
}

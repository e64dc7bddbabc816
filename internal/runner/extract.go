package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/extract"
	"github.com/weblinq/weblinq-go/internal/harden"
	"github.com/weblinq/weblinq-go/internal/markdown"
	"github.com/weblinq/weblinq-go/internal/pool"
	"github.com/weblinq/weblinq-go/internal/types"
)

// pageContextJS collects the extraction context in one round trip: title,
// meta description and every JSON-LD block.
const pageContextJS = `() => ({
	title: document.title || '',
	metaDescription: (document.querySelector('meta[name="description"]') || {}).content || '',
	jsonLd: Array.from(document.querySelectorAll('script[type="application/ld+json"]'))
		.map(s => s.textContent || '')
})`

type pageContextJSON struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"metaDescription"`
	JSONLD          []string `json:"jsonLd"`
}

// Extract renders the page, builds the token-budgeted payload and asks the
// model for the structured answer.
func (r *Runner) Extract(ctx context.Context, req *types.ExtractRequest) (*types.ExtractData, error) {
	if r.ai == nil {
		return nil, fmt.Errorf("json extraction is not configured")
	}

	var (
		md string
		pc extract.PageContext
	)
	err := r.withPage(ctx, req.URL, pool.LeaseOptions{BlockResources: true}, harden.WaitDOMContentLoaded, 0, req.WaitTime, func(page *rod.Page) error {
		html, err := page.HTML()
		if err != nil {
			return err
		}
		md, err = r.conv.Convert(html)
		if err != nil {
			return err
		}

		obj, err := page.Eval(pageContextJS)
		if err != nil {
			return err
		}
		var pcj pageContextJSON
		raw, err := json.Marshal(obj.Value)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &pcj); err != nil {
			return err
		}

		pc = extract.PageContext{
			Title:           pcj.Title,
			MetaDescription: pcj.MetaDescription,
			URL:             req.URL,
			WordCount:       markdown.WordCount(md),
		}
		for _, block := range pcj.JSONLD {
			// Pages ship broken JSON-LD all the time; skip silently.
			if json.Valid([]byte(block)) {
				pc.JSONLD = append(pc.JSONLD, block)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := extract.BuildPayload(pc, md)
	if payload.Truncated {
		log.Debug().
			Int("original_tokens", payload.OriginalTokens).
			Int("final_tokens", payload.FinalTokens).
			Msg("Extraction payload truncated to fit the model context")
	}

	opts := extract.Options{
		ResponseType: req.ResponseType,
		Prompt:       req.Prompt,
		Instructions: req.Instructions,
	}
	if req.ResponseFormat != nil {
		opts.Schema = req.ResponseFormat.JSONSchema
	}

	res, err := r.ai.Chat(ctx, payload.Text, opts)
	if err != nil {
		return nil, err
	}

	var extracted any
	if req.ResponseType == "json" {
		cleaned, strategy, err := extract.CleanJSON(res.Content)
		if err != nil {
			return nil, fmt.Errorf("model answer is not valid JSON: %w", err)
		}
		if strategy != "direct" {
			log.Debug().Str("strategy", strategy).Msg("Model answer needed JSON cleanup")
		}
		extracted = json.RawMessage(cleaned)
	} else {
		extracted = res.Content
	}

	return &types.ExtractData{
		Extracted: extracted,
		Metadata: types.ExtractMetadata{
			URL:                   req.URL,
			ResponseType:          req.ResponseType,
			InputTokens:           res.InputTokens,
			OutputTokens:          res.OutputTokens,
			OriginalContentTokens: payload.OriginalTokens,
			FinalContentTokens:    payload.FinalTokens,
			ContentTruncated:      payload.Truncated,
		},
	}, nil
}

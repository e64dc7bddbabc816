package extract

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Token budget for the extraction payload: the model context minus the
// completion reserve and a safety margin for the chat scaffolding.
const (
	modelContextTokens  = 24000
	completionReserve   = 4096
	scaffoldingReserve  = 500
	PayloadTokenBudget  = modelContextTokens - completionReserve - scaffoldingReserve
	truncationMarker    = "[Content truncated due to length...]"
	tokenizerEncoding   = "cl100k_base"
	fallbackCharsPerTok = 4
)

// PageContext is the browser-pass material that frames the markdown.
type PageContext struct {
	Title           string
	MetaDescription string
	URL             string
	WordCount       int
	JSONLD          []string // raw ld+json blocks, invalid ones already dropped
}

// Payload is the composed, budgeted model input.
type Payload struct {
	Text           string
	OriginalTokens int
	FinalTokens    int
	Truncated      bool
}

// CountTokens counts payload tokens with the cl100k_base tokenizer,
// falling back to ceil(chars/4) when the tokenizer is unavailable.
func CountTokens(text string) int {
	enc, err := tiktoken.GetEncoding(tokenizerEncoding)
	if err != nil {
		log.Warn().Err(err).Msg("Tokenizer unavailable, using character estimate")
		return (len(text) + fallbackCharsPerTok - 1) / fallbackCharsPerTok
	}
	return len(enc.Encode(text, nil, nil))
}

// BuildPayload composes the model input from the page context and markdown,
// then trims whole paragraphs from the tail until the token budget holds.
func BuildPayload(pc PageContext, markdown string) Payload {
	header := fmt.Sprintf(
		"Page Title: %s\nMeta Description: %s\nPage URL: %s\nWord Count: %d\n",
		pc.Title, pc.MetaDescription, pc.URL, pc.WordCount,
	)

	var b strings.Builder
	b.WriteString(header)
	if len(pc.JSONLD) > 0 {
		b.WriteString("\nStructured Data (JSON-LD):\n")
		for _, block := range pc.JSONLD {
			b.WriteString(block)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nPage Content (Structured Markdown):\n")
	prefix := b.String()

	full := prefix + markdown
	originalTokens := CountTokens(full)
	if originalTokens <= PayloadTokenBudget {
		return Payload{
			Text:           full,
			OriginalTokens: originalTokens,
			FinalTokens:    originalTokens,
		}
	}

	paragraphs := strings.Split(markdown, "\n\n")
	for len(paragraphs) > 1 {
		paragraphs = paragraphs[:len(paragraphs)-1]
		candidate := prefix + strings.Join(paragraphs, "\n\n") + "\n\n" + truncationMarker
		if tokens := CountTokens(candidate); tokens <= PayloadTokenBudget {
			return Payload{
				Text:           candidate,
				OriginalTokens: originalTokens,
				FinalTokens:    tokens,
				Truncated:      true,
			}
		}
	}

	// Even a single paragraph blows the budget: fall back to a hard
	// character cut on the estimate so the call can still go out.
	keep := PayloadTokenBudget * fallbackCharsPerTok
	if keep > len(full) {
		keep = len(full)
	}
	candidate := full[:keep] + "\n\n" + truncationMarker
	return Payload{
		Text:           candidate,
		OriginalTokens: originalTokens,
		FinalTokens:    CountTokens(candidate),
		Truncated:      true,
	}
}

// Package markdown turns rendered page HTML into clean markdown: a
// sanitizing allowlist, a DOM pre-cleanup pass, the HTML→markdown
// conversion itself and a set of text-level normalization rules.
package markdown

import (
	"fmt"
	"regexp"
	"strings"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var (
	wordRe        = regexp.MustCompile(`\b\w+\b`)
	newlineRunRe  = regexp.MustCompile(`\n{3,}`)
	headingLineRe = regexp.MustCompile(`(?m)^(#{7,})\s*`)
)

// Converter is a reusable HTML→markdown pipeline. Safe for concurrent use.
type Converter struct {
	policy *bluemonday.Policy
	md     *htmltomd.Converter
}

// NewConverter builds the pipeline with the prose allowlist.
func NewConverter() *Converter {
	return &Converter{
		policy: prosePolicy(),
		md:     htmltomd.NewConverter("", true, nil),
	}
}

// prosePolicy permits standard prose markup, anchors, and images with their
// sizing attributes. URL schemes are limited to http, https and data.
func prosePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"h1", "h2", "h3", "h4", "h5", "h6",
		"p", "br", "hr",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"em", "strong", "b", "i", "u", "s", "del", "mark", "sub", "sup",
		"a", "img",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption",
		"dl", "dt", "dd",
		"figure", "figcaption",
		"div", "span", "section", "article", "main", "aside", "header", "footer", "nav",
	)
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("src", "alt", "title", "width", "height", "loading").OnElements("img")
	p.AllowURLSchemes("http", "https", "data")
	return p
}

// Convert sanitizes html and produces normalized markdown.
func (c *Converter) Convert(html string) (string, error) {
	sanitized := c.policy.Sanitize(html)

	cleaned, err := domCleanup(sanitized)
	if err != nil {
		return "", fmt.Errorf("markdown pre-cleanup: %w", err)
	}

	md, err := c.md.ConvertString(cleaned)
	if err != nil {
		return "", fmt.Errorf("markdown conversion: %w", err)
	}

	md = demoteDeepHeadings(md)
	md = collapseDuplicateParagraphs(md)
	md = dropEchoedLinkURLs(md)
	md = newlineRunRe.ReplaceAllString(md, "\n\n")

	return strings.TrimSpace(md), nil
}

// WordCount counts \b\w+\b matches, the service-wide definition of a word.
func WordCount(markdown string) int {
	return len(wordRe.FindAllStringIndex(markdown, -1))
}

// domCleanup applies the structural rules that are easier on the DOM than
// on markdown text: protocol-relative links get an https prefix, paragraphs
// that duplicate the heading right after them are dropped, and anchors with
// no visible content are unwrapped out of the document.
func domCleanup(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if strings.HasPrefix(href, "//") {
			sel.SetAttr("href", "https:"+href)
		}
	})

	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		next := sel.Next()
		if next.Length() == 0 || !next.Is("h1,h2,h3,h4,h5,h6") {
			return
		}
		if normalizeText(sel.Text()) != "" && normalizeText(sel.Text()) == normalizeText(next.Text()) {
			sel.Remove()
		}
	})

	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		if strings.TrimSpace(sel.Text()) == "" && sel.Find("img").Length() == 0 {
			sel.Remove()
		}
	})

	body := doc.Find("body")
	if body.Length() == 0 {
		return doc.Html()
	}
	return body.Html()
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// demoteDeepHeadings clamps heading markers deeper than level 6.
func demoteDeepHeadings(md string) string {
	return headingLineRe.ReplaceAllString(md, "###### ")
}

// collapseDuplicateParagraphs drops a paragraph when it repeats the one
// immediately before it.
func collapseDuplicateParagraphs(md string) string {
	paragraphs := strings.Split(md, "\n\n")
	out := paragraphs[:0]
	var prev string
	for _, p := range paragraphs {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" && trimmed == prev {
			continue
		}
		out = append(out, p)
		if trimmed != "" {
			prev = trimmed
		}
	}
	return strings.Join(out, "\n\n")
}

// dropEchoedLinkURLs removes a trailing text run that merely repeats the
// URL of the link right before it, a common conversion artifact.
func dropEchoedLinkURLs(md string) string {
	paragraphs := strings.Split(md, "\n\n")
	for i, p := range paragraphs {
		paragraphs[i] = dropEchoInParagraph(p)
	}
	return strings.Join(paragraphs, "\n\n")
}

func dropEchoInParagraph(p string) string {
	close := strings.LastIndex(p, "](")
	if close < 0 {
		return p
	}
	rest := p[close+2:]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return p
	}
	url := rest[:end]
	tail := strings.TrimSpace(rest[end+1:])
	if tail == url || tail == strings.TrimSuffix(url, "/") {
		return strings.TrimRight(p[:close+2+end+1], " \t")
	}
	return p
}

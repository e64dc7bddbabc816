package runner

import (
	"strings"

	"golang.org/x/net/html"
)

// ElementText flattens an element's HTML to readable text: block boundaries
// become line breaks, list items stay inline without bullet prefixes,
// headings keep their original case, and the non-empty lines are joined with
// ", ".
func ElementText(rawHTML string) string {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return strings.TrimSpace(rawHTML)
	}

	var b strings.Builder
	walkText(root, &b)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if trimmed := strings.TrimSpace(collapseSpaces(line)); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, ", ")
}

// blockTags force a line break around their content. li is deliberately
// absent so list items render inline.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "table": true, "tr": true,
	"br": true, "header": true, "footer": true, "blockquote": true,
}

var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
}

func walkText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skippedTags[n.Data] {
			return
		}
		if blockTags[n.Data] {
			b.WriteByte('\n')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
	if n.Type == html.ElementNode {
		if blockTags[n.Data] {
			b.WriteByte('\n')
		} else if n.Data == "li" {
			// Separate sibling items without starting a new line.
			b.WriteByte(' ')
		}
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

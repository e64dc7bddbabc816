// Package search aggregates results from duckduckgo, startpage and bing.
package search

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectorsFS embed.FS

// Selectors holds the per-engine result selectors. Engines treat multi-entry
// lists as a priority order and fall back down the list when a layer finds
// nothing.
type Selectors struct {
	DuckDuckGo DuckDuckGoSelectors `yaml:"duckduckgo"`
	Startpage  StartpageSelectors  `yaml:"startpage"`
	Bing       BingSelectors       `yaml:"bing"`
}

// DuckDuckGoSelectors covers the full-HTML fallback endpoint. The lite
// endpoint is plain table rows and needs no configurable selectors.
type DuckDuckGoSelectors struct {
	FullResults    []string `yaml:"full_results"`
	FullTitleLinks []string `yaml:"full_title_links"`
	Snippets       []string `yaml:"snippets"`
}

// StartpageSelectors covers the startpage result markup variants.
type StartpageSelectors struct {
	Results    []string `yaml:"results"`
	TitleLinks []string `yaml:"title_links"`
	Snippets   []string `yaml:"snippets"`
}

// BingSelectors lists parser layers in priority order.
type BingSelectors struct {
	Layers   []string `yaml:"layers"`
	Snippets []string `yaml:"snippets"`
}

// Validate requires each engine to have at least one result selector.
func (s *Selectors) Validate() error {
	if len(s.DuckDuckGo.FullResults) == 0 {
		return fmt.Errorf("selectors missing duckduckgo.full_results")
	}
	if len(s.Startpage.Results) == 0 {
		return fmt.Errorf("selectors missing startpage.results")
	}
	if len(s.Bing.Layers) == 0 {
		return fmt.Errorf("selectors missing bing.layers")
	}
	return nil
}

// joined turns a selector list into one goquery group selector.
func joined(selectors []string) string {
	return strings.Join(selectors, ", ")
}

var (
	embeddedSelectors *Selectors
	embeddedOnce      sync.Once
)

// EmbeddedSelectors returns the compiled-in selector set.
func EmbeddedSelectors() *Selectors {
	embeddedOnce.Do(func() {
		data, err := defaultSelectorsFS.ReadFile("selectors.yaml")
		if err != nil {
			log.Error().Err(err).Msg("Embedded selectors unreadable, using hardcoded fallback")
			embeddedSelectors = fallbackSelectors()
			return
		}
		var s Selectors
		if err := yaml.Unmarshal(data, &s); err != nil {
			log.Error().Err(err).Msg("Embedded selectors invalid, using hardcoded fallback")
			embeddedSelectors = fallbackSelectors()
			return
		}
		embeddedSelectors = &s
	})
	return embeddedSelectors
}

// fallbackSelectors mirrors selectors.yaml so a broken embed still searches.
func fallbackSelectors() *Selectors {
	return &Selectors{
		DuckDuckGo: DuckDuckGoSelectors{
			FullResults:    []string{".result", ".result__body"},
			FullTitleLinks: []string{"a.result-link", "a.result__a"},
			Snippets:       []string{".result__snippet", "td.result-snippet"},
		},
		Startpage: StartpageSelectors{
			Results:    []string{".w-gl__result", ".result-item", ".search-result", ".result", "article.result", `[data-testid="result"]`},
			TitleLinks: []string{`[data-testid="result-title-a"]`},
			Snippets:   []string{".w-gl__description", ".result-snippet", "p"},
		},
		Bing: BingSelectors{
			Layers: []string{
				".b_algo h2 a[href^='http']",
				"#b_results li a[href^='http']",
				"#b_content a[href^='http']",
			},
			Snippets: []string{".b_caption p"},
		},
	}
}

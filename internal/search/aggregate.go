package search

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/metrics"
	"github.com/weblinq/weblinq-go/internal/types"
)

// engineStagger spaces engine starts so one query does not hit all three
// backends in the same instant.
const engineStagger = 500 * time.Millisecond

// Aggregator fans a query out to the engines and merges their results into
// one ranked, deduplicated list.
type Aggregator struct {
	engines []Engine
	limiter *RateLimiter
	clk     clock.Clock
}

// New builds the aggregator with the standard engine set.
func New(fetcher *Fetcher, sel *SelectorManager, clk clock.Clock) *Aggregator {
	return &Aggregator{
		engines: []Engine{
			NewDuckDuckGo(fetcher, sel),
			NewStartpage(fetcher, sel),
			NewBing(fetcher, sel, clk),
		},
		limiter: NewRateLimiter(clk),
		clk:     clk,
	}
}

// NewWithEngines builds an aggregator over an explicit engine set.
func NewWithEngines(engines []Engine, clk clock.Clock) *Aggregator {
	return &Aggregator{engines: engines, limiter: NewRateLimiter(clk), clk: clk}
}

// SetQuota overrides the per-(client ip, engine) request quota.
func (a *Aggregator) SetQuota(limit int, window time.Duration) {
	a.limiter.SetQuota(limit, window)
}

// Search runs the query on every engine the client still has quota for.
// Engine failures degrade the result set; only an empty union is an error.
func (a *Aggregator) Search(ctx context.Context, query string, limit int, clientIP string) (*types.SearchData, error) {
	start := a.clk.Now()

	var (
		mu        sync.Mutex
		perEngine = make(map[string][]types.SearchResult)
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, engine := range a.engines {
		delay := time.Duration(i) * engineStagger
		g.Go(func() error {
			if err := a.clk.Sleep(gctx, delay); err != nil {
				return nil
			}
			if !a.limiter.Allow(clientIP, engine.Name()) {
				metrics.RecordEngine(engine.Name(), "rate_limited")
				log.Warn().Str("engine", engine.Name()).Str("ip", clientIP).
					Msg("Engine quota spent for client, skipping")
				return nil
			}

			results, err := engine.Search(gctx, query)
			if err != nil {
				metrics.RecordEngine(engine.Name(), "error")
				log.Warn().Err(err).Str("engine", engine.Name()).Msg("Engine search failed")
				return nil
			}
			metrics.RecordEngine(engine.Name(), "ok")

			mu.Lock()
			perEngine[engine.Name()] = results
			mu.Unlock()
			return nil
		})
	}
	// Engine errors are swallowed above; Wait only observes ctx teardown.
	_ = g.Wait()

	var union []types.SearchResult
	var sources []string
	for _, engine := range a.engines {
		if results := perEngine[engine.Name()]; len(results) > 0 {
			union = append(union, results...)
			sources = append(sources, engine.Name())
		}
	}
	if len(union) == 0 {
		return nil, types.ErrNoSearchResults
	}

	ranked := dedupeAndRank(union, limit)
	elapsed := a.clk.Now().Sub(start)
	metrics.SearchDuration.Observe(elapsed.Seconds())

	log.Info().
		Str("query", query).
		Int("results", len(ranked)).
		Strs("sources", sources).
		Dur("elapsed", elapsed).
		Msg("Search aggregated")

	return &types.SearchData{
		Results: ranked,
		Metadata: types.SearchMetadata{
			Query:        query,
			TotalResults: len(ranked),
			Sources:      sources,
			SearchTime:   elapsed.Milliseconds(),
		},
	}, nil
}

// dedupeAndRank groups results by (origin, pathname), scores each against
// its group size, keeps the best representative per group and returns the
// top `limit` by score.
func dedupeAndRank(results []types.SearchResult, limit int) []types.SearchResult {
	groups := make(map[string][]types.SearchResult)
	var order []string
	for _, r := range results {
		key := dedupeKey(r.URL)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	type scored struct {
		result types.SearchResult
		score  int
	}
	best := make([]scored, 0, len(order))
	for _, key := range order {
		group := groups[key]
		top := scored{score: -1}
		for _, r := range group {
			if s := score(r, len(group)); s > top.score {
				top = scored{result: r, score: s}
			}
		}
		best = append(best, top)
	}

	sort.SliceStable(best, func(i, j int) bool { return best[i].score > best[j].score })
	if len(best) > limit {
		best = best[:limit]
	}

	out := make([]types.SearchResult, len(best))
	for i, s := range best {
		out[i] = s.result
	}
	return out
}

// dedupeKey is the lowercased origin plus pathname; query strings and
// fragments do not distinguish results. Unparseable URLs fall back to the
// raw string.
func dedupeKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host + u.Path)
}

// score ranks one result. Agreement between engines (group size) dominates;
// richer snippets and tighter titles break ties; well-known reference hosts
// get a fixed boost.
func score(r types.SearchResult, groupSize int) int {
	s := len(r.Snippet) / 10
	if s > 50 {
		s = 50
	}
	s += groupSize * 20
	if d := 100 - len(r.Title); d > 0 {
		s += d
	}

	host := strings.ToLower(r.URL)
	switch {
	case strings.Contains(host, "wikipedia"):
		s += 30
	case strings.Contains(host, "stackoverflow"):
		s += 25
	case strings.Contains(host, "github"):
		s += 20
	case strings.Contains(host, ".edu") || strings.Contains(host, ".gov"):
		s += 15
	}

	if r.Source == engineStartpage {
		s += 8
	}
	return s
}

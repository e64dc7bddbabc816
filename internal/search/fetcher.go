package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/clock"
)

const (
	fetchTimeout    = 20 * time.Second
	maxFetchRetries = 2
	maxResponseSize = 10 << 20 // 10MB
)

// userAgents rotate per request so one process does not present a single
// fingerprint to the engines.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:125.0) Gecko/20100101 Firefox/125.0",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.8,de;q=0.5",
}

// Fetcher is the HTTP client shared by all engines: rotated identity
// headers, keep-alive connections, bounded retries.
type Fetcher struct {
	http *http.Client
	rnd  clock.Rand
	clk  clock.Clock
}

// NewFetcher creates the shared fetcher.
func NewFetcher(rnd clock.Rand, clk clock.Clock) *Fetcher {
	return &Fetcher{
		http: &http.Client{
			Timeout: fetchTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rnd: rnd,
		clk: clk,
	}
}

// SetTimeout overrides the default per-request timeout.
func (f *Fetcher) SetTimeout(d time.Duration) {
	if d > 0 {
		f.http.Timeout = d
	}
}

// Get fetches url with up to two retries, backing off 1s then 2s. Non-2xx
// statuses count as failures like transport errors do.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxFetchRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			log.Debug().Str("url", url).Int("attempt", attempt+1).Dur("backoff", backoff).
				Msg("Retrying engine fetch")
			if err := f.clk.Sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		body, err := f.getOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// A captcha wall or an outright ban will not clear within the
		// retry budget; only rate limits are worth waiting out.
		var blocked *blockError
		if errors.As(err, &blocked) && !blocked.retryable() {
			log.Warn().Str("url", url).Str("code", blocked.info.Code).
				Msg("Engine blocked the fetch, not retrying")
			return nil, err
		}
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", maxFetchRetries+1, lastErr)
}

func (f *Fetcher) getOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgents[f.rnd.Intn(len(userAgents))])
	req.Header.Set("Accept-Language", acceptLanguages[f.rnd.Intn(len(acceptLanguages))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Connection", "keep-alive")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if info := detectBlock(resp.StatusCode, body); info.Detected {
			return nil, &blockError{status: resp.StatusCode, info: info}
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}

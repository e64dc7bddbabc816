package search

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/weblinq/weblinq-go/internal/clock"
)

const ddgLiteGolden = `<html><body><form><table>
<tr><td>1.</td><td><a rel="nofollow" href="/l/?uddg=https%3A%2F%2Fopenai.com%2F&amp;rut=abc">OpenAI</a></td></tr>
<tr><td></td><td class="result-snippet">Creating safe AGI that benefits all of humanity.</td></tr>
<tr><td>2.</td><td><a rel="nofollow" href="https://en.wikipedia.org/wiki/OpenAI">OpenAI - Wikipedia</a></td></tr>
<tr><td></td><td class="result-snippet">OpenAI is an AI research organization.</td></tr>
<tr><td></td><td><a href="/lite/?q=openai&amp;s=30">Next Page</a></td></tr>
</table></form></body></html>`

const ddgFullGolden = `<html><body>
<div class="result results_links results_links_deep web-result">
  <div class="result__body">
    <h2 class="result__title"><a class="result__a" href="https://openai.com/">OpenAI</a></h2>
    <a class="result__snippet" href="https://openai.com/">Creating safe AGI.</a>
  </div>
</div>
</body></html>`

const startpageGolden = `<html><body>
<div class="w-gl__result">
  <a data-testid="result-title-a" href="https://openai.com/"><img src="favicon.ico"><svg></svg>OpenAI</a>
  <p class="w-gl__description">AI research and deployment company.</p>
</div>
<div class="w-gl__result">
  <a data-testid="result-title-a" href="ftp://not-http.example.com/">Bad scheme</a>
</div>
</body></html>`

const bingGolden = `<html><body><ol id="b_results">
<li class="b_algo">
  <h2><a href="https://www.bing.com/ck/a?GLinkRedirect=1&amp;url=https%3A%2F%2Fopenai.com%2F">OpenAI official site</a></h2>
  <div class="b_caption"><p>Pioneering research on the path to AGI.</p></div>
</li>
<li class="b_algo">
  <h2><a href="https://github.com/openai">OpenAI on GitHub</a></h2>
  <div class="b_caption"><p>Repositories from OpenAI.</p></div>
</li>
<li class="b_algo">
  <h2><a href="https://github.com/openai">OpenAI on GitHub</a></h2>
</li>
<li class="b_algo">
  <h2><a href="https://example.com/tiny">tiny</a></h2>
</li>
</ol></body></html>`

const bingFallbackGolden = `<html><body><div id="b_content">
<a href="https://openai.com/research">Research index from OpenAI</a>
</div></body></html>`

func testManager() *SelectorManager {
	return NewSelectorManager("", false)
}

func TestDuckDuckGoParseLite(t *testing.T) {
	d := NewDuckDuckGo(nil, testManager())

	results, err := d.parseLite([]byte(ddgLiteGolden))
	if err != nil {
		t.Fatalf("parseLite() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].URL != "https://openai.com/" {
		t.Errorf("uddg redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "OpenAI" || results[0].Source != engineDuckDuckGo {
		t.Errorf("first result = %+v", results[0])
	}
	if !strings.Contains(results[0].Snippet, "benefits all of humanity") {
		t.Errorf("snippet = %q", results[0].Snippet)
	}
	if results[1].URL != "https://en.wikipedia.org/wiki/OpenAI" {
		t.Errorf("direct href mangled: %q", results[1].URL)
	}
}

func TestDuckDuckGoParseLiteSkipsRelativeAnchors(t *testing.T) {
	d := NewDuckDuckGo(nil, testManager())

	results, err := d.parseLite([]byte(`<table><tr><td><a href="/lite/?q=x&s=30">Next</a></td></tr></table>`))
	if err != nil {
		t.Fatalf("parseLite() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("pagination anchor parsed as result: %+v", results)
	}
}

func TestDuckDuckGoParseFull(t *testing.T) {
	d := NewDuckDuckGo(nil, testManager())

	results, err := d.parseFull([]byte(ddgFullGolden))
	if err != nil {
		t.Fatalf("parseFull() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results from full layout")
	}
	if results[0].URL != "https://openai.com/" || results[0].Title != "OpenAI" {
		t.Errorf("first result = %+v", results[0])
	}
	if !strings.Contains(results[0].Snippet, "safe AGI") {
		t.Errorf("snippet = %q", results[0].Snippet)
	}
}

func TestStartpageParse(t *testing.T) {
	s := NewStartpage(nil, testManager())

	results, err := s.parse([]byte(startpageGolden))
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (non-http anchor skipped)", len(results))
	}
	if results[0].Title != "OpenAI" {
		t.Errorf("icon markup not stripped from title: %q", results[0].Title)
	}
	if results[0].Snippet != "AI research and deployment company." {
		t.Errorf("snippet = %q", results[0].Snippet)
	}
	if results[0].Source != engineStartpage {
		t.Errorf("source = %q", results[0].Source)
	}
}

func TestBingParsePrimaryLayer(t *testing.T) {
	b := NewBing(nil, testManager(), clock.NewFake(time.Unix(0, 0)))

	results, err := b.parse([]byte(bingGolden))
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (href dedupe, short title skipped)", len(results))
	}
	if results[0].URL != "https://openai.com/" {
		t.Errorf("redirect wrapper not cleaned: %q", results[0].URL)
	}
	if !strings.Contains(results[0].Snippet, "path to AGI") {
		t.Errorf("snippet = %q", results[0].Snippet)
	}
}

func TestBingParseFallbackLayer(t *testing.T) {
	b := NewBing(nil, testManager(), clock.NewFake(time.Unix(0, 0)))

	results, err := b.parse([]byte(bingFallbackGolden))
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://openai.com/research" {
		t.Errorf("fallback layer results = %+v", results)
	}
}

func TestBingCaptchaDetection(t *testing.T) {
	for _, page := range []string{
		`<html><body>Please Verify You Are A Human to continue</body></html>`,
		`<html><body>We detected unusual traffic from your network</body></html>`,
	} {
		if !isBingCaptcha([]byte(page)) {
			t.Errorf("interstitial not detected: %q", page)
		}
	}
	if isBingCaptcha([]byte(bingGolden)) {
		t.Error("regular results page flagged as CAPTCHA")
	}
}

func TestCleanRedirectHref(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.bing.com/ck/a?GLinkRedirect=1&url=https%3A%2F%2Fopenai.com%2F", "https://openai.com/"},
		{"https://r.example.com/redirect?url=https%3A%2F%2Fopenai.com%2Fblog", "https://openai.com/blog"},
		{"https://openai.com/direct", "https://openai.com/direct"},
		{"https://example.com/?url=not-a-url", "https://example.com/?url=not-a-url"},
	}
	for _, tt := range tests {
		if got := cleanRedirectHref(tt.in); got != tt.want {
			t.Errorf("cleanRedirectHref(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnwrapDDGHref(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/l/?uddg=https%3A%2F%2Fopenai.com%2F&rut=abc", "https://openai.com/"},
		{"https://openai.com/plain", "https://openai.com/plain"},
	}
	for _, tt := range tests {
		if got := unwrapDDGHref(tt.in); got != tt.want {
			t.Errorf("unwrapDDGHref(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// serialTrackingTransport answers every request with the lite golden page
// while recording how many requests it is serving at once.
type serialTrackingTransport struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (tr *serialTrackingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	cur := tr.inFlight.Add(1)
	for {
		seen := tr.maxInFlight.Load()
		if cur <= seen || tr.maxInFlight.CompareAndSwap(seen, cur) {
			break
		}
	}
	time.Sleep(tr.delay)
	tr.inFlight.Add(-1)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(ddgLiteGolden)),
		Header:     make(http.Header),
	}, nil
}

func TestDuckDuckGoSerializesCalls(t *testing.T) {
	tr := &serialTrackingTransport{delay: 200 * time.Millisecond}
	f := newTestFetcher()
	f.http.Transport = tr

	d := NewDuckDuckGo(f, testManager())
	// Shrink the pacing gap so the test exercises exclusion, not the 2s gap.
	d.pacer = rate.NewLimiter(rate.Every(10*time.Millisecond), 1)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Search(context.Background(), "golang"); err != nil {
				t.Errorf("Search() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := tr.maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent DDG fetches = %d, want 1", got)
	}
}

package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/weblinq/weblinq-go/internal/clock"
)

func newTestFetcher() *Fetcher {
	return NewFetcher(clock.NewRand(1), clock.NewFake(time.Unix(0, 0)))
}

func TestFetcherSendsIdentityHeaders(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := newTestFetcher().Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}

	uaKnown := false
	for _, ua := range userAgents {
		if gotUA == ua {
			uaKnown = true
		}
	}
	if !uaKnown {
		t.Errorf("user agent %q not from the rotation set", gotUA)
	}
	langKnown := false
	for _, l := range acceptLanguages {
		if gotLang == l {
			langKnown = true
		}
	}
	if !langKnown {
		t.Errorf("accept-language %q not from the rotation set", gotLang)
	}
}

func TestFetcherRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream sad", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	body, err := newTestFetcher().Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(body) != "recovered" {
		t.Errorf("body = %q", body)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetcherGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "never well", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := newTestFetcher().Get(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls.Load() != maxFetchRetries+1 {
		t.Errorf("calls = %d, want %d", calls.Load(), maxFetchRetries+1)
	}
}

func TestFetcherStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sad", http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestFetcher().Get(ctx, srv.URL); err == nil {
		t.Fatal("expected context error")
	}
}

func TestSelectorManagerEmbeddedDefaults(t *testing.T) {
	m := NewSelectorManager("", false)
	defer m.Close()

	s := m.Get()
	if err := s.Validate(); err != nil {
		t.Fatalf("embedded selectors invalid: %v", err)
	}
	if len(s.Bing.Layers) != 3 {
		t.Errorf("bing layers = %d, want 3", len(s.Bing.Layers))
	}
}

func TestSelectorManagerExternalOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	override := "bing:\n  layers:\n    - \".custom a[href^='http']\"\n"
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewSelectorManager(path, false)
	defer m.Close()

	s := m.Get()
	if len(s.Bing.Layers) != 1 || s.Bing.Layers[0] != ".custom a[href^='http']" {
		t.Errorf("bing layers = %v, want the override", s.Bing.Layers)
	}
	// Fields absent from the override keep their embedded values.
	if len(s.Startpage.Results) == 0 {
		t.Error("embedded startpage selectors lost in merge")
	}

	if got := m.Stats().ReloadCount; got != 1 {
		t.Errorf("reload count = %d, want 1", got)
	}
}

func TestSelectorManagerBadOverrideKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	if err := os.WriteFile(path, []byte("{invalid: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewSelectorManager(path, false)
	defer m.Close()

	if err := m.Get().Validate(); err != nil {
		t.Errorf("active selectors invalid after bad override: %v", err)
	}
	if m.Stats().LastErrorStr == "" {
		t.Error("parse failure not recorded in stats")
	}
}

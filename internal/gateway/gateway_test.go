package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/config"
	"github.com/weblinq/weblinq-go/internal/credits"
	"github.com/weblinq/weblinq-go/internal/runner"
	"github.com/weblinq/weblinq-go/internal/types"
)

type fakeOps struct {
	markdownData   *types.MarkdownData
	contentData    *types.ContentData
	linksData      *types.LinksData
	scrapeData     *types.ScrapeData
	captureResult  *runner.CaptureResult
	pdfBytes       []byte
	extractData    *types.ExtractData
	err            error
	lastScreenshot *types.ScreenshotRequest
}

func (f *fakeOps) Markdown(_ context.Context, _ *types.MarkdownRequest) (*types.MarkdownData, error) {
	return f.markdownData, f.err
}

func (f *fakeOps) Content(_ context.Context, _ *types.ContentRequest) (*types.ContentData, error) {
	return f.contentData, f.err
}

func (f *fakeOps) Links(_ context.Context, _ *types.LinksRequest) (*types.LinksData, error) {
	return f.linksData, f.err
}

func (f *fakeOps) Scrape(_ context.Context, _ *types.ScrapeRequest) (*types.ScrapeData, error) {
	return f.scrapeData, f.err
}

func (f *fakeOps) Screenshot(_ context.Context, req *types.ScreenshotRequest) (*runner.CaptureResult, error) {
	f.lastScreenshot = req
	return f.captureResult, f.err
}

func (f *fakeOps) PDF(_ context.Context, _ *types.PDFRequest) ([]byte, error) {
	return f.pdfBytes, f.err
}

func (f *fakeOps) Extract(_ context.Context, _ *types.ExtractRequest) (*types.ExtractData, error) {
	return f.extractData, f.err
}

type fakeSearch struct {
	data *types.SearchData
	err  error
}

func (f *fakeSearch) Search(_ context.Context, _ string, _ int, _ string) (*types.SearchData, error) {
	return f.data, f.err
}

type fakeLedger struct {
	reserveErr error
	reserved   []int64
	committed  int
	refunded   int
}

func (f *fakeLedger) Reserve(_ context.Context, userID string, cost int64) (*credits.Reservation, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	f.reserved = append(f.reserved, cost)
	return &credits.Reservation{ID: "res-1", UserID: userID, Cost: cost}, nil
}

func (f *fakeLedger) Commit(_ context.Context, _ *credits.Reservation) error {
	f.committed++
	return nil
}

func (f *fakeLedger) Refund(_ context.Context, _ *credits.Reservation) error {
	f.refunded++
	return nil
}

type fakeFiles struct {
	recordErr error
	record    *types.FileRecord
	listData  *types.FileListData
	getRec    *types.FileRecord
	getErr    error
	delData   *types.DeleteFileData
	delErr    error
	lastUser  string
	lastKind  string
}

func (f *fakeFiles) Record(_ context.Context, userID, kind, _ string, _ []byte, _ json.RawMessage, _ string) (*types.FileRecord, error) {
	f.lastUser = userID
	f.lastKind = kind
	return f.record, f.recordErr
}

func (f *fakeFiles) Get(_ context.Context, _, _ string) (*types.FileRecord, error) {
	return f.getRec, f.getErr
}

func (f *fakeFiles) List(_ context.Context, _ string, _ types.FileListQuery) (*types.FileListData, error) {
	return f.listData, nil
}

func (f *fakeFiles) Delete(_ context.Context, _, _ string, _ bool) (*types.DeleteFileData, error) {
	return f.delData, f.delErr
}

type testEnv struct {
	server *Server
	ops    *fakeOps
	search *fakeSearch
	ledger *fakeLedger
	files  *fakeFiles
	router http.Handler
}

func newTestEnv() *testEnv {
	cfg := &config.Config{
		AuthDisabled:     true,
		DevUser:          "dev",
		OperationTimeout: 30 * time.Second,
	}
	env := &testEnv{
		ops:    &fakeOps{},
		search: &fakeSearch{},
		ledger: &fakeLedger{},
		files:  &fakeFiles{},
	}
	clk := clock.NewFake(time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC))
	env.server = New(cfg, env.ops, env.search, env.ledger, env.files, clk)
	env.router = env.server.Router()
	return env
}

func post(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) types.Envelope {
	t.Helper()
	var env types.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("Failed to decode envelope: %v (body %q)", err, w.Body.String())
	}
	return env
}

func TestMarkdownSuccess(t *testing.T) {
	env := newTestEnv()
	env.ops.markdownData = &types.MarkdownData{Markdown: "# Hello"}

	w := post(t, env.router, "/web/markdown", map[string]any{"url": "https://example.com"})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeEnvelope(t, w)
	if !resp.Success {
		t.Error("Expected a success envelope")
	}
	if resp.CreditsCost != 1 {
		t.Errorf("creditsCost = %d, want 1", resp.CreditsCost)
	}
	if env.ledger.committed != 1 || env.ledger.refunded != 0 {
		t.Errorf("ledger committed=%d refunded=%d, want 1/0", env.ledger.committed, env.ledger.refunded)
	}
}

func TestMarkdownValidationSkipsLedger(t *testing.T) {
	env := newTestEnv()

	w := post(t, env.router, "/web/markdown", map[string]any{"url": "not-absolute"})

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", w.Code)
	}
	if len(env.ledger.reserved) != 0 {
		t.Error("Validation failures must not touch the ledger")
	}
	resp := decodeEnvelope(t, w)
	if resp.Success || resp.CreditsCost != 0 {
		t.Error("Validation failure must be a zero-cost failure envelope")
	}
}

func TestMarkdownBlocksInternalTargets(t *testing.T) {
	env := newTestEnv()

	for _, target := range []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://localhost:8080/admin",
		"http://10.0.0.5/",
	} {
		w := post(t, env.router, "/web/markdown", map[string]any{"url": target})
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("Target %q: expected 422, got %d", target, w.Code)
		}
	}
	if len(env.ledger.reserved) != 0 {
		t.Error("Blocked targets must not reserve credits")
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest("POST", "/web/markdown", bytes.NewReader([]byte(`{"url":"https://example.com","bogus":1}`)))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 for unknown field, got %d", w.Code)
	}
}

func TestInsufficientCreditsReturns402(t *testing.T) {
	env := newTestEnv()
	env.ledger.reserveErr = &types.CreditError{Balance: 0, Cost: 1}

	w := post(t, env.router, "/web/markdown", map[string]any{"url": "https://example.com"})

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", w.Code)
	}
	resp := decodeEnvelope(t, w)
	if resp.Success {
		t.Error("Expected a failure envelope")
	}
}

func TestOperationFailureRefunds(t *testing.T) {
	env := newTestEnv()
	env.ops.err = errors.New("navigation failed")

	w := post(t, env.router, "/web/markdown", map[string]any{"url": "https://example.com"})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	if env.ledger.refunded != 1 {
		t.Errorf("refunded = %d, want 1", env.ledger.refunded)
	}
	if env.ledger.committed != 0 {
		t.Errorf("committed = %d, want 0", env.ledger.committed)
	}
	resp := decodeEnvelope(t, w)
	if resp.CreditsCost != 0 {
		t.Error("Failed operations must not cost credits")
	}
}

func TestSessionsExhaustedSetsRetryAfter(t *testing.T) {
	env := newTestEnv()
	env.ops.err = types.NewSessionsExhaustedError("max_concurrent", 7*time.Second)

	w := post(t, env.router, "/web/markdown", map[string]any{"url": "https://example.com"})

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "7" {
		t.Errorf("Retry-After = %q, want 7", got)
	}
}

func TestExtractCostsTwoCredits(t *testing.T) {
	env := newTestEnv()
	env.ops.extractData = &types.ExtractData{Extracted: "hi"}

	w := post(t, env.router, "/web/json-extraction", map[string]any{
		"url":          "https://example.com",
		"responseType": "text",
		"prompt":       "summarize",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeEnvelope(t, w)
	if resp.CreditsCost != 2 {
		t.Errorf("creditsCost = %d, want 2", resp.CreditsCost)
	}
	if len(env.ledger.reserved) != 1 || env.ledger.reserved[0] != 2 {
		t.Errorf("reserved = %v, want [2]", env.ledger.reserved)
	}
}

func TestSearchNoResultsRefundsWith404(t *testing.T) {
	env := newTestEnv()
	env.search.err = types.ErrNoSearchResults

	w := post(t, env.router, "/web/search", map[string]any{"query": "impossible"})

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
	if env.ledger.refunded != 1 {
		t.Errorf("refunded = %d, want 1", env.ledger.refunded)
	}
}

func TestSearchSuccess(t *testing.T) {
	env := newTestEnv()
	env.search.data = &types.SearchData{
		Results:  []types.SearchResult{{Title: "Go", URL: "https://go.dev", Source: "duckduckgo"}},
		Metadata: types.SearchMetadata{Query: "go", TotalResults: 1, Sources: []string{"duckduckgo"}},
	}

	w := post(t, env.router, "/web/search", map[string]any{"query": "go"})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	resp := decodeEnvelope(t, w)
	if !resp.Success {
		t.Error("Expected a success envelope")
	}
}

func TestScreenshotBinaryResponse(t *testing.T) {
	env := newTestEnv()
	env.ops.captureResult = &runner.CaptureResult{Bytes: []byte("PNGDATA"), Format: "png", FullPage: true}
	env.files.record = &types.FileRecord{ID: "file-1", PublicURL: "https://cdn.example.com/u/file-1.png"}

	w := post(t, env.router, "/web/screenshot", map[string]any{"url": "https://example.com"})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if w.Body.String() != "PNGDATA" {
		t.Error("Binary body does not match capture bytes")
	}
	if w.Header().Get("X-File-ID") != "file-1" {
		t.Errorf("X-File-ID = %q, want file-1", w.Header().Get("X-File-ID"))
	}
	if env.files.lastKind != types.FileKindScreenshot {
		t.Errorf("Persisted kind = %q, want screenshot", env.files.lastKind)
	}
	if env.files.lastUser != "dev" {
		t.Errorf("Persisted user = %q, want dev", env.files.lastUser)
	}
}

func TestScreenshotBase64Envelope(t *testing.T) {
	env := newTestEnv()
	env.ops.captureResult = &runner.CaptureResult{Bytes: []byte{1, 2, 3}, Format: "png", FullPage: true}
	env.files.record = &types.FileRecord{ID: "file-9", PublicURL: "https://cdn.example.com/u/file-9.png"}

	w := post(t, env.router, "/web/screenshot", map[string]any{"url": "https://example.com", "base64": true})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	resp := decodeEnvelope(t, w)
	if !resp.Success {
		t.Fatal("Expected a success envelope")
	}
	raw, _ := json.Marshal(resp.Data)
	var data types.ScreenshotData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("Failed to decode screenshot data: %v", err)
	}
	if data.Image != "AQID" {
		t.Errorf("Image = %q, want base64 AQID", data.Image)
	}
	if data.Metadata.FileID != "file-9" {
		t.Errorf("FileID = %q, want file-9", data.Metadata.FileID)
	}
	if data.Metadata.PublicURL == "" {
		t.Error("PublicURL missing from metadata")
	}
}

func TestScreenshotStorageFailureStillSucceeds(t *testing.T) {
	env := newTestEnv()
	env.ops.captureResult = &runner.CaptureResult{Bytes: []byte("PNGDATA"), Format: "png", FullPage: true}
	env.files.recordErr = types.ErrStorageDisabled

	w := post(t, env.router, "/web/screenshot", map[string]any{"url": "https://example.com"})

	if w.Code != http.StatusOK {
		t.Fatalf("Persistence failure must not fail the capture, got %d", w.Code)
	}
	if w.Header().Get("X-File-ID") != "" {
		t.Error("No file id expected when persistence is disabled")
	}
	if env.ledger.committed != 1 {
		t.Errorf("committed = %d, want 1", env.ledger.committed)
	}
}

func TestPDFBase64Envelope(t *testing.T) {
	env := newTestEnv()
	env.ops.pdfBytes = []byte("%PDF-1.4")
	env.files.record = &types.FileRecord{ID: "file-2", PublicURL: "https://cdn.example.com/u/file-2.pdf"}

	w := post(t, env.router, "/web/pdf", map[string]any{"url": "https://example.com", "base64": true})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	resp := decodeEnvelope(t, w)
	raw, _ := json.Marshal(resp.Data)
	var data types.PDFData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("Failed to decode pdf data: %v", err)
	}
	if data.Metadata.FileID != "file-2" {
		t.Errorf("FileID = %q, want file-2", data.Metadata.FileID)
	}
	if data.Metadata.Size != len("%PDF-1.4") {
		t.Errorf("Size = %d, want %d", data.Metadata.Size, len("%PDF-1.4"))
	}
	if env.files.lastKind != types.FileKindPDF {
		t.Errorf("Persisted kind = %q, want pdf", env.files.lastKind)
	}
}

func TestPDFBinaryResponse(t *testing.T) {
	env := newTestEnv()
	env.ops.pdfBytes = []byte("%PDF-1.4")

	w := post(t, env.router, "/web/pdf", map[string]any{"url": "https://example.com"})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q, want application/pdf", ct)
	}
}

func TestScrapeRejectsDangerousHeaders(t *testing.T) {
	env := newTestEnv()

	w := post(t, env.router, "/web/scrape", map[string]any{
		"url":      "https://example.com",
		"elements": []map[string]any{{"selector": "h1"}},
		"headers":  map[string]string{"Host": "evil.internal"},
	})

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 for forbidden header, got %d", w.Code)
	}
	if len(env.ledger.reserved) != 0 {
		t.Error("Rejected scrape must not reserve credits")
	}
}

func TestListFiles(t *testing.T) {
	env := newTestEnv()
	env.files.listData = &types.FileListData{
		Files:      []types.FileRecord{{ID: "f1"}},
		TotalFiles: 1,
	}

	req := httptest.NewRequest("GET", "/files/?type=screenshot&limit=10", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeEnvelope(t, w)
	if !resp.Success {
		t.Error("Expected a success envelope")
	}
	if resp.CreditsCost != 0 {
		t.Error("File reads must be free")
	}
}

func TestGetFileNotFound(t *testing.T) {
	env := newTestEnv()
	env.files.getErr = types.ErrFileNotFound

	req := httptest.NewRequest("GET", "/files/unknown-id", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
}

func TestDeleteFile(t *testing.T) {
	env := newTestEnv()
	env.files.delData = &types.DeleteFileData{Found: true, DeletedFromDB: true, DeletedFromStorage: true}

	req := httptest.NewRequest("DELETE", "/files/f1?also_from_storage=true", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	resp := decodeEnvelope(t, w)
	raw, _ := json.Marshal(resp.Data)
	var data types.DeleteFileData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("Failed to decode delete data: %v", err)
	}
	if !data.DeletedFromStorage {
		t.Error("DeletedFromStorage should be true")
	}
}

func TestHealthBypassesAuth(t *testing.T) {
	cfg := &config.Config{
		APIKeys:          map[string]string{"wq_live_abc": "u1"},
		OperationTimeout: 30 * time.Second,
	}
	clk := clock.NewFake(time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC))
	server := New(cfg, &fakeOps{}, &fakeSearch{}, &fakeLedger{}, &fakeFiles{}, clk)
	router := server.Router()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for /health without credentials, got %d", w.Code)
	}

	// The operation surface stays locked
	req2 := httptest.NewRequest("POST", "/web/markdown", bytes.NewReader([]byte(`{"url":"https://example.com"}`)))
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	if w2.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", w2.Code)
	}
}

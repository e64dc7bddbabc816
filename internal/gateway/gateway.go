// Package gateway wires the HTTP surface of the service: request decoding,
// credit metering, operation dispatch and response envelopes.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/config"
	"github.com/weblinq/weblinq-go/internal/credits"
	"github.com/weblinq/weblinq-go/internal/middleware"
	"github.com/weblinq/weblinq-go/internal/runner"
	"github.com/weblinq/weblinq-go/internal/types"
)

// maxRequestBody bounds decoded request bodies. JSON schemas for extraction
// are the largest legitimate payload and fit comfortably under 1MB.
const maxRequestBody = 1 << 20

// Operations is the browser-backed operation surface the gateway dispatches
// to. Implemented by runner.Runner; faked in handler tests.
type Operations interface {
	Markdown(ctx context.Context, req *types.MarkdownRequest) (*types.MarkdownData, error)
	Content(ctx context.Context, req *types.ContentRequest) (*types.ContentData, error)
	Links(ctx context.Context, req *types.LinksRequest) (*types.LinksData, error)
	Scrape(ctx context.Context, req *types.ScrapeRequest) (*types.ScrapeData, error)
	Screenshot(ctx context.Context, req *types.ScreenshotRequest) (*runner.CaptureResult, error)
	PDF(ctx context.Context, req *types.PDFRequest) ([]byte, error)
	Extract(ctx context.Context, req *types.ExtractRequest) (*types.ExtractData, error)
}

// Searcher aggregates results across the search engines.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, clientIP string) (*types.SearchData, error)
}

// Ledger meters operation credits.
type Ledger interface {
	Reserve(ctx context.Context, userID string, cost int64) (*credits.Reservation, error)
	Commit(ctx context.Context, res *credits.Reservation) error
	Refund(ctx context.Context, res *credits.Reservation) error
}

// Files is the per-user artifact surface. Implemented by the registry
// adapter; faked in handler tests.
type Files interface {
	Record(ctx context.Context, userID, kind, sourceURL string, data []byte, metadata json.RawMessage, format string) (*types.FileRecord, error)
	Get(ctx context.Context, userID, fileID string) (*types.FileRecord, error)
	List(ctx context.Context, userID string, q types.FileListQuery) (*types.FileListData, error)
	Delete(ctx context.Context, userID, fileID string, alsoFromStorage bool) (*types.DeleteFileData, error)
}

// Server holds the gateway's collaborators.
type Server struct {
	cfg    *config.Config
	ops    Operations
	search Searcher
	ledger Ledger
	files  Files
	clk    clock.Clock
}

// New creates a gateway server.
func New(cfg *config.Config, ops Operations, search Searcher, ledger Ledger, files Files, clk clock.Clock) *Server {
	return &Server{cfg: cfg, ops: ops, search: search, ledger: ledger, files: files, clk: clk}
}

// Router assembles the middleware chain and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.CORSAllowedOrigins}))
	r.Use(middleware.Logging)
	if s.cfg.RateLimitEnabled {
		r.Use(middleware.RateLimit(s.cfg.RateLimitRPM, s.cfg.TrustProxy))
	}
	r.Use(middleware.Auth(s.cfg))

	r.Get("/health", s.handleHealth)

	r.Route("/web", func(r chi.Router) {
		r.Post("/markdown", s.handleMarkdown)
		r.Post("/content", s.handleContent)
		r.Post("/links", s.handleLinks)
		r.Post("/scrape", s.handleScrape)
		r.Post("/screenshot", s.handleScreenshot)
		r.Post("/pdf", s.handlePDF)
		r.Post("/search", s.handleSearch)
		r.Post("/json-extraction", s.handleExtract)
	})

	r.Route("/files", func(r chi.Router) {
		r.Get("/", s.handleListFiles)
		r.Get("/{fileID}", s.handleGetFile)
		r.Delete("/{fileID}", s.handleDeleteFile)
	})

	return r
}

// opTimeout returns the wall-clock budget for a single operation.
func (s *Server) opTimeout() time.Duration {
	if s.cfg.OperationTimeout > 0 {
		return s.cfg.OperationTimeout
	}
	return 60 * time.Second
}

package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/credits"
	"github.com/weblinq/weblinq-go/internal/metrics"
	"github.com/weblinq/weblinq-go/internal/middleware"
	"github.com/weblinq/weblinq-go/internal/security"
	"github.com/weblinq/weblinq-go/internal/types"
)

// validator is the shared shape of every operation request body.
type validator interface {
	Validate() error
}

// decode parses a bounded JSON body into req. A false return means the
// response has already been written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		writeError(w, types.NewValidationError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// checkRequest runs schema validation and, when the operation targets a URL,
// the SSRF filter.
func checkRequest(req validator, targetURL string) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if targetURL != "" {
		if err := security.ValidateURL(targetURL); err != nil {
			return types.NewValidationError("url", err.Error())
		}
	}
	return nil
}

// reserve debits the caller before the operation runs. A nil reservation
// with ok=true never happens; ok=false means the response was written.
func (s *Server) reserve(w http.ResponseWriter, r *http.Request, kind types.OperationKind) (*credits.Reservation, string, bool) {
	userID := middleware.UserID(r.Context())
	res, err := s.ledger.Reserve(r.Context(), userID, kind.Cost())
	if err != nil {
		writeError(w, err)
		metrics.RecordOperation(string(kind), "rejected", 0)
		return nil, "", false
	}
	return res, userID, true
}

// fail refunds the reservation and writes the failure response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, kind types.OperationKind, res *credits.Reservation, err error) {
	if refundErr := s.ledger.Refund(r.Context(), res); refundErr != nil {
		log.Error().Err(refundErr).Str("kind", string(kind)).Msg("Credit refund failed")
	}
	log.Warn().
		Err(err).
		Str("kind", string(kind)).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Msg("Operation failed")
	writeError(w, err)
	metrics.RecordOperation(string(kind), "error", 0)
}

// execute runs the common JSON-envelope operation path: validate, reserve,
// run under the operation deadline, commit or refund, respond.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, kind types.OperationKind, req validator, targetURL string, fn func(ctx context.Context) (any, error)) {
	start := s.clk.Now()

	if err := checkRequest(req, targetURL); err != nil {
		writeError(w, err)
		metrics.RecordOperation(string(kind), "invalid", 0)
		return
	}

	res, _, ok := s.reserve(w, r, kind)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opTimeout())
	defer cancel()

	data, err := fn(ctx)
	if err != nil {
		s.fail(w, r, kind, res, err)
		return
	}

	if err := s.ledger.Commit(ctx, res); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Credit commit failed")
	}

	writeJSON(w, http.StatusOK, types.SuccessEnvelope(data, kind.Cost()))
	metrics.RecordOperation(string(kind), "ok", s.clk.Now().Sub(start))
}

func (s *Server) handleMarkdown(w http.ResponseWriter, r *http.Request) {
	var req types.MarkdownRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, types.OpMarkdown, &req, req.URL, func(ctx context.Context) (any, error) {
		return s.ops.Markdown(ctx, &req)
	})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	var req types.ContentRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, types.OpContent, &req, req.URL, func(ctx context.Context) (any, error) {
		return s.ops.Content(ctx, &req)
	})
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	var req types.LinksRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, types.OpLinks, &req, req.URL, func(ctx context.Context) (any, error) {
		return s.ops.Links(ctx, &req)
	})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req types.ScrapeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := security.ValidateHeaders(req.Headers); err != nil {
		writeError(w, types.NewValidationError("headers", err.Error()))
		metrics.RecordOperation(string(types.OpScrape), "invalid", 0)
		return
	}
	s.execute(w, r, types.OpScrape, &req, req.URL, func(ctx context.Context) (any, error) {
		return s.ops.Scrape(ctx, &req)
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req types.SearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	clientIP := middleware.ClientIP(r, s.cfg.TrustProxy)
	s.execute(w, r, types.OpSearch, &req, "", func(ctx context.Context) (any, error) {
		return s.search.Search(ctx, req.Query, req.Limit, clientIP)
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req types.ExtractRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, types.OpExtract, &req, req.URL, func(ctx context.Context) (any, error) {
		return s.ops.Extract(ctx, &req)
	})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	var req types.ScreenshotRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := s.clk.Now()
	kind := types.OpScreenshot

	if err := checkRequest(&req, req.URL); err != nil {
		writeError(w, err)
		metrics.RecordOperation(string(kind), "invalid", 0)
		return
	}

	res, userID, ok := s.reserve(w, r, kind)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opTimeout())
	defer cancel()

	capture, err := s.ops.Screenshot(ctx, &req)
	if err != nil {
		s.fail(w, r, kind, res, err)
		return
	}

	meta := captureMetadata{
		Format:   capture.Format,
		FullPage: capture.FullPage,
		Size:     len(capture.Bytes),
	}
	rec := s.persist(ctx, userID, types.FileKindScreenshot, req.URL, capture.Bytes, meta, capture.Format)

	if err := s.ledger.Commit(ctx, res); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Credit commit failed")
	}
	metrics.RecordOperation(string(kind), "ok", s.clk.Now().Sub(start))

	md := types.ScreenshotMetadata{
		URL:       req.URL,
		Format:    capture.Format,
		FullPage:  capture.FullPage,
		Size:      len(capture.Bytes),
		Timestamp: s.clk.Now().UTC(),
	}
	if rec != nil {
		md.FileID = rec.ID
		md.PublicURL = rec.PublicURL
	}

	if req.Base64 {
		writeJSON(w, http.StatusOK, types.SuccessEnvelope(types.ScreenshotData{
			Image:    base64.StdEncoding.EncodeToString(capture.Bytes),
			Metadata: md,
		}, kind.Cost()))
		return
	}

	writeBinary(w, "image/"+capture.Format, capture.Bytes, rec)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	var req types.PDFRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := s.clk.Now()
	kind := types.OpPDF

	if err := checkRequest(&req, req.URL); err != nil {
		writeError(w, err)
		metrics.RecordOperation(string(kind), "invalid", 0)
		return
	}

	res, userID, ok := s.reserve(w, r, kind)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opTimeout())
	defer cancel()

	pdf, err := s.ops.PDF(ctx, &req)
	if err != nil {
		s.fail(w, r, kind, res, err)
		return
	}

	meta := captureMetadata{Format: "pdf", Size: len(pdf)}
	rec := s.persist(ctx, userID, types.FileKindPDF, req.URL, pdf, meta, "pdf")

	if err := s.ledger.Commit(ctx, res); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Credit commit failed")
	}
	metrics.RecordOperation(string(kind), "ok", s.clk.Now().Sub(start))

	md := types.PDFMetadata{
		URL:       req.URL,
		Size:      len(pdf),
		Timestamp: s.clk.Now().UTC(),
	}
	if rec != nil {
		md.FileID = rec.ID
		md.PublicURL = rec.PublicURL
	}

	if req.Base64 {
		writeJSON(w, http.StatusOK, types.SuccessEnvelope(types.PDFData{
			PDF:      base64.StdEncoding.EncodeToString(pdf),
			Metadata: md,
		}, kind.Cost()))
		return
	}

	writeBinary(w, "application/pdf", pdf, rec)
}

// captureMetadata is stored alongside the artifact row.
type captureMetadata struct {
	Format   string `json:"format"`
	FullPage bool   `json:"fullPage,omitempty"`
	Size     int    `json:"size"`
}

// persist writes the capture to the caller's artifact store. Persistence is
// best-effort: the operation already succeeded, so a storage failure only
// costs the permanent URL.
func (s *Server) persist(ctx context.Context, userID, kind, sourceURL string, data []byte, meta captureMetadata, format string) *types.FileRecord {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		metaJSON = nil
	}
	rec, err := s.files.Record(ctx, userID, kind, sourceURL, data, metaJSON, format)
	if err != nil {
		if errors.Is(err, types.ErrStorageDisabled) {
			log.Debug().Str("kind", kind).Msg("Artifact persistence disabled, returning bytes only")
		} else {
			log.Warn().Err(err).Str("kind", kind).Msg("Artifact persistence failed")
		}
		return nil
	}
	return rec
}

// writeBinary streams raw capture bytes. The permanent copy, when one was
// made, is referenced through headers.
func writeBinary(w http.ResponseWriter, contentType string, data []byte, rec *types.FileRecord) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	if rec != nil {
		w.Header().Set("X-File-ID", rec.ID)
		w.Header().Set("X-Public-URL", rec.PublicURL)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write binary response")
	}
}

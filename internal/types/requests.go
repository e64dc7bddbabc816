package types

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Request validation limits.
const (
	MaxURLLength          = 8192
	MaxWaitTimeMs         = 5000
	MinViewportWidth      = 100
	MaxViewportWidth      = 3840
	MinViewportHeight     = 100
	MaxViewportHeight     = 2160
	MinQuality            = 1
	MaxQuality            = 100
	MaxScrapeSelectors    = 20
	MaxSelectorLength     = 512
	MaxScrapeHeaders      = 50
	MaxHeaderNameLength   = 256
	MaxHeaderValueLength  = 8192
	MaxQueryLength        = 500
	MinSearchLimit        = 1
	MaxSearchLimit        = 10
	DefaultSearchLimit    = 5
	MaxPromptLength       = 1000
	MaxInstructionsLength = 500
)

// Screenshot formats accepted by the screenshot operation.
var validImageFormats = map[string]bool{
	"png":  true,
	"jpeg": true,
	"webp": true,
}

// validateTargetURL checks the shared url field: required, absolute, http(s),
// bounded length. SSRF filtering happens separately in the security package.
func validateTargetURL(raw string) error {
	if raw == "" {
		return NewValidationError("url", "url is required")
	}
	if len(raw) > MaxURLLength {
		return NewValidationError("url", fmt.Sprintf("url exceeds maximum length of %d", MaxURLLength))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return NewValidationError("url", "invalid url: "+err.Error())
	}
	if !u.IsAbs() {
		return NewValidationError("url", "url must be absolute")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return NewValidationError("url", "url scheme must be http or https, got: "+scheme)
	}
	if u.Host == "" {
		return NewValidationError("url", "url host is required")
	}
	return nil
}

// validateWaitTime checks the shared waitTime field, milliseconds in [0, 5000].
func validateWaitTime(ms int) error {
	if ms < 0 {
		return NewValidationError("waitTime", "waitTime cannot be negative")
	}
	if ms > MaxWaitTimeMs {
		return NewValidationError("waitTime", fmt.Sprintf("waitTime exceeds maximum of %d ms", MaxWaitTimeMs))
	}
	return nil
}

// MarkdownRequest is the body of POST /web/markdown.
type MarkdownRequest struct {
	URL      string `json:"url"`
	WaitTime int    `json:"waitTime,omitempty"`
}

// Validate validates the request and returns an error if invalid.
func (r *MarkdownRequest) Validate() error {
	if err := validateTargetURL(r.URL); err != nil {
		return err
	}
	return validateWaitTime(r.WaitTime)
}

// ContentRequest is the body of POST /web/content.
type ContentRequest struct {
	URL      string `json:"url"`
	WaitTime int    `json:"waitTime,omitempty"`
}

// Validate validates the request and returns an error if invalid.
func (r *ContentRequest) Validate() error {
	if err := validateTargetURL(r.URL); err != nil {
		return err
	}
	return validateWaitTime(r.WaitTime)
}

// LinksRequest is the body of POST /web/links. IncludeExternal defaults to
// true when omitted.
type LinksRequest struct {
	URL             string `json:"url"`
	WaitTime        int    `json:"waitTime,omitempty"`
	IncludeExternal *bool  `json:"includeExternal,omitempty"`
}

// Validate validates the request and returns an error if invalid.
func (r *LinksRequest) Validate() error {
	if err := validateTargetURL(r.URL); err != nil {
		return err
	}
	return validateWaitTime(r.WaitTime)
}

// External reports whether external links should be kept.
func (r *LinksRequest) External() bool {
	return r.IncludeExternal == nil || *r.IncludeExternal
}

// ElementSelector names one CSS selector and an optional attribute filter.
type ElementSelector struct {
	Selector   string   `json:"selector"`
	Attributes []string `json:"attributes,omitempty"`
}

// ScrapeRequest is the body of POST /web/scrape.
type ScrapeRequest struct {
	URL      string            `json:"url"`
	WaitTime int               `json:"waitTime,omitempty"`
	Elements []ElementSelector `json:"elements"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Validate validates the request and returns an error if invalid.
func (r *ScrapeRequest) Validate() error {
	if err := validateTargetURL(r.URL); err != nil {
		return err
	}
	if err := validateWaitTime(r.WaitTime); err != nil {
		return err
	}
	if len(r.Elements) == 0 {
		return NewValidationError("elements", "at least one selector is required")
	}
	if len(r.Elements) > MaxScrapeSelectors {
		return NewValidationError("elements", fmt.Sprintf("too many selectors (maximum %d)", MaxScrapeSelectors))
	}
	for i, el := range r.Elements {
		if el.Selector == "" {
			return NewValidationError("elements", fmt.Sprintf("elements[%d]: selector is required", i))
		}
		if len(el.Selector) > MaxSelectorLength {
			return NewValidationError("elements", fmt.Sprintf("elements[%d]: selector exceeds maximum length of %d", i, MaxSelectorLength))
		}
	}
	if len(r.Headers) > MaxScrapeHeaders {
		return NewValidationError("headers", fmt.Sprintf("too many headers (maximum %d)", MaxScrapeHeaders))
	}
	for name, value := range r.Headers {
		if name == "" {
			return NewValidationError("headers", "header name cannot be empty")
		}
		if len(name) > MaxHeaderNameLength {
			return NewValidationError("headers", fmt.Sprintf("header name exceeds maximum length of %d", MaxHeaderNameLength))
		}
		if len(value) > MaxHeaderValueLength {
			return NewValidationError("headers", fmt.Sprintf("header %q value exceeds maximum length of %d", name, MaxHeaderValueLength))
		}
	}
	return nil
}

// Viewport is the requested page size for screenshots.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Clip bounds a screenshot to a page region.
type Clip struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ScreenshotOptions mirror the capture options of the rendering engine.
// FullPage defaults to true when omitted.
type ScreenshotOptions struct {
	Type             string `json:"type,omitempty"` // png (default), jpeg, webp
	FullPage         *bool  `json:"fullPage,omitempty"`
	Quality          int    `json:"quality,omitempty"` // jpeg/webp only
	OmitBackground   bool   `json:"omitBackground,omitempty"`
	OptimizeForSpeed bool   `json:"optimizeForSpeed,omitempty"`
	Clip             *Clip  `json:"clip,omitempty"`
}

// ScreenshotRequest is the body of POST /web/screenshot.
type ScreenshotRequest struct {
	URL               string             `json:"url"`
	WaitTime          int                `json:"waitTime,omitempty"`
	Base64            bool               `json:"base64,omitempty"`
	Viewport          *Viewport          `json:"viewport,omitempty"`
	ScreenshotOptions *ScreenshotOptions `json:"screenshotOptions,omitempty"`
}

// Validate validates the request and returns an error if invalid.
func (r *ScreenshotRequest) Validate() error {
	if err := validateTargetURL(r.URL); err != nil {
		return err
	}
	if err := validateWaitTime(r.WaitTime); err != nil {
		return err
	}
	if v := r.Viewport; v != nil {
		if v.Width < MinViewportWidth || v.Width > MaxViewportWidth {
			return NewValidationError("viewport.width", fmt.Sprintf("width must be between %d and %d", MinViewportWidth, MaxViewportWidth))
		}
		if v.Height < MinViewportHeight || v.Height > MaxViewportHeight {
			return NewValidationError("viewport.height", fmt.Sprintf("height must be between %d and %d", MinViewportHeight, MaxViewportHeight))
		}
	}
	if o := r.ScreenshotOptions; o != nil {
		if o.Type != "" && !validImageFormats[o.Type] {
			return NewValidationError("screenshotOptions.type", "type must be png, jpeg or webp")
		}
		if o.Quality != 0 && (o.Quality < MinQuality || o.Quality > MaxQuality) {
			return NewValidationError("screenshotOptions.quality", fmt.Sprintf("quality must be between %d and %d", MinQuality, MaxQuality))
		}
		if c := o.Clip; c != nil {
			if c.Width <= 0 || c.Height <= 0 {
				return NewValidationError("screenshotOptions.clip", "clip width and height must be positive")
			}
			if c.X < 0 || c.Y < 0 {
				return NewValidationError("screenshotOptions.clip", "clip origin cannot be negative")
			}
		}
	}
	return nil
}

// Format resolves the effective image format after defaults and the
// optimizeForSpeed shorthand are applied. optimizeForSpeed always selects
// jpeg, overriding any explicit type.
func (r *ScreenshotRequest) Format() string {
	o := r.ScreenshotOptions
	if o == nil {
		return "png"
	}
	if o.OptimizeForSpeed {
		return "jpeg"
	}
	if o.Type == "" {
		return "png"
	}
	return o.Type
}

// PDFRequest is the body of POST /web/pdf.
type PDFRequest struct {
	URL      string `json:"url"`
	WaitTime int    `json:"waitTime,omitempty"`
	Base64   bool   `json:"base64,omitempty"`
}

// Validate validates the request and returns an error if invalid.
func (r *PDFRequest) Validate() error {
	if err := validateTargetURL(r.URL); err != nil {
		return err
	}
	return validateWaitTime(r.WaitTime)
}

// SearchRequest is the body of POST /web/search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Validate validates the request and returns an error if invalid. A zero
// limit is filled with the default rather than rejected.
func (r *SearchRequest) Validate() error {
	if r.Query == "" {
		return NewValidationError("query", "query is required")
	}
	if len(r.Query) > MaxQueryLength {
		return NewValidationError("query", fmt.Sprintf("query exceeds maximum length of %d", MaxQueryLength))
	}
	if r.Limit == 0 {
		r.Limit = DefaultSearchLimit
	}
	if r.Limit < MinSearchLimit || r.Limit > MaxSearchLimit {
		return NewValidationError("limit", fmt.Sprintf("limit must be between %d and %d", MinSearchLimit, MaxSearchLimit))
	}
	return nil
}

// ResponseFormat carries a JSON schema for structured extraction.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ExtractRequest is the body of POST /web/json-extraction.
type ExtractRequest struct {
	URL            string          `json:"url"`
	WaitTime       int             `json:"waitTime,omitempty"`
	ResponseType   string          `json:"responseType,omitempty"` // json (default) or text
	Prompt         string          `json:"prompt,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Instructions   string          `json:"instructions,omitempty"`
}

// Validate validates the request and returns an error if invalid. It also
// fills the responseType default.
func (r *ExtractRequest) Validate() error {
	if err := validateTargetURL(r.URL); err != nil {
		return err
	}
	if err := validateWaitTime(r.WaitTime); err != nil {
		return err
	}
	switch r.ResponseType {
	case "":
		r.ResponseType = "json"
	case "json", "text":
	default:
		return NewValidationError("responseType", "responseType must be json or text")
	}
	if len(r.Prompt) > MaxPromptLength {
		return NewValidationError("prompt", fmt.Sprintf("prompt exceeds maximum length of %d", MaxPromptLength))
	}
	if len(r.Instructions) > MaxInstructionsLength {
		return NewValidationError("instructions", fmt.Sprintf("instructions exceed maximum length of %d", MaxInstructionsLength))
	}
	if r.ResponseType == "text" {
		if r.Prompt == "" {
			return NewValidationError("prompt", "prompt is required when responseType is text")
		}
		if r.ResponseFormat != nil {
			return NewValidationError("response_format", "response_format is not allowed when responseType is text")
		}
		return nil
	}
	if r.Prompt == "" && r.ResponseFormat == nil {
		return NewValidationError("prompt", "prompt or response_format is required")
	}
	if rf := r.ResponseFormat; rf != nil {
		if rf.Type != "json_schema" {
			return NewValidationError("response_format.type", `response_format.type must be "json_schema"`)
		}
		if len(rf.JSONSchema) == 0 {
			return NewValidationError("response_format.json_schema", "json_schema is required")
		}
		if !json.Valid(rf.JSONSchema) {
			return NewValidationError("response_format.json_schema", "json_schema must be valid JSON")
		}
	}
	return nil
}

// FileListQuery is the parsed query string of GET /files. Sort inputs outside
// the whitelist are coerced to defaults rather than rejected.
type FileListQuery struct {
	Kind   string
	Limit  int
	Offset int
	SortBy string
	Order  string
}

// Normalize applies defaults and coerces sort fields to the allowed set.
func (q *FileListQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	switch q.SortBy {
	case "created_at", "filename":
	default:
		q.SortBy = "created_at"
	}
	switch q.Order {
	case "asc", "desc":
	default:
		q.Order = "desc"
	}
	switch q.Kind {
	case "", FileKindScreenshot, FileKindPDF:
	default:
		q.Kind = ""
	}
}

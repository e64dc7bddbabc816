package types

import (
	"encoding/json"
	"time"
)

// OperationKind identifies one of the gateway's web operations.
type OperationKind string

// Operation kinds routed through POST /web/{kind}.
const (
	OpMarkdown   OperationKind = "markdown"
	OpContent    OperationKind = "content"
	OpLinks      OperationKind = "links"
	OpScrape     OperationKind = "scrape"
	OpScreenshot OperationKind = "screenshot"
	OpPDF        OperationKind = "pdf"
	OpSearch     OperationKind = "search"
	OpExtract    OperationKind = "json-extraction"
)

// Cost returns the fixed credit cost for the operation kind.
func (k OperationKind) Cost() int64 {
	if k == OpExtract {
		return 2
	}
	return 1
}

// Artifact kinds persisted through the user store.
const (
	FileKindScreenshot = "screenshot"
	FileKindPDF        = "pdf"
)

// Envelope is the uniform response wrapper for every web operation.
//
//	success: {"success":true,  "data":{...}, "creditsCost":n}
//	failure: {"success":false, "error":{"message":"..."}, "creditsCost":0}
type Envelope struct {
	Success     bool       `json:"success"`
	Data        any        `json:"data,omitempty"`
	Error       *ErrorBody `json:"error,omitempty"`
	CreditsCost int64      `json:"creditsCost"`
}

// ErrorBody carries the failure message inside a failure envelope.
type ErrorBody struct {
	Message string `json:"message"`
}

// SuccessEnvelope wraps operation output with its credit cost.
func SuccessEnvelope(data any, cost int64) Envelope {
	return Envelope{Success: true, Data: data, CreditsCost: cost}
}

// FailureEnvelope wraps an operation failure. Failed operations never cost
// credits; the gateway refunds any reservation when it sees one.
func FailureEnvelope(message string) Envelope {
	return Envelope{Success: false, Error: &ErrorBody{Message: message}, CreditsCost: 0}
}

// MarkdownData is the payload for a markdown operation.
type MarkdownData struct {
	Markdown string           `json:"markdown"`
	Metadata MarkdownMetadata `json:"metadata"`
}

// MarkdownMetadata reports conversion statistics.
type MarkdownMetadata struct {
	URL       string    `json:"url"`
	WordCount int       `json:"wordCount"`
	Timestamp time.Time `json:"timestamp"`
}

// ContentData is the payload for a content operation.
type ContentData struct {
	Content     string          `json:"content"`
	ContentType string          `json:"contentType"`
	Metadata    ContentMetadata `json:"metadata"`
}

// ContentMetadata reports page statistics for a content operation.
type ContentMetadata struct {
	URL       string    `json:"url"`
	Length    int       `json:"length"`
	Timestamp time.Time `json:"timestamp"`
}

// Link is a single extracted anchor.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
	Type string `json:"type"` // "internal" or "external"
}

// LinksData is the payload for a links operation.
type LinksData struct {
	Links    []Link        `json:"links"`
	Metadata LinksMetadata `json:"metadata"`
}

// LinksMetadata reports link counts before filtering is applied to totals.
type LinksMetadata struct {
	URL           string    `json:"url"`
	TotalLinks    int       `json:"totalLinks"`
	InternalLinks int       `json:"internalLinks"`
	ExternalLinks int       `json:"externalLinks"`
	Timestamp     time.Time `json:"timestamp"`
}

// ScrapedElement is one DOM element captured by a scrape operation.
type ScrapedElement struct {
	HTML       string            `json:"html"`
	Text       string            `json:"text"`
	Top        float64           `json:"top"`
	Left       float64           `json:"left"`
	Width      float64           `json:"width"`
	Height     float64           `json:"height"`
	Attributes map[string]string `json:"attributes"`
}

// SelectorResult groups the elements captured for one selector.
type SelectorResult struct {
	Selector string           `json:"selector"`
	Count    int              `json:"count"`
	Elements []ScrapedElement `json:"elements"`
}

// ScrapeData is the payload for a scrape operation.
type ScrapeData struct {
	Elements []SelectorResult `json:"elements"`
	Metadata ScrapeMetadata   `json:"metadata"`
}

// ScrapeMetadata reports totals across all selectors.
type ScrapeMetadata struct {
	URL           string    `json:"url"`
	TotalElements int       `json:"totalElements"`
	Timestamp     time.Time `json:"timestamp"`
}

// ScreenshotData is the JSON payload for a screenshot operation when the
// client asked for base64 encoding.
type ScreenshotData struct {
	Image    string             `json:"image"`
	Metadata ScreenshotMetadata `json:"metadata"`
}

// ScreenshotMetadata describes the captured image and its permanent copy.
type ScreenshotMetadata struct {
	URL       string    `json:"url"`
	Format    string    `json:"format"`
	FullPage  bool      `json:"fullPage"`
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	FileID    string    `json:"fileId,omitempty"`
	PublicURL string    `json:"publicUrl,omitempty"`
}

// PDFData is the JSON payload for a pdf operation when the client asked for
// base64 encoding.
type PDFData struct {
	PDF      string      `json:"pdf"`
	Metadata PDFMetadata `json:"metadata"`
}

// PDFMetadata describes the rendered document and its permanent copy.
type PDFMetadata struct {
	URL       string    `json:"url"`
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	FileID    string    `json:"fileId,omitempty"`
	PublicURL string    `json:"publicUrl,omitempty"`
}

// SearchResult is one ranked result from the search aggregator.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"` // "duckduckgo", "startpage" or "bing"
}

// SearchData is the payload for a search operation.
type SearchData struct {
	Results  []SearchResult `json:"results"`
	Metadata SearchMetadata `json:"metadata"`
}

// SearchMetadata reports which engines contributed and the elapsed time.
type SearchMetadata struct {
	Query        string   `json:"query"`
	TotalResults int      `json:"totalResults"`
	Sources      []string `json:"sources"`
	SearchTime   int64    `json:"searchTime"` // wall-clock milliseconds
}

// ExtractData is the payload for a json-extraction operation. Extracted holds
// the parsed object for responseType=json or the raw string for text.
type ExtractData struct {
	Extracted any             `json:"extracted"`
	Metadata  ExtractMetadata `json:"metadata"`
}

// ExtractMetadata reports token accounting for the AI call.
type ExtractMetadata struct {
	URL                   string `json:"url"`
	ResponseType          string `json:"responseType"`
	InputTokens           int    `json:"inputTokens"`
	OutputTokens          int    `json:"outputTokens"`
	OriginalContentTokens int    `json:"originalContentTokens"`
	FinalContentTokens    int    `json:"finalContentTokens"`
	ContentTruncated      bool   `json:"contentTruncated"`
}

// FileRecord is a persisted artifact reference. Records are immutable after
// insert and scoped to the owning user.
type FileRecord struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	SourceURL string          `json:"source_url"`
	Filename  string          `json:"filename"`
	ObjectKey string          `json:"object_key"`
	PublicURL string          `json:"public_url"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// FileListData is the payload for GET /files.
type FileListData struct {
	Files      []FileRecord `json:"files"`
	TotalFiles int          `json:"totalFiles"`
	HasMore    bool         `json:"hasMore"`
}

// DeleteFileData is the payload for DELETE /files/{file_id}.
type DeleteFileData struct {
	Found              bool        `json:"found"`
	DeletedFromDB      bool        `json:"deletedFromDb"`
	DeletedFromStorage bool        `json:"deletedFromStorage"`
	Record             *FileRecord `json:"record,omitempty"`
}

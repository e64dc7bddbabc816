package security

import (
	"errors"
	"fmt"
	"strings"
)

// Header validation limits for client-supplied scrape headers.
const (
	MaxHeaderCount       = 50
	MaxHeaderNameLength  = 256
	MaxHeaderValueLength = 8192
	MaxTotalHeadersSize  = 65536
)

// Header validation errors.
var (
	ErrTooManyHeaders      = errors.New("too many headers (maximum 50)")
	ErrHeaderNameTooLong   = errors.New("header name exceeds maximum length of 256 bytes")
	ErrHeaderValueTooLong  = errors.New("header value exceeds maximum length of 8KB")
	ErrTotalHeadersTooLong = errors.New("total headers size exceeds maximum of 64KB")
	ErrHeaderNameEmpty     = errors.New("header name cannot be empty")
	ErrBlockedHeader       = errors.New("header is not allowed for security reasons")
	ErrInvalidHeaderName   = errors.New("header name contains invalid characters")
	ErrInvalidHeaderChar   = errors.New("header value contains invalid characters")
)

// blockedHeaders are forbidden in scrape requests: connection control would
// break the browser transport, and auth or origin headers would let one
// tenant impersonate another fetch context.
var blockedHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"keep-alive":        true,
	"transfer-encoding": true,
	"content-length":    true,
	"te":                true,
	"trailer":           true,
	"upgrade":           true,

	"cookie":              true,
	"authorization":       true,
	"proxy-authorization": true,
	"www-authenticate":    true,
	"proxy-authenticate":  true,

	"origin":  true,
	"referer": true,
}

// blockedHeaderPrefixes cover header families the browser or the edge set
// themselves. The hardening layer owns sec-* headers in particular.
var blockedHeaderPrefixes = []string{
	"sec-",
	"cf-",
	"x-forwarded-",
	"proxy-",
	"x-real-",
	"x-amz-",
	"x-goog-",
}

// ValidateHeaders validates client-supplied extra request headers for a
// scrape operation.
func ValidateHeaders(headers map[string]string) error {
	if headers == nil {
		return nil
	}

	if len(headers) > MaxHeaderCount {
		return ErrTooManyHeaders
	}

	var totalSize int
	for name, value := range headers {
		if err := validateHeaderName(name); err != nil {
			return fmt.Errorf("invalid header name %q: %w", name, err)
		}
		if err := validateHeaderValue(value); err != nil {
			return fmt.Errorf("invalid value for header %q: %w", name, err)
		}
		totalSize += len(name) + len(value) + 4
		if totalSize > MaxTotalHeadersSize {
			return ErrTotalHeadersTooLong
		}
	}

	return nil
}

func validateHeaderName(name string) error {
	if name == "" {
		return ErrHeaderNameEmpty
	}
	if len(name) > MaxHeaderNameLength {
		return ErrHeaderNameTooLong
	}

	for _, c := range name {
		if c < 33 || c > 126 || c == ':' {
			return ErrInvalidHeaderName
		}
	}

	nameLower := strings.ToLower(name)
	if blockedHeaders[nameLower] {
		return ErrBlockedHeader
	}
	for _, prefix := range blockedHeaderPrefixes {
		if strings.HasPrefix(nameLower, prefix) {
			return ErrBlockedHeader
		}
	}

	return nil
}

// validateHeaderValue rejects control characters and non-ASCII bytes to
// prevent header injection through parser disagreements.
func validateHeaderValue(value string) error {
	if len(value) > MaxHeaderValueLength {
		return ErrHeaderValueTooLong
	}
	for _, c := range value {
		if c < 32 || c > 126 {
			return ErrInvalidHeaderChar
		}
	}
	return nil
}

package search

import (
	"fmt"
	"regexp"
	"strings"
)

// maxBodyScanLen bounds the body slice handed to the regexes so a huge error
// page cannot turn detection into a ReDoS vector.
const maxBodyScanLen = 100 * 1024

// blockCategory classifies why an engine refused a fetch.
type blockCategory string

const (
	blockRateLimit    blockCategory = "rate_limit"
	blockAccessDenied blockCategory = "access_denied"
	blockCaptcha      blockCategory = "captcha"
)

// blockInfo is the result of inspecting a refused response.
type blockInfo struct {
	Detected bool
	Code     string
	Category blockCategory
}

type blockPattern struct {
	pattern  *regexp.Regexp
	code     string
	category blockCategory
}

// blockPatterns are ordered by specificity; the first match wins. The
// bounded character classes keep backtracking in check on HTML input.
var blockPatterns = []blockPattern{
	{regexp.MustCompile(`(?i)too\s{1,5}many\s{1,5}requests`), "TOO_MANY_REQUESTS", blockRateLimit},
	{regexp.MustCompile(`(?i)rate\s{0,3}limit`), "RATE_LIMITED", blockRateLimit},
	{regexp.MustCompile(`(?i)(captcha|hcaptcha|recaptcha|challenge)`), "CAPTCHA_REQUIRED", blockCaptcha},
	{regexp.MustCompile(`(?i)access\s{1,5}denied`), "ACCESS_DENIED", blockAccessDenied},
	{regexp.MustCompile(`(?i)you\s{1,5}(have\s{1,5}been\s{1,5})?blocked`), "BLOCKED", blockAccessDenied},
}

// detectBlock inspects a refused engine response. Status codes give the
// coarse category; body patterns refine it when they match.
func detectBlock(statusCode int, body []byte) blockInfo {
	var info blockInfo

	switch statusCode {
	case 429:
		info = blockInfo{Detected: true, Code: "HTTP_429", Category: blockRateLimit}
	case 503:
		info = blockInfo{Detected: true, Code: "HTTP_503", Category: blockRateLimit}
	}

	text := body
	if len(text) > maxBodyScanLen {
		text = text[:maxBodyScanLen]
	}
	for _, p := range blockPatterns {
		if p.pattern.Match(text) {
			info = blockInfo{Detected: true, Code: p.code, Category: p.category}
			break
		}
	}

	if statusCode == 403 && !info.Detected && strings.Contains(strings.ToLower(string(text)), "cloudflare") {
		info = blockInfo{Detected: true, Code: "CF_403", Category: blockAccessDenied}
	}

	return info
}

// blockError carries the classification so the retry loop can distinguish a
// transient rate limit from a block that retries will not clear.
type blockError struct {
	status int
	info   blockInfo
}

func (e *blockError) Error() string {
	return fmt.Sprintf("engine refused fetch: %s (status %d)", e.info.Code, e.status)
}

// retryable reports whether waiting and retrying has any chance of helping.
func (e *blockError) retryable() bool {
	return e.info.Category == blockRateLimit
}

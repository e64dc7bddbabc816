package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns middleware that limits requests per client IP using a
// sliding window. trustProxy must only be true behind a trusted reverse
// proxy; otherwise clients can dodge the limiter by spoofing
// X-Forwarded-For.
func RateLimit(requestsPerMinute int, trustProxy bool) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ClientIP(r, trustProxy), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			writeEnvelopeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
		}),
	)
}

// normalizeIP validates and normalizes an IP address string. IPv4-mapped
// IPv6 addresses collapse to IPv4 so clients cannot dodge limits through
// address variations.
func normalizeIP(ipStr string) string {
	ipStr = strings.TrimSpace(ipStr)
	if ipStr == "" {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ipStr
	}

	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}

	return ip.String()
}

// ClientIP extracts the client IP from the request. When trustProxy is
// false, only RemoteAddr is used to prevent IP spoofing. When trustProxy is
// true, X-Forwarded-For and X-Real-IP headers are checked first.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Leftmost entry is the original client.
			ipStr := xff
			if idx := strings.Index(xff, ","); idx > 0 {
				ipStr = xff[:idx]
			}
			if normalized := normalizeIP(ipStr); normalized != "" {
				return normalized
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if normalized := normalizeIP(xri); normalized != "" {
				return normalized
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return normalizeIP(ip)
}

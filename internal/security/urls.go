// Package security provides input validation and log redaction for
// client-supplied URLs and headers.
package security

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URL validation errors.
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrBlockedScheme    = errors.New("URL scheme not allowed")
	ErrPrivateIPBlocked = errors.New("private/internal IP addresses are not allowed")
	ErrLocalhostBlocked = errors.New("localhost URLs are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata URLs are not allowed")
)

// allowedSchemes defines the permitted URL schemes for navigation targets.
var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// blockedHosts contains hostnames that must never be rendered.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true, // GCP metadata
	"metadata":                 true, // Generic cloud metadata
	"instance-data":            true, // AWS instance metadata hostname
}

// cloudMetadataIPs are the metadata service addresses of the major clouds.
// A rendered page fetching one of these could leak instance credentials.
var cloudMetadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"), // AWS, GCP, Azure, DigitalOcean, OpenStack
	net.ParseIP("169.254.170.2"),   // AWS ECS task metadata
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud IMDS
	net.ParseIP("fd00:ec2::254"),   // AWS IPv6 metadata
	net.ParseIP("fc00:ec2::254"),   // AWS IPv6 metadata (alternate)
}

// ValidateURL checks whether a target URL is safe to hand to the remote
// browser. It blocks non-HTTP(S) schemes, loopback and private addresses,
// cloud metadata services, and the usual IP-encoding bypasses (decimal,
// octal, hex, shortened forms, IPv4-mapped IPv6).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	if !allowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedScheme
	}

	hostname := strings.ToLower(parsed.Hostname())
	if blockedHosts[hostname] || isLocalhostName(hostname) {
		return ErrLocalhostBlocked
	}

	if ip := parseNonstandardIP(hostname); ip != nil {
		return validateIP(normalizeIPv4Mapped(ip))
	}

	// Hostnames resolve before the check; DNS failures pass through and
	// surface later as navigation errors.
	if ips, err := net.LookupIP(hostname); err == nil {
		for _, resolved := range ips {
			if err := validateIP(normalizeIPv4Mapped(resolved)); err != nil {
				return err
			}
		}
	}

	return nil
}

// parseNonstandardIP parses hostname forms that bypass naive IP checks:
// standard notation, single decimal (2130706433), octal or hex octets
// (0177.0.0.1, 0x7f.0.0.1) and shortened forms (127.1).
func parseNonstandardIP(hostname string) net.IP {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip
	}

	if num, err := strconv.ParseUint(hostname, 10, 32); err == nil {
		return net.IPv4(byte(num>>24), byte(num>>16), byte(num>>8), byte(num))
	}

	parts := strings.Split(hostname, ".")
	if len(parts) == 4 {
		var octets [4]byte
		for i, part := range parts {
			val, err := parseIntAnyBase(part)
			if err != nil || val > 255 {
				return nil
			}
			octets[i] = byte(val)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	}

	if len(parts) == 2 {
		first, err1 := parseIntAnyBase(parts[0])
		second, err2 := parseIntAnyBase(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && second <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(second>>16), byte(second>>8), byte(second))
		}
	}

	return nil
}

// parseIntAnyBase parses decimal, octal (0-prefixed) or hex (0x-prefixed).
func parseIntAnyBase(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	if strings.HasPrefix(s, "0") && len(s) > 1 {
		return strconv.ParseUint(s[1:], 8, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func normalizeIPv4Mapped(ip net.IP) net.IP {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

func isLocalhostName(hostname string) bool {
	switch hostname {
	case "localhost", "localhost.localdomain", "local", "ip6-localhost", "ip6-loopback":
		return true
	}
	return strings.HasSuffix(hostname, ".localhost") || strings.HasPrefix(hostname, "localhost.")
}

// isLoopbackIP covers the entire 127.0.0.0/8 range for IPv4 and ::1.
func isLoopbackIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 127
	}
	return ip.Equal(net.IPv6loopback)
}

func validateIP(ip net.IP) error {
	if isLoopbackIP(ip) {
		return ErrLocalhostBlocked
	}
	if ip.IsPrivate() {
		return ErrPrivateIPBlocked
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ErrPrivateIPBlocked
	}
	for _, meta := range cloudMetadataIPs {
		if ip.Equal(meta) {
			return ErrMetadataBlocked
		}
	}
	if ip.IsUnspecified() {
		return ErrPrivateIPBlocked
	}
	return nil
}

// sensitiveParamPatterns are query parameter names that likely carry secrets.
var sensitiveParamPatterns = []string{
	"password",
	"passwd",
	"pwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"auth",
	"authorization",
	"bearer",
	"credential",
	"key",
	"access_token",
	"refresh_token",
	"session",
	"sessionid",
	"sid",
	"private",
}

// RedactURL removes credentials and secret-looking query parameters from a
// URL so it can be logged safely.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User("[REDACTED]")
	}

	if parsed.RawQuery != "" {
		params := parsed.Query()
		redacted := make(url.Values, len(params))
		for key, values := range params {
			keyLower := strings.ToLower(key)
			hit := false
			for _, pattern := range sensitiveParamPatterns {
				if strings.Contains(keyLower, pattern) {
					hit = true
					break
				}
			}
			if hit {
				redacted[key] = []string{"[REDACTED]"}
			} else {
				redacted[key] = values
			}
		}
		parsed.RawQuery = redacted.Encode()
	}

	return parsed.String()
}

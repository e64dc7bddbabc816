// Package ids derives the stable identifiers, storage keys and public URLs
// for persisted artifacts.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultUserHashSalt is appended to the user id before hashing. It is
// configurable so preview deployments can keep their storage scopes apart.
const DefaultUserHashSalt = "_salt_2025"

const userHashPrefix = "weblinq_user_"

// FileID returns the 12-hex-char identifier for a file record. The inputs
// pin it to one user, kind, source URL and creation millisecond, so a retry
// of the same logical write reproduces the same id.
func FileID(userID, kind, sourceURL string, createdAt time.Time) string {
	ms := strconv.FormatInt(createdAt.UnixMilli(), 10)
	sum := sha256.Sum256([]byte(userID + kind + sourceURL + ms))
	return hex.EncodeToString(sum[:])[:12]
}

// UserHash returns the 16-hex-char storage scope for a user. The raw user id
// never appears in object keys or public URLs.
func UserHash(userID, salt string) string {
	if salt == "" {
		salt = DefaultUserHashSalt
	}
	sum := sha256.Sum256([]byte(userHashPrefix + userID + salt))
	return hex.EncodeToString(sum[:])[:16]
}

// SanitizeDomain reduces a URL's host to a filename-safe token: lowercase,
// every non-alphanumeric rune replaced with an underscore. Unparseable input
// sanitizes to "unknown".
func SanitizeDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	var b strings.Builder
	b.Grow(len(host))
	for _, r := range host {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Filename builds "{sanitized_domain}_{created_at_unix_ms}.{ext}".
func Filename(sourceURL string, createdAt time.Time, ext string) string {
	return SanitizeDomain(sourceURL) + "_" + strconv.FormatInt(createdAt.UnixMilli(), 10) + "." + ext
}

// ObjectKey builds "{kind}s/{user_hash}/{yyyy-mm-dd}/{filename}". The date
// component uses UTC so keys sort with created_at regardless of server zone.
func ObjectKey(kind, userHash string, createdAt time.Time, filename string) string {
	return kind + "s/" + userHash + "/" + createdAt.UTC().Format("2006-01-02") + "/" + filename
}

// PublicURL composes the permanent URL for an object key. It is a pure
// function of the key and the CDN host.
func PublicURL(cdnHost, objectKey string) string {
	return "https://" + cdnHost + "/" + objectKey
}

package ids

import (
	"strings"
	"testing"
	"time"
)

var testCreatedAt = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func TestFileIDStable(t *testing.T) {
	a := FileID("user-1", "screenshot", "https://example.com", testCreatedAt)
	b := FileID("user-1", "screenshot", "https://example.com", testCreatedAt)

	if a != b {
		t.Errorf("FileID not stable: %q != %q", a, b)
	}
	if len(a) != 12 {
		t.Errorf("FileID length = %d, want 12", len(a))
	}
	for _, r := range a {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("FileID contains non-hex rune %q", r)
		}
	}
}

func TestFileIDDistinctInputs(t *testing.T) {
	base := FileID("user-1", "screenshot", "https://example.com", testCreatedAt)

	if FileID("user-2", "screenshot", "https://example.com", testCreatedAt) == base {
		t.Error("FileID identical across users")
	}
	if FileID("user-1", "pdf", "https://example.com", testCreatedAt) == base {
		t.Error("FileID identical across kinds")
	}
	if FileID("user-1", "screenshot", "https://example.org", testCreatedAt) == base {
		t.Error("FileID identical across URLs")
	}
	if FileID("user-1", "screenshot", "https://example.com", testCreatedAt.Add(time.Millisecond)) == base {
		t.Error("FileID identical across creation instants")
	}
}

func TestUserHash(t *testing.T) {
	h := UserHash("user-1", DefaultUserHashSalt)
	if len(h) != 16 {
		t.Errorf("UserHash length = %d, want 16", len(h))
	}
	if h != UserHash("user-1", "") {
		t.Error("empty salt must fall back to the default")
	}
	if h == UserHash("user-2", DefaultUserHashSalt) {
		t.Error("UserHash identical across users")
	}
	if h == UserHash("user-1", "_salt_preview") {
		t.Error("UserHash identical across salts")
	}
	if strings.Contains(h, "user-1") {
		t.Error("UserHash leaks the raw user id")
	}
}

func TestSanitizeDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/page", "example_com"},
		{"https://Sub.Example.COM", "sub_example_com"},
		{"https://api-v2.example.co.uk:8443/x", "api_v2_example_co_uk"},
		{"http://127.0.0.1/x", "127_0_0_1"},
		{"not a url", "unknown"},
		{"", "unknown"},
	}

	for _, tt := range tests {
		if got := SanitizeDomain(tt.url); got != tt.want {
			t.Errorf("SanitizeDomain(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestFilenameAndObjectKey(t *testing.T) {
	name := Filename("https://example.com/page", testCreatedAt, "png")
	if name != "example_com_1741944413589.png" {
		t.Errorf("Filename = %q", name)
	}

	key := ObjectKey("screenshot", "00010203aabbccdd", testCreatedAt, name)
	want := "screenshots/00010203aabbccdd/2025-03-14/" + name
	if key != want {
		t.Errorf("ObjectKey = %q, want %q", key, want)
	}
}

func TestObjectKeyUsesUTCDate(t *testing.T) {
	zone := time.FixedZone("UTC+13", 13*60*60)
	createdAt := time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC).In(zone)

	key := ObjectKey("pdf", "feedfacefeedface", createdAt, "x.pdf")
	if !strings.Contains(key, "/2025-03-14/") {
		t.Errorf("ObjectKey date not UTC: %q", key)
	}
}

func TestPublicURL(t *testing.T) {
	got := PublicURL("cdn.weblinq.dev", "screenshots/ab/2025-03-14/x.png")
	want := "https://cdn.weblinq.dev/screenshots/ab/2025-03-14/x.png"
	if got != want {
		t.Errorf("PublicURL = %q, want %q", got, want)
	}
}

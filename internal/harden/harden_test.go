package harden

import (
	"errors"
	"strings"
	"testing"

	"github.com/weblinq/weblinq-go/internal/clock"
)

func TestIsRetryableNavError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"connection closed", errors.New("page load failed: net::ERR_CONNECTION_CLOSED"), true},
		{"network changed", errors.New("ERR_NETWORK_CHANGED while fetching"), true},
		{"connection reset", errors.New("ERR_CONNECTION_RESET"), true},
		{"timed out", errors.New("navigation: ERR_TIMED_OUT"), true},
		{"generic net err", errors.New("net::ERR_NAME_NOT_RESOLVED"), true},
		{"textual timeout", errors.New("navigation timeout after 30s waiting for load"), true},
		{"case sensitive", errors.New("TIMEOUT exceeded"), false},
		{"dns is retryable via net prefix", errors.New("net::ERR_ABORTED"), true},
		{"http error", errors.New("unexpected status 403"), false},
		{"certificate", errors.New("ERR_CERT_AUTHORITY_INVALID"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableNavError(tt.err); got != tt.retryable {
				t.Errorf("IsRetryableNavError(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestViewportWhitelist(t *testing.T) {
	vps := Viewports()
	if len(vps) != 6 {
		t.Fatalf("expected exactly 6 whitelisted viewports, got %d", len(vps))
	}
	for _, vp := range vps {
		if vp.Width < 1280 || vp.Height < 720 {
			t.Errorf("viewport %dx%d is not a desktop size", vp.Width, vp.Height)
		}
		if vp.Height >= vp.Width {
			t.Errorf("viewport %dx%d is not landscape", vp.Width, vp.Height)
		}
	}
}

func TestPickViewportDeterministic(t *testing.T) {
	h := New(clock.NewRand(42))
	first := h.pickViewport(nil)

	h2 := New(clock.NewRand(42))
	second := h2.pickViewport(nil)

	if first != second {
		t.Errorf("same seed produced different viewports: %v vs %v", first, second)
	}

	requested := &Viewport{Width: 800, Height: 600}
	if got := h.pickViewport(requested); got != *requested {
		t.Errorf("explicit viewport not honored: got %v", got)
	}
}

func TestFingerprintScriptContents(t *testing.T) {
	script := FingerprintScript(Viewport{Width: 1536, Height: 864})

	// The contract enumerates exactly these globals.
	wantPatches := []string{
		"'webdriver'",
		"'languages'",
		"'plugins'",
		"window.chrome",
		"'notifications'",
		"getUserMedia",
		"UNMASKED_VENDOR_WEBGL",
		"'availWidth'",
		"'availHeight'",
		"getBattery",
		"contentWindow",
		"Date.now",
		"performance.now",
	}
	for _, want := range wantPatches {
		if !strings.Contains(script, want) {
			t.Errorf("fingerprint script missing patch for %s", want)
		}
	}

	// Screen avail dims must follow the viewport.
	if !strings.Contains(script, "const vpWidth = 1536") || !strings.Contains(script, "const vpHeight = 864") {
		t.Error("fingerprint script does not embed the viewport dimensions")
	}

	// Over-patching is a detection vector: these must NOT be present.
	forbidden := []string{"hardwareConcurrency", "deviceMemory", "Function.prototype.toString"}
	for _, f := range forbidden {
		if strings.Contains(script, f) {
			t.Errorf("fingerprint script patches %s, which is outside the hardening contract", f)
		}
	}
}

func TestIdentityHeadersConsistent(t *testing.T) {
	if !strings.Contains(userAgent, "Windows NT") {
		t.Fatal("user agent is not a Windows desktop identity")
	}
	if got := identityHeaders["sec-ch-ua-platform"]; got != `"Windows"` {
		t.Errorf("sec-ch-ua-platform %q does not match the Windows user agent", got)
	}
	if got := identityHeaders["sec-ch-ua-mobile"]; got != "?0" {
		t.Errorf("sec-ch-ua-mobile = %q, want ?0 for a desktop identity", got)
	}
	uaMajor := "124"
	if !strings.Contains(identityHeaders["sec-ch-ua"], uaMajor) {
		t.Errorf("sec-ch-ua does not carry the user agent major version %s", uaMajor)
	}
	for _, name := range []string{"Accept", "Accept-Language", "sec-fetch-dest", "sec-fetch-mode", "sec-fetch-site", "sec-fetch-user"} {
		if identityHeaders[name] == "" {
			t.Errorf("identity header %s is missing", name)
		}
	}
}

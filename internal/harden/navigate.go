package harden

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/security"
)

// WaitUntil names the readiness event navigation waits for.
type WaitUntil string

// Supported readiness events.
const (
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitLoad             WaitUntil = "load"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// Navigation defaults.
const (
	DefaultNavTimeout = 30 * time.Second
	maxNavAttempts    = 3
)

// retryableErrorParts identify transient navigation failures. Matching is by
// substring and case-sensitive; anything else surfaces unchanged.
var retryableErrorParts = []string{
	"ERR_CONNECTION_CLOSED",
	"ERR_NETWORK_CHANGED",
	"ERR_CONNECTION_RESET",
	"ERR_TIMED_OUT",
	"net::ERR",
	"timeout",
}

// IsRetryableNavError reports whether a navigation error is worth another
// attempt.
func IsRetryableNavError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, part := range retryableErrorParts {
		if strings.Contains(msg, part) {
			return true
		}
	}
	return false
}

// Navigator performs navigation with retry and backoff. The clock is
// injected so backoff is instantaneous under test.
type Navigator struct {
	clk            clock.Clock
	defaultTimeout time.Duration
}

// NewNavigator creates a Navigator.
func NewNavigator(clk clock.Clock) *Navigator {
	return &Navigator{clk: clk, defaultTimeout: DefaultNavTimeout}
}

// SetDefaultTimeout overrides the timeout used when a caller passes zero.
func (n *Navigator) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		n.defaultTimeout = d
	}
}

// GotoWithRetry navigates the page to url and waits for the requested
// readiness event. Transient errors are retried up to three times with
// exponential backoff (1s, 2s, 4s). A zero timeout means the default 30s.
func (n *Navigator) GotoWithRetry(ctx context.Context, page *rod.Page, url string, waitUntil WaitUntil, timeout time.Duration) error {
	if waitUntil == "" {
		waitUntil = WaitDOMContentLoaded
	}
	if timeout <= 0 {
		timeout = n.defaultTimeout
	}

	backoff := 1 * time.Second
	var lastErr error

	for attempt := 1; attempt <= maxNavAttempts; attempt++ {
		lastErr = navigateOnce(ctx, page, url, waitUntil, timeout)
		if lastErr == nil {
			return nil
		}
		if !IsRetryableNavError(lastErr) {
			return lastErr
		}
		if attempt == maxNavAttempts {
			break
		}

		log.Debug().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Str("url", security.RedactURL(url)).
			Msg("Navigation failed, retrying")

		if err := n.clk.Sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}

	return lastErr
}

// navigateOnce performs a single navigation attempt bounded by timeout.
func navigateOnce(ctx context.Context, page *rod.Page, url string, waitUntil WaitUntil, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bounded := page.Context(navCtx)
	wait := bounded.WaitNavigation(lifecycleEvent(waitUntil))

	if err := bounded.Navigate(url); err != nil {
		return err
	}
	wait()

	if navCtx.Err() != nil && ctx.Err() == nil {
		// Only the per-attempt deadline fired; report it in the retryable
		// class so the caller backs off and tries again.
		return fmt.Errorf("navigation timeout after %s waiting for %s", timeout, waitUntil)
	}
	return ctx.Err()
}

func lifecycleEvent(w WaitUntil) proto.PageLifecycleEventName {
	switch w {
	case WaitLoad:
		return proto.PageLifecycleEventNameLoad
	case WaitNetworkIdle:
		return proto.PageLifecycleEventNameNetworkAlmostIdle
	default:
		return proto.PageLifecycleEventNameDOMContentLoaded
	}
}

// Package binding adapts the remote headless-browser service. Session and
// quota management go through its REST control plane; pages are driven over
// CDP websockets through rod.
package binding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/types"
)

const (
	controlTimeout  = 15 * time.Second
	maxResponseBody = 1 << 20 // 1MB cap on control-plane responses
)

// SessionInfo describes one session in the service's listing. ConnectionID
// is set while some client holds the session's websocket.
type SessionInfo struct {
	ID            string    `json:"sessionId"`
	StartedAt     time.Time `json:"startTime"`
	ConnectionID  string    `json:"connectionId,omitempty"`
	ConnectionURL string    `json:"connectionUrl,omitempty"`
}

// HasConnection reports whether another client currently holds the session.
func (s SessionInfo) HasConnection() bool {
	return s.ConnectionID != ""
}

// Quota is a point-in-time snapshot of the session budget.
type Quota struct {
	MaxConcurrent       int       // sessions the service will run at once
	Active              int       // sessions currently alive
	AcquisitionsAllowed int       // launches left in the current window
	WaitUntil           time.Time // earliest moment a new launch may be attempted
}

// limitsResponse is the wire form of GET /limits.
type limitsResponse struct {
	MaxConcurrentSessions       int                 `json:"maxConcurrentSessions"`
	ActiveSessions              []struct{ ID string `json:"id"` } `json:"activeSessions"`
	AllowedBrowserAcquisitions  int                 `json:"allowedBrowserAcquisitions"`
	TimeToNextAllowedAcquireMs  int64               `json:"timeToNextAllowedBrowserAcquisition"`
}

// launchRequest is the wire form of POST /sessions.
type launchRequest struct {
	KeepAliveMs int64 `json:"keepAlive"`
}

// launchResponse is the wire form of a successful launch.
type launchResponse struct {
	SessionID     string `json:"sessionId"`
	ConnectionURL string `json:"connectionUrl"`
	RetryAfterMs  int64  `json:"retryAfterMs,omitempty"`
}

// Session is a live remote browser held by this process. Closing it drops
// the CDP websocket, which returns the session to the service's idle pool
// until its keep-alive expires.
type Session struct {
	ID        string
	StartedAt time.Time

	browser *rod.Browser
	cancel  context.CancelFunc
}

// Browser exposes the underlying rod handle for page creation.
func (s *Session) Browser() *rod.Browser {
	return s.browser
}

// Client talks to the remote browser service.
type Client struct {
	baseURL   string
	token     string
	keepAlive time.Duration
	http      *http.Client
}

// New creates a binding client. baseURL is the service's HTTP endpoint;
// token authenticates both the control plane and the CDP websocket.
func New(baseURL, token string, keepAlive time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		keepAlive: keepAlive,
		http:      &http.Client{Timeout: controlTimeout},
	}
}

// ListSessions returns every session the service knows about, including
// sessions launched by other clients of the same binding.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var sessions []SessionInfo
	if err := c.getJSON(ctx, "/sessions", &sessions); err != nil {
		return nil, &types.BindingError{Op: "list_sessions", Err: err}
	}
	return sessions, nil
}

// Quota returns the current session budget snapshot.
func (c *Client) Quota(ctx context.Context) (Quota, error) {
	var resp limitsResponse
	if err := c.getJSON(ctx, "/limits", &resp); err != nil {
		return Quota{}, &types.BindingError{Op: "quota", Err: err}
	}
	q := Quota{
		MaxConcurrent:       resp.MaxConcurrentSessions,
		Active:              len(resp.ActiveSessions),
		AcquisitionsAllowed: resp.AllowedBrowserAcquisitions,
	}
	if resp.TimeToNextAllowedAcquireMs > 0 {
		q.WaitUntil = time.Now().Add(time.Duration(resp.TimeToNextAllowedAcquireMs) * time.Millisecond)
	}
	return q, nil
}

// Launch asks the service for a fresh session and connects to it. A 429
// from the service surfaces as SessionsExhaustedError with its retry hint.
func (c *Client) Launch(ctx context.Context) (*Session, error) {
	body, err := json.Marshal(launchRequest{KeepAliveMs: c.keepAlive.Milliseconds()})
	if err != nil {
		return nil, &types.BindingError{Op: "launch", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, &types.BindingError{Op: "launch", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &types.BindingError{Op: "launch", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &types.BindingError{Op: "launch", Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		var lr launchResponse
		_ = json.Unmarshal(data, &lr)
		retryAfter := time.Duration(lr.RetryAfterMs) * time.Millisecond
		if retryAfter <= 0 {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, types.NewSessionsExhaustedError("acquisitions", retryAfter)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &types.BindingError{
			Op:  "launch",
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncateForLog(data)),
		}
	}

	var lr launchResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, &types.BindingError{Op: "launch", Err: err}
	}
	if lr.SessionID == "" {
		return nil, &types.BindingError{Op: "launch", Err: fmt.Errorf("launch response missing sessionId")}
	}

	sess, err := c.dial(ctx, lr.SessionID, lr.ConnectionURL)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("session_id", sess.ID).Msg("Launched browser session")
	return sess, nil
}

// Connect attaches to an existing idle session. Failures are expected when
// another client grabbed the session first; callers fall back to Launch.
func (c *Client) Connect(ctx context.Context, info SessionInfo) (*Session, error) {
	sess, err := c.dial(ctx, info.ID, info.ConnectionURL)
	if err != nil {
		return nil, err
	}
	sess.StartedAt = info.StartedAt
	log.Debug().Str("session_id", sess.ID).Msg("Connected to existing browser session")
	return sess, nil
}

// dial opens the CDP websocket for a session. The session owns its own
// context so it survives the request that created it until released.
func (c *Client) dial(ctx context.Context, sessionID, connectionURL string) (*Session, error) {
	wsURL := connectionURL
	if wsURL == "" {
		wsURL = c.sessionWSURL(sessionID)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	browser := rod.New().ControlURL(wsURL).Context(sessCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- browser.Connect() }()

	select {
	case err := <-errCh:
		if err != nil {
			cancel()
			return nil, &types.BindingError{Op: "connect", Err: c.redactToken(err)}
		}
	case <-ctx.Done():
		cancel()
		return nil, &types.BindingError{Op: "connect", Err: ctx.Err()}
	}

	return &Session{
		ID:        sessionID,
		StartedAt: time.Now(),
		browser:   browser,
		cancel:    cancel,
	}, nil
}

// NewPage opens a blank page on the session.
func (c *Client) NewPage(ctx context.Context, s *Session) (*rod.Page, error) {
	if s == nil || s.browser == nil {
		return nil, &types.BindingError{Op: "new_page", Err: types.ErrSessionGone}
	}
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, &types.BindingError{Op: "new_page", Err: err}
	}
	return page, nil
}

// ClosePage closes a page. Already-closed pages are not an error.
func (c *Client) ClosePage(page *rod.Page) error {
	if page == nil {
		return nil
	}
	if err := page.Close(); err != nil && !isClosedError(err) {
		return &types.BindingError{Op: "close_page", Err: err}
	}
	return nil
}

// CloseSession releases this client's hold on the session by dropping the
// CDP websocket. The remote service keeps the session alive for reuse until
// its keep-alive expires.
func (c *Client) CloseSession(s *Session) error {
	if s == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// sessionWSURL derives the CDP endpoint for a session from the base URL.
func (c *Client) sessionWSURL(sessionID string) string {
	ws := c.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	endpoint := ws + "/sessions/" + url.PathEscape(sessionID) + "/connect"
	if c.token != "" {
		endpoint += "?token=" + url.QueryEscape(c.token)
	}
	return endpoint
}

// redactToken masks the binding token in an error message. The CDP URL
// carries the token as a query parameter, and rod embeds the URL in its
// connect errors.
func (c *Client) redactToken(err error) error {
	if err == nil || c.token == "" {
		return err
	}
	msg := err.Error()
	scrubbed := msg
	for _, raw := range []string{url.QueryEscape(c.token), c.token} {
		scrubbed = strings.ReplaceAll(scrubbed, raw, "[REDACTED]")
	}
	if scrubbed == msg {
		return err
	}
	return errors.New(scrubbed)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncateForLog(data))
	}
	return json.Unmarshal(data, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// parseRetryAfter reads a Retry-After header in seconds form.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func truncateForLog(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// isClosedError matches the errors rod returns when a target is already
// gone. Both shapes show up depending on which side closed first.
func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "session closed") ||
		strings.Contains(msg, "No target with given id") ||
		strings.Contains(msg, "context canceled")
}

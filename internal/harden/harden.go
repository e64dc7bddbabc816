// Package harden prepares freshly leased browser pages for navigation:
// consistent desktop identity headers, a randomized viewport, fingerprint
// counter-measures and selective resource blocking.
package harden

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/weblinq/weblinq-go/internal/clock"
)

// userAgent is the desktop identity every hardened page presents. The
// sec-ch-ua and sec-fetch header sets below must stay consistent with it.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// identityHeaders accompany the user agent on every request. Served through
// Network.setExtraHTTPHeaders so they apply to subresource fetches too.
var identityHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
	"Accept-Language":           "en-US,en;q=0.9",
	"Accept-Encoding":           "gzip, deflate, br",
	"sec-ch-ua":                 `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
	"sec-ch-ua-mobile":          "?0",
	"sec-ch-ua-platform":        `"Windows"`,
	"sec-fetch-dest":            "document",
	"sec-fetch-mode":            "navigate",
	"sec-fetch-site":            "none",
	"sec-fetch-user":            "?1",
	"Upgrade-Insecure-Requests": "1",
}

// IdentityHeaders returns a copy of the standard header set, for callers
// that need to merge per-request headers without losing the identity.
func IdentityHeaders() map[string]string {
	out := make(map[string]string, len(identityHeaders))
	for k, v := range identityHeaders {
		out[k] = v
	}
	return out
}

// Viewport is one entry of the desktop size whitelist.
type Viewport struct {
	Width  int
	Height int
}

// viewports is the fixed whitelist of desktop sizes a hardened page may get.
var viewports = [6]Viewport{
	{1920, 1080},
	{1366, 768},
	{1536, 864},
	{1440, 900},
	{1600, 900},
	{1280, 720},
}

// Viewports returns a copy of the viewport whitelist.
func Viewports() []Viewport {
	out := make([]Viewport, len(viewports))
	copy(out, viewports[:])
	return out
}

// blockedResourceTypes are withheld from content-oriented operations. Visual
// operations (screenshot, pdf) must load everything and never install the
// router.
var blockedResourceTypes = map[proto.NetworkResourceType]bool{
	proto.NetworkResourceTypeImage:      true,
	proto.NetworkResourceTypeMedia:      true,
	proto.NetworkResourceTypeFont:       true,
	proto.NetworkResourceTypeStylesheet: true,
}

// Hardener applies the full pre-navigation contract to pages. Randomness is
// injected so viewport choice is deterministic under test.
type Hardener struct {
	rnd clock.Rand
}

// New creates a Hardener using the given randomness source.
func New(rnd clock.Rand) *Hardener {
	return &Hardener{rnd: rnd}
}

// Options select the per-operation parts of the hardening contract.
type Options struct {
	// BlockResources installs the resource router. Must be false for
	// screenshot and pdf operations.
	BlockResources bool
	// Viewport overrides the randomized whitelist choice when non-nil.
	Viewport *Viewport
}

// Cleanup tears down the per-page hijack router. Safe to call when no
// router was installed and safe to call more than once.
type Cleanup func()

// Apply hardens a freshly created page. It must run before navigation;
// reused sessions get it reapplied on every lease because their pages may
// carry residual state.
func (h *Hardener) Apply(page *rod.Page, opts Options) (Viewport, Cleanup, error) {
	vp := h.pickViewport(opts.Viewport)

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return vp, nil, fmt.Errorf("enable network domain: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US,en;q=0.9",
		Platform:       "Win32",
	}); err != nil {
		return vp, nil, fmt.Errorf("set user agent: %w", err)
	}

	headers := make(map[string]gson.JSON, len(identityHeaders))
	for k, v := range identityHeaders {
		headers[k] = gson.New(v)
	}
	if err := (proto.NetworkSetExtraHTTPHeaders{Headers: headers}).Call(page); err != nil {
		return vp, nil, fmt.Errorf("set identity headers: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		return vp, nil, fmt.Errorf("set viewport: %w", err)
	}

	if _, err := page.EvalOnNewDocument(FingerprintScript(vp)); err != nil {
		return vp, nil, fmt.Errorf("install fingerprint script: %w", err)
	}

	cleanup := Cleanup(func() {})
	if opts.BlockResources {
		var err error
		cleanup, err = installResourceRouter(page)
		if err != nil {
			return vp, nil, fmt.Errorf("install resource router: %w", err)
		}
	}

	log.Debug().
		Int("width", vp.Width).
		Int("height", vp.Height).
		Bool("block_resources", opts.BlockResources).
		Msg("Page hardened")

	return vp, cleanup, nil
}

// pickViewport honors an explicit request, otherwise draws from the
// whitelist.
func (h *Hardener) pickViewport(requested *Viewport) Viewport {
	if requested != nil && requested.Width > 0 && requested.Height > 0 {
		return *requested
	}
	return viewports[h.rnd.Intn(len(viewports))]
}

// installResourceRouter blocks image, media, font and stylesheet requests.
// Everything else continues untouched.
func installResourceRouter(page *rod.Page) (Cleanup, error) {
	router := page.HijackRequests()
	err := router.Add("*", "", func(ctx *rod.Hijack) {
		if blockedResourceTypes[ctx.Request.Type()] {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}
	go router.Run()

	return func() {
		if err := router.Stop(); err != nil {
			log.Debug().Err(err).Msg("Resource router stop failed")
		}
	}, nil
}

package runner

import (
	"context"
	"io"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/weblinq/weblinq-go/internal/harden"
	"github.com/weblinq/weblinq-go/internal/pool"
	"github.com/weblinq/weblinq-go/internal/types"
)

// speedQuality is the jpeg quality the optimizeForSpeed shorthand selects.
const speedQuality = 50

// defaultCaptureViewport is used when the client does not request one.
// Captures do not randomize: two screenshots of the same page should agree.
var defaultCaptureViewport = harden.Viewport{Width: 1920, Height: 1080}

// CaptureResult carries the rendered bytes plus the options that shaped
// them; the gateway needs both for persistence and metadata.
type CaptureResult struct {
	Bytes    []byte
	Format   string
	FullPage bool
}

// Screenshot renders the page to an image. Resource blocking stays off so
// the capture includes styling and media.
func (r *Runner) Screenshot(ctx context.Context, req *types.ScreenshotRequest) (*CaptureResult, error) {
	vp := defaultCaptureViewport
	if req.Viewport != nil {
		vp = harden.Viewport{Width: req.Viewport.Width, Height: req.Viewport.Height}
	}

	opts := req.ScreenshotOptions
	format := req.Format()
	fullPage := true
	if opts != nil && opts.FullPage != nil {
		fullPage = *opts.FullPage
	}

	capture := captureOptions(opts, format)

	var result *CaptureResult
	err := r.withPage(ctx, req.URL, pool.LeaseOptions{Viewport: &vp}, harden.WaitLoad, 0, req.WaitTime, func(page *rod.Page) error {
		if opts != nil && opts.OmitBackground {
			if err := (proto.EmulationSetDefaultBackgroundColorOverride{
				Color: &proto.DOMRGBA{R: 0, G: 0, B: 0, A: gson.Num(0)},
			}).Call(page); err != nil {
				return err
			}
		}

		img, err := page.Screenshot(fullPage, capture)
		if err != nil {
			return err
		}
		result = &CaptureResult{Bytes: img, Format: format, FullPage: fullPage}
		return nil
	})
	return result, err
}

// PDF renders the page to a PDF document.
func (r *Runner) PDF(ctx context.Context, req *types.PDFRequest) ([]byte, error) {
	var pdf []byte
	err := r.withPage(ctx, req.URL, pool.LeaseOptions{}, harden.WaitLoad, 0, req.WaitTime, func(page *rod.Page) error {
		stream, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: true})
		if err != nil {
			return err
		}
		defer stream.Close()

		pdf, err = io.ReadAll(stream)
		return err
	})
	return pdf, err
}

// captureOptions translates request options into the CDP capture call.
// format is the already-resolved image format, so the optimizeForSpeed
// shorthand (jpeg, quality 50 unless set) has its jpeg half applied by the
// caller.
func captureOptions(opts *types.ScreenshotOptions, format string) *proto.PageCaptureScreenshot {
	capture := &proto.PageCaptureScreenshot{Format: screenshotFormat(format)}
	if opts == nil {
		return capture
	}
	switch {
	case opts.Quality != 0 && format != "png":
		capture.Quality = gson.Int(opts.Quality)
	case opts.OptimizeForSpeed && opts.Quality == 0:
		capture.Quality = gson.Int(speedQuality)
	}
	capture.OptimizeForSpeed = opts.OptimizeForSpeed
	if c := opts.Clip; c != nil {
		capture.Clip = &proto.PageViewport{
			X: c.X, Y: c.Y, Width: c.Width, Height: c.Height, Scale: 1,
		}
	}
	return capture
}

func screenshotFormat(format string) proto.PageCaptureScreenshotFormat {
	switch format {
	case "jpeg":
		return proto.PageCaptureScreenshotFormatJpeg
	case "webp":
		return proto.PageCaptureScreenshotFormatWebp
	default:
		return proto.PageCaptureScreenshotFormatPng
	}
}

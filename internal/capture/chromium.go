package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/chromedp/chromedp"
)

// Default capture parameters for the schedule listing.
const (
	DefaultWidth      = 1280
	DefaultHeight     = 900
	DefaultTimeoutSec = 30
)

// ReadySelector is present once a page has finished server-side rendering.
const ReadySelector = `main[data-ready="true"]`

// CaptureOptions describes one listing snapshot.
type CaptureOptions struct {
	// BaseURL is the schedview root, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// Query narrows the listing like the search box does. Empty captures
	// every event visible to a signed-out viewer.
	Query string

	// OutputPath is where the PNG is written.
	OutputPath string

	// Width and Height are the viewport in pixels; zero selects the
	// defaults.
	Width  int
	Height int

	// Timeout bounds the whole capture; zero selects DefaultTimeoutSec.
	Timeout time.Duration
}

func (o *CaptureOptions) normalize() error {
	if o.BaseURL == "" {
		return errors.New("capture: base URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: output path is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return nil
}

// ListingURL returns the listing page address for the options, carrying
// Query as the q parameter.
func (o CaptureOptions) ListingURL() (string, error) {
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return "", fmt.Errorf("capture: base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("capture: base URL %q is not absolute", o.BaseURL)
	}
	u.Path = "/"
	q := url.Values{}
	if o.Query != "" {
		q.Set("q", o.Query)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CaptureListingPNG opens the listing in headless Chromium, waits for the
// rendered page and writes a full-page PNG to opts.OutputPath.
func CaptureListingPNG(parentCtx context.Context, opts CaptureOptions) error {
	if err := opts.normalize(); err != nil {
		return err
	}
	target, err := opts.ListingURL()
	if err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	if err := chromedp.Run(ctx,
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	); err != nil {
		return fmt.Errorf("capture %s: %w", target, err)
	}

	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: write %s: %w", opts.OutputPath, err)
	}
	return nil
}

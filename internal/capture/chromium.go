// Package capture renders the calendar page in headless Chromium and saves a
// PNG snapshot of it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"taskcal/internal/config"
	appLog "taskcal/internal/log"
)

const (
	DefaultWidth   = 1440
	DefaultHeight  = 900
	DefaultTimeout = 30 * time.Second

	// ReadySelector matches the grid root once events are laid out.
	ReadySelector = `[data-ready="true"]`
)

type Options struct {
	// URL of the page, e.g. "http://127.0.0.1:8080/calendar".
	URL string
	// OutputPath receives the PNG. Empty leaves writing to the caller.
	OutputPath string

	Width   int
	Height  int
	Timeout time.Duration
	// Settle is an extra pause after the page reports ready.
	Settle time.Duration
	// FullPage captures the whole document rather than the viewport.
	FullPage bool
}

func (o *Options) defaults() {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
}

// Snapshot navigates to opts.URL, waits for ReadySelector and returns the PNG
// bytes, writing them to OutputPath when set.
func Snapshot(parent context.Context, opts Options) ([]byte, error) {
	if opts.URL == "" {
		return nil, errors.New("capture: URL is required")
	}
	opts.defaults()

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	var shot chromedp.Action = chromedp.CaptureScreenshot(&png)
	if opts.FullPage {
		shot = chromedp.FullScreenshot(&png, 100)
	}
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.Sleep(opts.Settle),
		shot,
	}

	started := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	appLog.Info("calendar snapshot captured", "url", opts.URL, "bytes", len(png), "elapsed", time.Since(started))

	if opts.OutputPath != "" {
		if err := config.WriteFileAtomic(opts.OutputPath, png, ".taskcal-snapshot-*.tmp"); err != nil {
			return png, fmt.Errorf("capture: failed to write PNG: %w", err)
		}
	}
	return png, nil
}

package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// MinContentLength is the extracted text length below which a page is treated as a
// client-rendered shell.
const MinContentLength = 500

// ShouldUseBrowser reports whether text is too short to be a rendered posting.
func ShouldUseBrowser(text string) bool {
	return len(strings.TrimSpace(text)) < MinContentLength
}

// Renderer returns the HTML of a page after client-side scripts have run.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// ChromeRenderer renders pages in headless Chrome. Chrome must be installed.
type ChromeRenderer struct {
	Timeout time.Duration
	Settle  time.Duration
	logger  *zap.Logger
}

// NewChromeRenderer creates a renderer with a 30s timeout.
func NewChromeRenderer(logger *zap.Logger) *ChromeRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeRenderer{Timeout: 30 * time.Second, Settle: 3 * time.Second, logger: logger}
}

// Render implements Renderer.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	r.logger.Debug("rendering page in browser", zap.String("url", url))

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	browserCtx, cancel = context.WithTimeout(browserCtx, r.Timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(r.Settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser rendering failed: %w", err)
	}

	r.logger.Debug("rendered page", zap.String("url", url), zap.Int("bytes", len(html)))
	return html, nil
}

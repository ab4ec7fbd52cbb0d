package fetch

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// ErrEmptyPage is returned when a page has no extractable text.
var ErrEmptyPage = errors.New("page has no extractable text")

// Page is a fetched job posting.
type Page struct {
	URL      string
	Platform Platform
	Title    string
	Markdown string
	Rendered bool
}

// Posting fetches a job posting and returns its main content as markdown. When the
// client has a renderer and browser use is enabled, thin pages are rendered again in
// a browser; a failed render keeps the HTTP content.
func (c *Client) Posting(ctx context.Context, urlStr string) (*Page, error) {
	platform := DetectPlatform(urlStr)
	content := PlatformContentSelectors(platform)
	noise := PlatformNoiseSelectors(platform)

	result, err := c.Get(ctx, urlStr)
	if err != nil {
		return nil, err
	}
	extracted, err := Extract(result.HTML, content, noise...)
	if err != nil {
		return nil, &Error{URL: urlStr, StatusCode: result.StatusCode, Message: "content extraction failed", Cause: err}
	}

	page := &Page{URL: urlStr, Platform: platform, Title: extracted.Title, Markdown: extracted.Markdown}

	if c.opts.UseBrowser && c.renderer != nil && ShouldUseBrowser(extracted.Text) {
		c.logger.Debug("thin page, falling back to browser",
			zap.String("url", urlStr),
			zap.Int("chars", len(extracted.Text)))
		html, err := c.renderer.Render(ctx, urlStr)
		if err != nil {
			c.logger.Warn("browser rendering failed, using HTTP content", zap.String("url", urlStr), zap.Error(err))
		} else if rendered, err := Extract(html, content, noise...); err == nil && len(rendered.Text) > len(extracted.Text) {
			page.Markdown = rendered.Markdown
			page.Rendered = true
			if rendered.Title != "" {
				page.Title = rendered.Title
			}
		}
	}

	if strings.TrimSpace(page.Markdown) == "" {
		return nil, &Error{URL: urlStr, StatusCode: result.StatusCode, Message: "no content", Cause: ErrEmptyPage}
	}
	return page, nil
}

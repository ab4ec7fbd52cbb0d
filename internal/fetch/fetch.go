// Package fetch downloads job posting pages and converts their main content to markdown.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; IdentityAgent/1.0)"

// MaxBodyBytes caps how much of a response is read.
const MaxBodyBytes = 5 << 20

// Result holds the raw response of a fetch.
type Result struct {
	URL         string
	HTML        string
	ContentType string
	StatusCode  int
}

// Error represents an error during URL fetching.
type Error struct {
	URL        string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Permanent reports whether retrying the request cannot help: malformed URLs and 4xx
// responses other than 408 and 429.
func (e *Error) Permanent() bool {
	if e.StatusCode == 0 {
		return e.Message == "invalid URL"
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Options configures the fetch behavior.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	// UseBrowser enables headless rendering when the HTTP body has too little text.
	UseBrowser bool
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() Options {
	return Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// Client fetches pages over HTTP with an optional browser fallback.
type Client struct {
	http     *http.Client
	opts     Options
	renderer Renderer
	logger   *zap.Logger
}

// New creates a Client. renderer may be nil, which disables the browser fallback.
func New(opts Options, renderer Renderer, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:     &http.Client{Timeout: opts.Timeout},
		opts:     opts,
		renderer: renderer,
		logger:   logger,
	}
}

// Get retrieves the raw body of a URL. Non-200 responses return the result together
// with an *Error.
func (c *Client) Get(ctx context.Context, urlStr string) (*Result, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, &Error{URL: urlStr, Message: "invalid URL", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	for key, value := range c.opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, &Error{URL: urlStr, StatusCode: resp.StatusCode, Message: "failed to read response body", Cause: err}
	}

	result := &Result{
		URL:         urlStr,
		HTML:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}
	if resp.StatusCode != http.StatusOK {
		return result, &Error{
			URL:        urlStr,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
		}
	}
	return result, nil
}

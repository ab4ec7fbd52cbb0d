package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/fetch"
)

// ErrNoContent is returned when neither a URL nor a description yields text.
var ErrNoContent = errors.New("opportunity has no description")

// PageFetcher fetches a posting page.
type PageFetcher interface {
	Posting(ctx context.Context, url string) (*fetch.Page, error)
}

// Enriched is the text the extracting phase works from.
type Enriched struct {
	Text     string `json:"text"`
	Title    string `json:"title,omitempty"`
	Fetched  bool   `json:"fetched"`
	Platform string `json:"platform,omitempty"`
	// Warning is set when the fetch failed and the submitted description was used instead.
	Warning string `json:"warning,omitempty"`
}

// Enricher resolves an opportunity submission to posting text.
type Enricher struct {
	pages  PageFetcher
	logger *zap.Logger
}

// NewEnricher creates an Enricher. pages may be nil when URL fetching is disabled.
func NewEnricher(pages PageFetcher, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{pages: pages, logger: logger}
}

// Enrich returns the posting text for a submission. With a URL the fetched page is the
// primary text and a submitted description is appended. A failed fetch falls back to
// the description when there is one.
func (e *Enricher) Enrich(ctx context.Context, url, description string) (*Enriched, error) {
	description = CleanText(description)
	url = strings.TrimSpace(url)

	if url == "" || e.pages == nil {
		if description == "" {
			return nil, ErrNoContent
		}
		return &Enriched{Text: description}, nil
	}

	page, err := e.pages.Posting(ctx, url)
	if err != nil {
		if description == "" {
			return nil, fmt.Errorf("failed to fetch posting: %w", err)
		}
		e.logger.Warn("posting fetch failed, using submitted description",
			zap.String("url", url), zap.Error(err))
		return &Enriched{Text: description, Warning: "Could not fetch the posting URL; used the submitted description"}, nil
	}

	text := CleanText(page.Markdown)
	if description != "" && !strings.Contains(text, description) {
		text = CleanText(text + "\n\n## Additional notes\n\n" + description)
	}
	return &Enriched{
		Text:     text,
		Title:    page.Title,
		Fetched:  true,
		Platform: string(page.Platform),
	}, nil
}

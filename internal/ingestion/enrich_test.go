package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/identity-pipeline/internal/fetch"
)

type fakePages struct {
	page *fetch.Page
	err  error
	urls []string
}

func (f *fakePages) Posting(_ context.Context, url string) (*fetch.Page, error) {
	f.urls = append(f.urls, url)
	return f.page, f.err
}

func TestEnrich_DescriptionOnly(t *testing.T) {
	pages := &fakePages{}
	out, err := NewEnricher(pages, nil).Enrich(context.Background(), "", "  Go   engineer\r\n")
	require.NoError(t, err)
	assert.Equal(t, "Go engineer", out.Text)
	assert.False(t, out.Fetched)
	assert.Empty(t, pages.urls)
}

func TestEnrich_FetchedWithNotes(t *testing.T) {
	pages := &fakePages{page: &fetch.Page{Title: "Staff Engineer", Markdown: "# Staff Engineer\n\nBuild things.", Platform: fetch.PlatformLever}}
	out, err := NewEnricher(pages, nil).Enrich(context.Background(), " https://jobs.lever.co/acme/1 ", "Referral from Sam")
	require.NoError(t, err)

	assert.True(t, out.Fetched)
	assert.Equal(t, "Staff Engineer", out.Title)
	assert.Equal(t, "lever", out.Platform)
	assert.Equal(t, "# Staff Engineer\n\nBuild things.\n\n## Additional notes\n\nReferral from Sam", out.Text)
	assert.Equal(t, []string{"https://jobs.lever.co/acme/1"}, pages.urls)
}

func TestEnrich_FetchFailure(t *testing.T) {
	boom := errors.New("404")
	pages := &fakePages{err: boom}

	out, err := NewEnricher(pages, nil).Enrich(context.Background(), "https://x.test/job", "Pasted text")
	require.NoError(t, err)
	assert.Equal(t, "Pasted text", out.Text)
	assert.NotEmpty(t, out.Warning)

	_, err = NewEnricher(pages, nil).Enrich(context.Background(), "https://x.test/job", "")
	assert.ErrorIs(t, err, boom)
}

func TestEnrich_NoContent(t *testing.T) {
	_, err := NewEnricher(nil, nil).Enrich(context.Background(), "", "   ")
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = NewEnricher(nil, nil).Enrich(context.Background(), "https://x.test", "")
	assert.ErrorIs(t, err, ErrNoContent)
}

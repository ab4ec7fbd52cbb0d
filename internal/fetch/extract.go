package fetch

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

const baseNoise = "nav, footer, header, script, style, noscript, iframe, svg, .ad, .advertisement, .ads, .sidebar, .cookie-banner, .popup"

// Content is the main content of a page.
type Content struct {
	Title    string
	Markdown string
	Text     string
}

// Extract removes noise, selects the first matching content node and converts it to
// markdown. It falls back to body when no content selector matches, and to plain text
// when conversion fails.
func Extract(html string, contentSelectors []string, noiseSelectors ...string) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := pageTitle(doc)

	doc.Find(baseNoise).Remove()
	if len(noiseSelectors) > 0 {
		doc.Find(strings.Join(noiseSelectors, ", ")).Remove()
	}

	var main *goquery.Selection
	for _, selector := range contentSelectors {
		if selection := doc.Find(selector); selection.Length() > 0 {
			main = selection.First()
			break
		}
	}
	if main == nil {
		main = doc.Find("body")
	}

	text := cleanWhitespace(main.Text())
	out := &Content{Title: title, Text: text, Markdown: text}

	fragment, err := goquery.OuterHtml(main)
	if err != nil {
		return out, nil
	}
	md, err := htmltomarkdown.ConvertString(fragment)
	if err != nil || strings.TrimSpace(md) == "" {
		return out, nil
	}
	out.Markdown = strings.TrimSpace(md)
	return out, nil
}

func pageTitle(doc *goquery.Document) string {
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// JobPostingSelectors returns selectors for generic job board pages.
func JobPostingSelectors() []string {
	return []string{
		".job-description",
		".job-content",
		"#job-description",
		"#job-content",
		".posting-content",
		".job-details",
		"[data-testid='job-description']",
		"main",
		"article",
		".content",
		"#content",
	}
}

func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

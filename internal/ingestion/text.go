// Package ingestion normalizes submitted text and enriches opportunity submissions with
// fetched posting content.
package ingestion

import (
	"regexp"
	"strings"
)

// MaxTextRunes caps stored document and posting text.
const MaxTextRunes = 100_000

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
	// Bullets from PDFs and word processors, normalized to "- ".
	bulletGlyphs = regexp.MustCompile(`^[•·▪◦●‣∙]\s*`)
)

// CleanText normalizes line endings and whitespace while keeping markdown headings,
// bullets and indentation. Output is deterministic and at most MaxTextRunes long.
func CleanText(content string) string {
	if content == "" {
		return ""
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	content = strings.ReplaceAll(content, "\u00a0", " ")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = cleanLine(line)
	}
	result := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	result = strings.TrimSpace(result)

	if r := []rune(result); len(r) > MaxTextRunes {
		result = string(r[:MaxTextRunes])
	}
	return result
}

func cleanLine(line string) string {
	line = strings.TrimRight(line, " \t")
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "#") {
		return spaceRun.ReplaceAllString(trimmed, " ")
	}
	trimmed = bulletGlyphs.ReplaceAllString(trimmed, "- ")
	indent := len(line) - len(strings.TrimLeft(line, " \t"))
	return strings.Repeat(" ", indent) + spaceRun.ReplaceAllString(trimmed, " ")
}

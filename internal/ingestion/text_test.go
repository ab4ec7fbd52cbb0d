package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"only whitespace", "   \n  \n  ", ""},
		{"headings", "#   Title\n## Subtitle\nContent here", "# Title\n## Subtitle\nContent here"},
		{"bullets", "- Item 1\n* Item 2", "- Item 1\n* Item 2"},
		{"bullet glyphs", "• Led team\n·Shipped", "- Led team\n- Shipped"},
		{"spaces", "Line    with \t multiple    spaces", "Line with multiple spaces"},
		{"blank lines", "Line 1\n\n\n\n\nLine 2", "Line 1\n\nLine 2"},
		{"line endings", "Line 1\r\nLine 2\rLine 3", "Line 1\nLine 2\nLine 3"},
		{"indentation", "Top\n    Indented   line", "Top\n    Indented line"},
		{"nbsp", "Go\u00a0\u00a0developer", "Go developer"},
		{"unicode", "émojis 🚀  and spéciàl", "émojis 🚀 and spéciàl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestCleanText_Deterministic(t *testing.T) {
	input := "Test content   with   spaces\n\n\nMultiple   blank   lines"
	assert.Equal(t, CleanText(input), CleanText(CleanText(input)))
}

func TestCleanText_Truncates(t *testing.T) {
	out := CleanText(strings.Repeat("é", MaxTextRunes+10))
	assert.Len(t, []rune(out), MaxTextRunes)
}

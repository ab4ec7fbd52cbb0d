package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "code block with language",
			input:    "```javascript\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "plain JSON",
			input:    `{"key": "value"}`,
			expected: `{"key": "value"}`,
		},
		{
			name:     "preamble before object",
			input:    "As requested, here is the JSON:\n{\"company\": \"Acme\"}",
			expected: `{"company": "Acme"}`,
		},
		{
			name:     "preamble before array",
			input:    "Here are the items:\n[\"item1\", \"item2\"]",
			expected: `["item1", "item2"]`,
		},
		{
			name:     "trailing text",
			input:    "{\"key\": \"value\"}\n\nLet me know if you need anything else!",
			expected: `{"key": "value"}`,
		},
		{
			name:     "braces inside strings",
			input:    `Result: {"template": "Hello {name}!", "q": "say \"hi\" }"}`,
			expected: `{"template": "Hello {name}!", "q": "say \"hi\" }"}`,
		},
		{
			name:     "no json",
			input:    "not json",
			expected: "not json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}

func TestExtractBalanced(t *testing.T) {
	assert.Equal(t, `[[1, 2], [3, 4]]`, extractBalanced(`[[1, 2], [3, 4]] extra`))
	assert.Equal(t, "", extractBalanced(`{"open": true`))
	assert.Equal(t, "", extractBalanced("plain"))
	assert.Equal(t, "", extractBalanced(""))
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Headline string   `json:"headline"`
		Keywords []string `json:"keywords"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"headline\": \"Platform engineer\", \"keywords\": [\"go\"]}\n```", &out))
	assert.Equal(t, "Platform engineer", out.Headline)
	assert.Equal(t, []string{"go"}, out.Keywords)

	assert.Error(t, DecodeJSON("", &out))
	assert.Error(t, DecodeJSON("{not json}", &out))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "hi", Truncate("hi", 10))
	assert.Equal(t, "", Truncate("hi", 0))
}

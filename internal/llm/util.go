package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleanJSONBlock strips markdown fences and conversational text around a JSON object or
// array in a model response.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// drop a language tag on the fence line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			tag := text[:idx]
			if len(tag) < 20 && !strings.ContainsAny(tag, " {[") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	if start > 0 || !json.Valid([]byte(text)) {
		if out := extractBalanced(text[start:]); out != "" {
			return out
		}
	}
	return text
}

// extractBalanced returns the leading JSON object or array of s, honouring strings and
// escapes, or "" when s does not open one or it never closes.
func extractBalanced(s string) string {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// DecodeJSON cleans a model response and unmarshals it into v.
func DecodeJSON(text string, v any) error {
	cleaned := CleanJSONBlock(text)
	if cleaned == "" {
		return fmt.Errorf("empty model response")
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("failed to decode model response: %w", err)
	}
	return nil
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

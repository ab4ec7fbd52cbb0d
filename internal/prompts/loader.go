// Package prompts holds the LLM prompt templates, embedded at compile time as JSON files
// mapping a key to a template with {{.Name}} placeholders.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"
)

//go:embed *.json
var promptFiles embed.FS

var placeholder = regexp.MustCompile(`\{\{\.[A-Za-z]+\}\}`)

var loadAll = sync.OnceValues(func() (map[string]map[string]string, error) {
	entries, err := fs.Glob(promptFiles, "*.json")
	if err != nil {
		return nil, err
	}
	all := make(map[string]map[string]string, len(entries))
	for _, name := range entries {
		data, err := promptFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file %s: %w", name, err)
		}
		var prompts map[string]string
		if err := json.Unmarshal(data, &prompts); err != nil {
			return nil, fmt.Errorf("failed to parse prompt file %s: %w", name, err)
		}
		all[name] = prompts
	}
	return all, nil
})

// Get retrieves a prompt template by filename (e.g. "extraction.json") and key.
func Get(filename, key string) (string, error) {
	all, err := loadAll()
	if err != nil {
		return "", err
	}
	prompts, ok := all[filename]
	if !ok {
		return "", fmt.Errorf("failed to read prompt file %s: not embedded", filename)
	}
	prompt, ok := prompts[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return prompt, nil
}

// MustGet is Get for prompts required at initialization time.
func MustGet(filename, key string) string {
	prompt, err := Get(filename, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return prompt
}

// Format replaces {{.Key}} placeholders with values from data.
func Format(template string, data map[string]string) string {
	pairs := make([]string, 0, 2*len(data))
	for key, value := range data {
		pairs = append(pairs, "{{."+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Render loads a template and fills it. Placeholders left unfilled are an error.
func Render(filename, key string, data map[string]string) (string, error) {
	template, err := Get(filename, key)
	if err != nil {
		return "", err
	}
	if missing := placeholder.FindAllString(template, -1); len(missing) > 0 {
		var unfilled []string
		for _, m := range missing {
			name := strings.TrimSuffix(strings.TrimPrefix(m, "{{."), "}}")
			if _, ok := data[name]; !ok {
				unfilled = append(unfilled, name)
			}
		}
		if len(unfilled) > 0 {
			return "", fmt.Errorf("prompt %s/%s: missing values for %s", filename, key, strings.Join(unfilled, ", "))
		}
	}
	return Format(template, data), nil
}

// List returns the sorted prompt keys in a file.
func List(filename string) ([]string, error) {
	all, err := loadAll()
	if err != nil {
		return nil, err
	}
	prompts, ok := all[filename]
	if !ok {
		return nil, fmt.Errorf("failed to read prompt file %s: not embedded", filename)
	}
	keys := make([]string, 0, len(prompts))
	for key := range prompts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

package evaluation

import (
	"strings"
	"unicode"

	"github.com/jonathan/identity-pipeline/internal/types"
)

const (
	// minContentWords skips short statements such as headlines.
	minContentWords = 4
	// minOverlap is the share of a statement's content words that must appear in claims.
	minOverlap = 0.3
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "into": true, "over": true, "across": true, "their": true, "which": true,
	"while": true, "using": true, "through": true, "within": true, "about": true,
	"was": true, "were": true, "are": true, "has": true, "have": true, "had": true,
	"our": true, "your": true, "who": true, "will": true, "more": true, "than": true,
}

// FindUngrounded returns the statements whose content words mostly do not appear in any
// claim label or description.
func FindUngrounded(statements []string, claims []types.Claim) []string {
	vocab := make(map[string]bool)
	for _, c := range claims {
		for _, w := range contentWords(c.Label + " " + c.Description) {
			vocab[w] = true
		}
	}

	var out []string
	for _, s := range statements {
		words := contentWords(s)
		if len(words) < minContentWords {
			continue
		}
		hits := 0
		for _, w := range words {
			if vocab[w] {
				hits++
			}
		}
		if float64(hits)/float64(len(words)) < minOverlap {
			out = append(out, s)
		}
	}
	return out
}

func contentWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopWords[f] {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

// stem strips a few English suffixes so "build"/"building" and "service"/"services" meet.
func stem(w string) string {
	for _, suffix := range []string{"ing", "ed", "s"} {
		if len(w) > len(suffix)+3 && strings.HasSuffix(w, suffix) {
			return strings.TrimSuffix(w, suffix)
		}
	}
	return w
}

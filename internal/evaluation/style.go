package evaluation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jonathan/identity-pipeline/internal/types"
)

const (
	// maxBulletChars is roughly two printed lines.
	maxBulletChars = 220
	// minQuantifiedShare is the share of bullets expected to carry a number.
	minQuantifiedShare = 0.3
)

// Common strong action verbs for resume bullets
var strongVerbs = map[string]bool{
	"achieved": true, "architected": true, "automated": true, "built": true, "created": true,
	"cut": true, "delivered": true, "designed": true, "developed": true, "drove": true,
	"engineered": true, "established": true, "implemented": true, "improved": true,
	"increased": true, "launched": true, "led": true, "mentored": true, "migrated": true,
	"optimized": true, "owned": true, "reduced": true, "scaled": true, "shipped": true,
	"streamlined": true, "transformed": true, "wrote": true,
}

// fillerPhrases are openers and cliches that weaken a bullet.
var fillerPhrases = []string{
	"responsible for",
	"worked on",
	"helped with",
	"assisted with",
	"involved in",
	"duties included",
	"team player",
	"hard worker",
	"go-getter",
	"synergy",
	"results-driven",
	"detail-oriented",
}

var digitPattern = regexp.MustCompile(`\d`)

// CheckStyle lints the bullets of a tailored resume. The findings are advisory and do
// not affect Passed.
func CheckStyle(resume *types.ResumeData) []string {
	if resume == nil {
		return nil
	}
	var (
		issues     []string
		bullets    int
		quantified int
	)
	for _, section := range resume.Sections {
		for _, bullet := range section.Bullets {
			text := strings.TrimSpace(bullet)
			if text == "" {
				continue
			}
			bullets++
			lower := strings.ToLower(text)

			if phrase := containsFiller(lower); phrase != "" {
				issues = append(issues, fmt.Sprintf("%q uses filler phrase %q", clip(text), phrase))
			} else if !startsWithActionVerb(lower) {
				issues = append(issues, fmt.Sprintf("%q does not open with an action verb", clip(text)))
			}
			if len(text) > maxBulletChars {
				issues = append(issues, fmt.Sprintf("%q is longer than %d characters", clip(text), maxBulletChars))
			}
			if isQuantified(text) {
				quantified++
			}
		}
	}
	if bullets >= 3 && float64(quantified)/float64(bullets) < minQuantifiedShare {
		issues = append(issues, fmt.Sprintf("only %d of %d bullets state a measurable result", quantified, bullets))
	}
	return issues
}

func containsFiller(lower string) string {
	for _, phrase := range fillerPhrases {
		if strings.Contains(lower, phrase) {
			return phrase
		}
	}
	return ""
}

// startsWithActionVerb checks the first word against the verb list, accepting any
// past-tense -ed form as well.
func startsWithActionVerb(lower string) bool {
	words := strings.Fields(lower)
	if len(words) == 0 {
		return false
	}
	first := strings.TrimRight(words[0], ".,!?;:")
	if strongVerbs[first] {
		return true
	}
	return strings.HasSuffix(first, "ed") && len(first) > 3
}

func isQuantified(text string) bool {
	return digitPattern.MatchString(text) || strings.Contains(text, "%")
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= 48 {
		return s
	}
	return string(r[:45]) + "..."
}

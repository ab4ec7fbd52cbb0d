package extraction

import (
	"strings"
	"unicode"

	"github.com/jonathan/identity-pipeline/internal/types"
)

// skillNormalizations maps common skill name variants to canonical names
var skillNormalizations = map[string]string{
	"golang":     "Go",
	"go lang":    "Go",
	"javascript": "JavaScript",
	"js":         "JavaScript",
	"typescript": "TypeScript",
	"ts":         "TypeScript",
	"k8s":        "Kubernetes",
	"kubernetes": "Kubernetes",
	"postgres":   "PostgreSQL",
	"postgresql": "PostgreSQL",
	"react.js":   "React",
	"reactjs":    "React",
	"node.js":    "Node.js",
	"nodejs":     "Node.js",
	"aws":        "AWS",
	"gcp":        "GCP",
}

// NormalizeSkillName maps a skill to its canonical spelling and capitalises single
// lowercase words.
func NormalizeSkillName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	if canonical, ok := skillNormalizations[strings.ToLower(name)]; ok {
		return canonical
	}
	if name == strings.ToLower(name) && !strings.Contains(name, " ") {
		r := []rune(name)
		r[0] = unicode.ToUpper(r[0])
		return string(r)
	}
	return name
}

func cleanSentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimLeft(s, "-*• ")
}

// normalizeItems trims text, drops empties and exact repeats, and canonicalises skills.
func normalizeItems(items []types.EvidenceItem) []types.EvidenceItem {
	out := make([]types.EvidenceItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item.Text = cleanSentence(item.Text)
		if item.Kind == types.KindSkillListed {
			item.Text = NormalizeSkillName(item.Text)
		}
		if item.Text == "" || !item.Kind.Valid() {
			continue
		}
		if item.WorkHistory != nil {
			wh := cleanSentence(*item.WorkHistory)
			if wh == "" {
				item.WorkHistory = nil
			} else {
				item.WorkHistory = &wh
			}
		}
		key := string(item.Kind) + "|" + strings.ToLower(item.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// normalizeRequirements canonicalises skills, defaults the category and drops
// case-insensitive repeats.
func normalizeRequirements(reqs []types.Requirement, seen map[string]bool) []types.Requirement {
	out := make([]types.Requirement, 0, len(reqs))
	for _, r := range reqs {
		r.Text = cleanSentence(r.Text)
		if r.Category == "" {
			r.Category = types.CategorySkill
		}
		if r.Category == types.CategorySkill && len(strings.Fields(r.Text)) <= 3 {
			r.Text = NormalizeSkillName(r.Text)
		}
		if r.Text == "" {
			continue
		}
		key := strings.ToLower(r.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

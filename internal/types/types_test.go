package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimTypeFor(t *testing.T) {
	tests := []struct {
		kind EvidenceKind
		want ClaimType
	}{
		{KindAccomplishment, ClaimAchievement},
		{KindSkillListed, ClaimSkill},
		{KindTraitIndicator, ClaimAttribute},
		{KindEducation, ClaimEducation},
		{KindCertification, ClaimCertification},
		{EvidenceKind("unknown"), ClaimAttribute},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, ClaimTypeFor(tt.kind))
		})
	}
}

func TestEvidenceKind_Valid(t *testing.T) {
	for _, k := range EvidenceKinds() {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, EvidenceKind("hobby").Valid())
}

func TestPosting_Requirements(t *testing.T) {
	p := Posting{
		MustHave:   []Requirement{{Text: "5 years Go", Category: CategoryExperience}},
		NiceToHave: []Requirement{{Text: "Kubernetes", Category: CategorySkill}, {Text: "AWS cert", Category: CategoryCertification}},
	}
	reqs := p.Requirements()
	require.Len(t, reqs, 3)
	assert.Equal(t, MustHave, reqs[0].Priority)
	assert.Equal(t, NiceToHave, reqs[1].Priority)
	assert.Equal(t, "AWS cert", reqs[2].Text)
}

func TestResumeData_Statements(t *testing.T) {
	r := ResumeData{
		Headline: "Backend engineer",
		Sections: []ResumeSection{{Title: "Experience", Bullets: []string{"Built a queue", "Cut latency 40%"}}},
	}
	assert.Equal(t, []string{"Backend engineer", "Built a queue", "Cut latency 40%"}, r.Statements())
}

func TestEvidence_EmbeddingNotSerialized(t *testing.T) {
	e := Evidence{Kind: KindSkillListed, Text: "Go", Embedding: []float32{0.1, 0.2}}
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "embedding")
	assert.Contains(t, string(raw), `"kind":"skill_listed"`)
}

func TestTopClaims(t *testing.T) {
	claims := []Claim{
		{Label: "a", Confidence: 0.5},
		{Label: "b", Confidence: 0.9},
		{Label: "c", Confidence: 0.7},
	}
	top := TopClaims(claims, 2)
	assert.Equal(t, "b", top[0].Label)
	assert.Equal(t, "c", top[1].Label)
	assert.Equal(t, "a", claims[0].Label)
	assert.Len(t, TopClaims(claims, 0), 3)
}

func TestFormatClaims(t *testing.T) {
	out := FormatClaims([]Claim{
		{Label: "Go", Description: "Writes Go", Confidence: 0.6},
		{Label: "Lead", Description: "Leads teams", Confidence: 0.75},
	})
	assert.Equal(t, "- Go: Writes Go (0.60)\n- Lead: Leads teams (0.75)", out)
}

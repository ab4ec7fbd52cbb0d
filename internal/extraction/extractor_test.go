package extraction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// fakeLLM answers by matching a marker that appears in the rendered prompt.
type fakeLLM struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeLLM) GenerateJSON(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for marker, err := range f.errs {
		if strings.Contains(prompt, marker) {
			f.calls = append(f.calls, marker)
			return "", err
		}
	}
	for marker, reply := range f.replies {
		if strings.Contains(prompt, marker) {
			f.calls = append(f.calls, marker)
			return reply, nil
		}
	}
	return `{"items": []}`, nil
}

const (
	accomplishmentsMarker = "extract concrete accomplishments"
	skillsMarker          = "extract listed skills"
	traitsMarker          = "infer working traits"
	storyMarker           = "first-person professional story"
	postingMarker         = "extract their structure"
)

func TestExtractEvidence_ResumeConcatenatesPassesInOrder(t *testing.T) {
	fake := &fakeLLM{replies: map[string]string{
		traitsMarker:          `{"items": [{"kind": "trait_indicator", "text": "Mentorship: onboarded four engineers"}]}`,
		skillsMarker:          "```json\n{\"items\": [{\"kind\": \"skill_listed\", \"text\": \"golang\"}, {\"kind\": \"education\", \"text\": \"BSc Computer Science, MIT\"}]}\n```",
		accomplishmentsMarker: `{"items": [{"kind": "accomplishment", "text": "- Cut deploy time by 40%", "work_history": "SRE at Acme"}]}`,
	}}

	items, err := New(fake, nil).ExtractEvidence(context.Background(), "resume text", types.SourceResume)
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, types.KindAccomplishment, items[0].Kind)
	assert.Equal(t, "Cut deploy time by 40%", items[0].Text)
	require.NotNil(t, items[0].WorkHistory)
	assert.Equal(t, "SRE at Acme", *items[0].WorkHistory)
	assert.Equal(t, types.EvidenceItem{Kind: types.KindSkillListed, Text: "Go"}, items[1])
	assert.Equal(t, types.KindEducation, items[2].Kind)
	assert.Equal(t, types.KindTraitIndicator, items[3].Kind)
	assert.Len(t, fake.calls, 3)
}

func TestExtractEvidence_ResumePassFailureFailsExtraction(t *testing.T) {
	fake := &fakeLLM{
		replies: map[string]string{accomplishmentsMarker: `{"items": []}`},
		errs:    map[string]error{skillsMarker: errors.New("503")},
	}
	_, err := New(fake, nil).ExtractEvidence(context.Background(), "resume text", types.SourceResume)

	var apiErr *APICallError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "resume-skills", apiErr.Pass)
}

func TestExtractEvidence_Story(t *testing.T) {
	fake := &fakeLLM{replies: map[string]string{
		storyMarker: `{"items": [
			{"kind": "accomplishment", "text": "Led the migration to Kubernetes"},
			{"kind": "accomplishment", "text": "led the migration to kubernetes"},
			{"kind": "trait_indicator", "text": "   "}
		]}`,
	}}
	items, err := New(fake, nil).ExtractEvidence(context.Background(), "I led the migration.", types.SourceStory)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Led the migration to Kubernetes", items[0].Text)
	assert.Equal(t, []string{storyMarker}, fake.calls)
}

func TestExtractEvidence_SchemaViolation(t *testing.T) {
	fake := &fakeLLM{replies: map[string]string{
		storyMarker: `{"items": [{"kind": "hobby", "text": "Chess"}]}`,
	}}
	_, err := New(fake, nil).ExtractEvidence(context.Background(), "story", types.SourceStory)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestExtractEvidence_EmptyText(t *testing.T) {
	_, err := New(&fakeLLM{}, nil).ExtractEvidence(context.Background(), " \n", types.SourceStory)
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestExtractPosting(t *testing.T) {
	fake := &fakeLLM{replies: map[string]string{
		postingMarker: `{
			"title": " Senior  SRE ",
			"company": "Acme",
			"must_have": [{"text": "k8s", "category": "skill"}, {"text": "5+ years operating production systems", "category": "experience"}],
			"nice_to_have": [{"text": "Kubernetes"}, {"text": "Terraform", "category": ""}],
			"responsibilities": ["Own the on-call rotation", ""]
		}`,
	}}

	posting, err := New(fake, nil).ExtractPosting(context.Background(), "posting text")
	require.NoError(t, err)
	assert.Equal(t, "Senior SRE", posting.Title)
	assert.Equal(t, "Acme", posting.Company)
	require.Len(t, posting.MustHave, 2)
	assert.Equal(t, "Kubernetes", posting.MustHave[0].Text)
	// duplicate of a must-have is dropped; missing category defaults to skill
	require.Len(t, posting.NiceToHave, 1)
	assert.Equal(t, types.Requirement{Text: "Terraform", Category: types.CategorySkill}, posting.NiceToHave[0])
	assert.Equal(t, []string{"Own the on-call rotation"}, posting.Responsibilities)

	reqs := posting.Requirements()
	assert.Equal(t, types.MustHave, reqs[0].Priority)
	assert.Equal(t, types.NiceToHave, reqs[2].Priority)
}

func TestExtractPosting_ParseFailureReturnsEmptyDefault(t *testing.T) {
	fake := &fakeLLM{replies: map[string]string{postingMarker: "I could not find a job posting here."}}

	posting, err := New(fake, nil).ExtractPosting(context.Background(), "posting text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPostingParse)
	require.NotNil(t, posting)
	assert.Empty(t, posting.Title)
	assert.Empty(t, posting.Requirements())
}

func TestExtractPosting_APIFailureIsFatal(t *testing.T) {
	fake := &fakeLLM{errs: map[string]error{postingMarker: errors.New("timeout")}}
	posting, err := New(fake, nil).ExtractPosting(context.Background(), "posting text")
	require.Error(t, err)
	assert.Nil(t, posting)
	assert.NotErrorIs(t, err, ErrPostingParse)
}

func TestNormalizeSkillName(t *testing.T) {
	tests := map[string]string{
		"golang":           "Go",
		"K8S":              "Kubernetes",
		"terraform":        "Terraform",
		"  Rust  ":         "Rust",
		"machine learning": "machine learning",
		"":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeSkillName(in), in)
	}
}

package jobs

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhases(t *testing.T) {
	tests := []struct {
		jobType JobType
		want    []Phase
	}{
		{TypeResume, []Phase{PhaseValidating, PhaseParsing, PhaseExtracting, PhaseEmbeddings, PhaseSynthesis, PhaseReflection, PhaseEvaluation}},
		{TypeStory, []Phase{PhaseValidating, PhaseExtracting, PhaseEmbeddings, PhaseSynthesis, PhaseReflection, PhaseEvaluation}},
		{TypeOpportunity, []Phase{PhaseValidating, PhaseEnriching, PhaseExtracting, PhaseEmbeddings, PhaseResearching}},
		{TypeTailor, []Phase{PhaseAnalyzing, PhaseGenerating, PhaseEvaluating}},
	}
	for _, tt := range tests {
		t.Run(string(tt.jobType), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.jobType.Phases())
		})
	}
}

func TestPhases_ReturnsCopy(t *testing.T) {
	p := TypeTailor.Phases()
	p[0] = PhaseParsing
	assert.Equal(t, PhaseAnalyzing, TypeTailor.Phases()[0])
}

func TestIsPrefix(t *testing.T) {
	tests := []struct {
		name string
		seen []Phase
		want bool
	}{
		{"empty", nil, true},
		{"full", TypeStory.Phases(), true},
		{"truncated", []Phase{PhaseValidating, PhaseExtracting}, true},
		{"repeated", []Phase{PhaseValidating, PhaseExtracting, PhaseExtracting}, true},
		{"regression", []Phase{PhaseExtracting, PhaseValidating}, false},
		{"foreign", []Phase{PhaseValidating, PhaseParsing}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeStory.IsPrefix(tt.seen))
		})
	}
}

func TestParseJobType(t *testing.T) {
	got, err := ParseJobType(" Story ")
	require.NoError(t, err)
	assert.Equal(t, TypeStory, got)

	_, err = ParseJobType("crawl")
	assert.Error(t, err)
}

func TestMaxAttempts(t *testing.T) {
	assert.Equal(t, 3, TypeResume.MaxAttempts())
	assert.Equal(t, 3, TypeOpportunity.MaxAttempts())
	assert.Equal(t, 2, TypeTailor.MaxAttempts())
}

func TestAppendHighlights(t *testing.T) {
	var current []Highlight
	for i := 0; i < 18; i++ {
		current = append(current, Highlight{Text: fmt.Sprintf("old%d", i), Kind: HighlightFound})
	}
	add := []Highlight{{Text: "a"}, {Text: "b"}, {Text: "c"}, {Text: "d"}}

	got := AppendHighlights(current, add)
	require.Len(t, got, MaxHighlights)
	assert.Equal(t, "old2", got[0].Text)
	assert.Equal(t, "d", got[MaxHighlights-1].Text)
	assert.Len(t, current, 18)
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range TerminalStatuses() {
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestValidate(t *testing.T) {
	hash := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	job, user := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"story ok", StoryEvent{JobID: job, UserID: user, Text: "I led a team", ContentHash: hash}, false},
		{"story bad hash", StoryEvent{JobID: job, UserID: user, Text: "x", ContentHash: "abc"}, true},
		{"story missing user", StoryEvent{JobID: job, Text: "x", ContentHash: hash}, true},
		{"resume ok", ResumeEvent{JobID: job, UserID: user, Filename: "cv.pdf", StorageLocation: "uploads/cv.pdf"}, false},
		{"resume no location", ResumeEvent{JobID: job, UserID: user, Filename: "cv.pdf"}, true},
		{"opportunity url", OpportunityEvent{JobID: job, UserID: user, URL: "https://boards.greenhouse.io/acme/jobs/1"}, false},
		{"opportunity description", OpportunityEvent{JobID: job, UserID: user, Description: "Senior Go engineer"}, false},
		{"opportunity neither", OpportunityEvent{JobID: job, UserID: user}, true},
		{"opportunity bad url", OpportunityEvent{JobID: job, UserID: user, URL: "not a url"}, true},
		{"tailor ok", TailorEvent{JobID: job, UserID: user, OpportunityID: uuid.New()}, false},
		{"tailor no opportunity", TailorEvent{JobID: job, UserID: user}, true},
		{"nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.event)
			if tt.wantErr {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEventRoundTrip(t *testing.T) {
	in := TailorEvent{JobID: uuid.New(), UserID: uuid.New(), OpportunityID: uuid.New(), Regenerate: true}
	raw, err := MarshalEvent(in)
	require.NoError(t, err)

	out, err := UnmarshalEvent(TypeTailor, raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, in.JobID, out.Job())
	assert.Equal(t, in.UserID, out.Owner())

	_, err = UnmarshalEvent("crawl", raw)
	assert.Error(t, err)
}

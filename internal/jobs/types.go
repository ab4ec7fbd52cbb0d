// Package jobs defines the job row, the per-type phase tables and the controller
// that is the only writer of job state.
package jobs

import (
	"fmt"
	"strings"
)

// JobType identifies which pipeline produces a job.
type JobType string

// Job types
const (
	TypeResume      JobType = "resume"
	TypeStory       JobType = "story"
	TypeOpportunity JobType = "opportunity"
	TypeTailor      JobType = "tailor"
)

// Phase is a named step within a job type's ordered sequence.
type Phase string

// Phase constants shared across job types
const (
	PhaseValidating  Phase = "validating"
	PhaseParsing     Phase = "parsing"
	PhaseExtracting  Phase = "extracting"
	PhaseEmbeddings  Phase = "embeddings"
	PhaseSynthesis   Phase = "synthesis"
	PhaseReflection  Phase = "reflection"
	PhaseEvaluation  Phase = "evaluation"
	PhaseEnriching   Phase = "enriching"
	PhaseResearching Phase = "researching"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseGenerating  Phase = "generating"
	PhaseEvaluating  Phase = "evaluating"
)

// Fixed-size arrays so the sequences cannot be appended to at runtime.
var (
	resumePhases = [...]Phase{
		PhaseValidating, PhaseParsing, PhaseExtracting, PhaseEmbeddings,
		PhaseSynthesis, PhaseReflection, PhaseEvaluation,
	}
	storyPhases = [...]Phase{
		PhaseValidating, PhaseExtracting, PhaseEmbeddings,
		PhaseSynthesis, PhaseReflection, PhaseEvaluation,
	}
	opportunityPhases = [...]Phase{
		PhaseValidating, PhaseEnriching, PhaseExtracting, PhaseEmbeddings, PhaseResearching,
	}
	tailorPhases = [...]Phase{
		PhaseAnalyzing, PhaseGenerating, PhaseEvaluating,
	}
)

// AllTypes lists every job type in a stable order.
func AllTypes() []JobType {
	return []JobType{TypeResume, TypeStory, TypeOpportunity, TypeTailor}
}

// ParseJobType converts a string into a JobType.
func ParseJobType(s string) (JobType, error) {
	t := JobType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeResume, TypeStory, TypeOpportunity, TypeTailor:
		return t, nil
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Phases returns a copy of the ordered phase list for the job type.
func (t JobType) Phases() []Phase {
	switch t {
	case TypeResume:
		return append([]Phase(nil), resumePhases[:]...)
	case TypeStory:
		return append([]Phase(nil), storyPhases[:]...)
	case TypeOpportunity:
		return append([]Phase(nil), opportunityPhases[:]...)
	case TypeTailor:
		return append([]Phase(nil), tailorPhases[:]...)
	}
	return nil
}

// PhaseIndex returns the position of p in the type's sequence, or -1.
func (t JobType) PhaseIndex(p Phase) int {
	for i, candidate := range t.Phases() {
		if candidate == p {
			return i
		}
	}
	return -1
}

// HasPhase reports whether p belongs to the type's sequence.
func (t JobType) HasPhase(p Phase) bool {
	return t.PhaseIndex(p) >= 0
}

// MaxAttempts is the step retry budget for the job type.
func (t JobType) MaxAttempts() int {
	if t == TypeTailor {
		return 2
	}
	return 3
}

// IsIngestion reports whether the type feeds the claim set (resume, story).
func (t JobType) IsIngestion() bool {
	return t == TypeResume || t == TypeStory
}

// IsPrefix reports whether seen is an in-order, possibly truncated, walk of the
// type's phase list with no foreign phases.
func (t JobType) IsPrefix(seen []Phase) bool {
	phases := t.Phases()
	last := -1
	for _, p := range seen {
		idx := -1
		for i, candidate := range phases {
			if candidate == p {
				idx = i
				break
			}
		}
		if idx < 0 || idx < last {
			return false
		}
		last = idx
	}
	return true
}

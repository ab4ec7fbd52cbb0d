package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job row.
type Status string

// Job statuses
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDuplicate  Status = "duplicate"
)

// IsTerminal reports whether no further mutation may happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDuplicate
}

// TerminalStatuses lists the statuses that freeze a job row.
func TerminalStatuses() []Status {
	return []Status{StatusCompleted, StatusFailed, StatusDuplicate}
}

// MaxHighlights caps the highlight feed.
const MaxHighlights = 20

// HighlightKind tags a highlight line.
type HighlightKind string

// Highlight kinds
const (
	HighlightFound   HighlightKind = "found"
	HighlightCreated HighlightKind = "created"
	HighlightUpdated HighlightKind = "updated"
)

// Highlight is a short user-facing line surfaced during processing.
type Highlight struct {
	Text string        `json:"text"`
	Kind HighlightKind `json:"kind"`
}

// AppendHighlights appends add to current and keeps the newest MaxHighlights entries.
func AppendHighlights(current, add []Highlight) []Highlight {
	merged := make([]Highlight, 0, len(current)+len(add))
	merged = append(merged, current...)
	merged = append(merged, add...)
	if len(merged) > MaxHighlights {
		merged = merged[len(merged)-MaxHighlights:]
	}
	return merged
}

// Artifact links a completed job to the row it produced.
type Artifact struct {
	DocumentID        *uuid.UUID `json:"document_id,omitempty"`
	OpportunityID     *uuid.UUID `json:"opportunity_id,omitempty"`
	TailoredProfileID *uuid.UUID `json:"tailored_profile_id,omitempty"`
}

// DocumentArtifact links a document.
func DocumentArtifact(id uuid.UUID) Artifact { return Artifact{DocumentID: &id} }

// OpportunityArtifact links an opportunity.
func OpportunityArtifact(id uuid.UUID) Artifact { return Artifact{OpportunityID: &id} }

// TailoredProfileArtifact links a tailored profile.
func TailoredProfileArtifact(id uuid.UUID) Artifact { return Artifact{TailoredProfileID: &id} }

// Job is the durable record of one pipeline run.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	OwnerID     uuid.UUID       `json:"owner_id"`
	Type        JobType         `json:"job_type"`
	Status      Status          `json:"status"`
	Phase       *Phase          `json:"phase,omitempty"`
	Progress    *string         `json:"progress,omitempty"`
	Highlights  []Highlight     `json:"highlights"`
	Warning     *string         `json:"warning,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	ContentHash *string         `json:"content_hash,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Artifact
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IngestionSummary is written on completion of resume and story jobs.
type IngestionSummary struct {
	EvidenceCount  int            `json:"evidenceCount"`
	ClaimsCreated  int            `json:"claimsCreated"`
	ClaimsUpdated  int            `json:"claimsUpdated"`
	EvidenceByKind map[string]int `json:"evidenceByKind,omitempty"`
}

// OpportunitySummary is written on completion of opportunity jobs.
type OpportunitySummary struct {
	Title            string  `json:"title"`
	Company          string  `json:"company"`
	RequirementCount int     `json:"requirementCount"`
	MatchScore       float64 `json:"matchScore"`
}

// TailorSummary is written on completion of tailor jobs.
type TailorSummary struct {
	TalkingPoints    int  `json:"talkingPoints"`
	Evaluated        bool `json:"evaluated"`
	EvaluationPassed bool `json:"evaluationPassed"`
	Hallucinations   int  `json:"hallucinations"`
}

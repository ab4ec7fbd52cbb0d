package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TalkingPoint ties one requirement to the claims that answer it.
type TalkingPoint struct {
	Point       string   `json:"point"`
	Requirement string   `json:"requirement,omitempty"`
	ClaimLabels []string `json:"claim_labels,omitempty"`
}

// ResumeSection is a titled group of bullet lines in tailored resume data.
type ResumeSection struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
}

// ResumeData is the structured tailored resume.
type ResumeData struct {
	Headline string          `json:"headline"`
	Summary  string          `json:"summary"`
	Skills   []string        `json:"skills"`
	Sections []ResumeSection `json:"sections"`
}

// Statements flattens every generated sentence of the resume.
func (r *ResumeData) Statements() []string {
	var out []string
	if r.Headline != "" {
		out = append(out, r.Headline)
	}
	if r.Summary != "" {
		out = append(out, r.Summary)
	}
	for _, s := range r.Sections {
		out = append(out, s.Bullets...)
	}
	return out
}

// TailoredProfile is the per (owner, opportunity) generated artifact.
type TailoredProfile struct {
	ID            uuid.UUID      `json:"id"`
	OwnerID       uuid.UUID      `json:"owner_id"`
	OpportunityID uuid.UUID      `json:"opportunity_id"`
	JobID         *uuid.UUID     `json:"job_id,omitempty"`
	TalkingPoints []TalkingPoint `json:"talking_points"`
	Narrative     string         `json:"narrative"`
	Resume        ResumeData     `json:"resume"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Evaluation is the informational grounding check attached to a tailored profile.
type Evaluation struct {
	ID                  uuid.UUID       `json:"id"`
	TailoredProfileID   uuid.UUID       `json:"tailored_profile_id"`
	Passed              bool            `json:"passed"`
	Hallucinations      []string        `json:"hallucinations"`
	Gaps                []string        `json:"gaps"`
	MissedOpportunities []string        `json:"missed_opportunities"`
	StyleIssues         []string        `json:"style_issues"`
	Telemetry           json.RawMessage `json:"telemetry,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

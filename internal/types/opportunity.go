package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RequirementCategory classifies a posting requirement.
type RequirementCategory string

// Requirement categories
const (
	CategoryEducation     RequirementCategory = "education"
	CategoryCertification RequirementCategory = "certification"
	CategorySkill         RequirementCategory = "skill"
	CategoryExperience    RequirementCategory = "experience"
)

// Priority separates hard from soft requirements.
type Priority string

// Priorities
const (
	MustHave   Priority = "must_have"
	NiceToHave Priority = "nice_to_have"
)

// Requirement is one classified line of a job posting.
type Requirement struct {
	Text      string              `json:"text"`
	Category  RequirementCategory `json:"category"`
	Priority  Priority            `json:"priority"`
	Embedding []float32           `json:"embedding,omitempty"`
}

// Posting is the extraction stage's structured view of a job posting.
type Posting struct {
	Title            string        `json:"title"`
	Company          string        `json:"company"`
	MustHave         []Requirement `json:"must_have"`
	NiceToHave       []Requirement `json:"nice_to_have"`
	Responsibilities []string      `json:"responsibilities"`
}

// Requirements returns must-have then nice-to-have requirements with priorities set.
func (p *Posting) Requirements() []Requirement {
	out := make([]Requirement, 0, len(p.MustHave)+len(p.NiceToHave))
	for _, r := range p.MustHave {
		r.Priority = MustHave
		out = append(out, r)
	}
	for _, r := range p.NiceToHave {
		r.Priority = NiceToHave
		out = append(out, r)
	}
	return out
}

// Opportunity is a stored job posting.
type Opportunity struct {
	ID               uuid.UUID       `json:"id"`
	OwnerID          uuid.UUID       `json:"owner_id"`
	JobID            *uuid.UUID      `json:"job_id,omitempty"`
	URL              *string         `json:"url,omitempty"`
	ContentHash      string          `json:"content_hash"`
	Title            string          `json:"title"`
	Company          string          `json:"company"`
	Description      string          `json:"description"`
	Requirements     []Requirement   `json:"requirements"`
	Responsibilities []string        `json:"responsibilities"`
	CompanyResearch  json.RawMessage `json:"company_research,omitempty"`
	MatchScore       json.RawMessage `json:"match_score,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// OpportunityInput describes an opportunity to create.
type OpportunityInput struct {
	OwnerID     uuid.UUID
	JobID       uuid.UUID
	URL         *string
	ContentHash string
	Description string
}

// CompanyResearch is the researching phase's view of the hiring company.
type CompanyResearch struct {
	Company       string   `json:"company"`
	Mission       string   `json:"mission"`
	Products      []string `json:"products"`
	Culture       []string `json:"culture"`
	RecentSignals []string `json:"recent_signals"`
}

// RequirementMatch scores one requirement against the owner's claims.
type RequirementMatch struct {
	Requirement string   `json:"requirement"`
	Priority    Priority `json:"priority"`
	ClaimLabel  string   `json:"claim_label,omitempty"`
	Similarity  float64  `json:"similarity"`
	Matched     bool     `json:"matched"`
}

// MatchScore summarizes requirement coverage.
type MatchScore struct {
	Overall            float64            `json:"overall"`
	MustHaveCoverage   float64            `json:"must_have_coverage"`
	NiceToHaveCoverage float64            `json:"nice_to_have_coverage"`
	Requirements       []RequirementMatch `json:"requirements"`
}

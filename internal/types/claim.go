package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClaimType classifies a synthesized identity attribute.
type ClaimType string

// Claim types
const (
	ClaimAchievement   ClaimType = "achievement"
	ClaimSkill         ClaimType = "skill"
	ClaimAttribute     ClaimType = "attribute"
	ClaimEducation     ClaimType = "education"
	ClaimCertification ClaimType = "certification"
)

// ClaimTypeFor maps an evidence kind to the claim type it supports.
func ClaimTypeFor(kind EvidenceKind) ClaimType {
	switch kind {
	case KindAccomplishment:
		return ClaimAchievement
	case KindSkillListed:
		return ClaimSkill
	case KindTraitIndicator:
		return ClaimAttribute
	case KindEducation:
		return ClaimEducation
	case KindCertification:
		return ClaimCertification
	}
	return ClaimAttribute
}

// Strength grades how well one evidence row supports a claim.
type Strength string

// Strength values
const (
	StrengthStrong Strength = "strong"
	StrengthMedium Strength = "medium"
	StrengthWeak   Strength = "weak"
)

// Claim is a synthesized identity attribute.
type Claim struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Type        ClaimType `json:"type"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScoredClaim is a claim returned from a similarity search.
type ScoredClaim struct {
	Claim
	Similarity float64 `json:"similarity"`
}

// ClaimEvidence links a claim to a supporting evidence row.
type ClaimEvidence struct {
	ClaimID    uuid.UUID `json:"claim_id"`
	EvidenceID uuid.UUID `json:"evidence_id"`
	Strength   Strength  `json:"strength"`
}

// IdentitySummary is the owner-level aggregate produced by reflection.
type IdentitySummary struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	Headline  string    `json:"headline"`
	Bio       string    `json:"bio"`
	Archetype string    `json:"archetype"`
	Keywords  []string  `json:"keywords"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TopClaims returns up to limit claims, highest confidence first. limit <= 0 keeps all.
func TopClaims(claims []Claim, limit int) []Claim {
	out := make([]Claim, len(claims))
	copy(out, claims)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FormatClaims renders claims one per line for prompts.
func FormatClaims(claims []Claim) string {
	var b strings.Builder
	for _, c := range claims {
		fmt.Fprintf(&b, "- %s: %s (%.2f)\n", c.Label, c.Description, c.Confidence)
	}
	return strings.TrimRight(b.String(), "\n")
}

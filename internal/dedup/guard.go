package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/identity-pipeline/internal/types"
)

// Kind names the submission being checked.
type Kind string

// Submission kinds
const (
	KindResume      Kind = "resume"
	KindStory       Kind = "story"
	KindOpportunity Kind = "opportunity"
)

// Lookup finds prior records by owner and fingerprint. Both methods return nil, nil when absent.
type Lookup interface {
	FindDocumentByHash(ctx context.Context, ownerID uuid.UUID, hash string) (*types.Document, error)
	FindOpportunityByHash(ctx context.Context, ownerID uuid.UUID, hash string) (*types.Opportunity, error)
}

// Prior describes the earlier submission that makes a new one a duplicate.
type Prior struct {
	Kind      Kind
	ID        uuid.UUID
	Label     string
	CreatedAt time.Time
}

// Message is the user-facing sentence written to the job's error field.
func (p *Prior) Message() string {
	date := p.CreatedAt.Format("Jan 2, 2006")
	switch p.Kind {
	case KindResume:
		if p.Label != "" {
			return fmt.Sprintf("Duplicate resume: %q was already uploaded on %s", p.Label, date)
		}
		return fmt.Sprintf("Duplicate resume: this resume was already uploaded on %s", date)
	case KindStory:
		return fmt.Sprintf("Duplicate story: you already submitted this story on %s", date)
	case KindOpportunity:
		if p.Label != "" {
			return fmt.Sprintf("Duplicate opportunity: %q was already added on %s", p.Label, date)
		}
		return fmt.Sprintf("Duplicate opportunity: this posting was already added on %s", date)
	}
	return fmt.Sprintf("Duplicate submission from %s", date)
}

// Guard checks fingerprints against prior records for the same owner.
type Guard struct {
	lookup Lookup
}

// NewGuard creates a guard over lookup.
func NewGuard(lookup Lookup) *Guard {
	return &Guard{lookup: lookup}
}

// Check returns the prior submission matching fingerprint, or nil when the
// submission is new. Records created by the checking job itself and failed
// documents do not count, so a retried step never flags its own work.
func (g *Guard) Check(ctx context.Context, ownerID uuid.UUID, kind Kind, fingerprint string, jobID uuid.UUID) (*Prior, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("empty fingerprint")
	}

	switch kind {
	case KindResume, KindStory:
		doc, err := g.lookup.FindDocumentByHash(ctx, ownerID, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("failed to look up document: %w", err)
		}
		if doc == nil || doc.Status == types.DocumentFailed || ownedBy(doc.JobID, jobID) {
			return nil, nil
		}
		prior := &Prior{Kind: kind, ID: doc.ID, CreatedAt: doc.CreatedAt}
		if doc.Filename != nil {
			prior.Label = *doc.Filename
		}
		return prior, nil

	case KindOpportunity:
		opp, err := g.lookup.FindOpportunityByHash(ctx, ownerID, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("failed to look up opportunity: %w", err)
		}
		if opp == nil || ownedBy(opp.JobID, jobID) {
			return nil, nil
		}
		prior := &Prior{Kind: kind, ID: opp.ID, CreatedAt: opp.CreatedAt}
		switch {
		case opp.Title != "" && opp.Company != "":
			prior.Label = opp.Title + " at " + opp.Company
		case opp.Title != "":
			prior.Label = opp.Title
		}
		return prior, nil
	}
	return nil, fmt.Errorf("unknown dedup kind %q", kind)
}

func ownedBy(recordJob *uuid.UUID, jobID uuid.UUID) bool {
	return recordJob != nil && jobID != uuid.Nil && *recordJob == jobID
}

package memstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/identity-pipeline/internal/types"
)

// CreateOpportunity inserts an opportunity, returning the job's own row on retry.
func (s *Store) CreateOpportunity(_ context.Context, in types.OpportunityInput) (*types.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.opportunityByHash(in.OwnerID, in.ContentHash); existing != nil {
		if existing.JobID == nil || *existing.JobID != in.JobID {
			return nil, types.ErrOpportunityExists
		}
		return cloneOpportunity(existing), nil
	}

	now := s.now()
	jobID := in.JobID
	opp := &types.Opportunity{
		ID:               uuid.New(),
		OwnerID:          in.OwnerID,
		JobID:            &jobID,
		URL:              cloneString(in.URL),
		ContentHash:      in.ContentHash,
		Description:      in.Description,
		Requirements:     []types.Requirement{},
		Responsibilities: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.opportunities[opp.ID] = opp
	return cloneOpportunity(opp), nil
}

func (s *Store) opportunityByHash(ownerID uuid.UUID, hash string) *types.Opportunity {
	for _, opp := range s.opportunities {
		if opp.OwnerID == ownerID && opp.ContentHash == hash {
			return opp
		}
	}
	return nil
}

// GetOpportunity returns nil when the opportunity does not exist.
func (s *Store) GetOpportunity(_ context.Context, id uuid.UUID) (*types.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp, ok := s.opportunities[id]
	if !ok {
		return nil, nil
	}
	return cloneOpportunity(opp), nil
}

// FindOpportunityByHash implements dedup.Lookup.
func (s *Store) FindOpportunityByHash(_ context.Context, ownerID uuid.UUID, hash string) (*types.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp := s.opportunityByHash(ownerID, hash)
	if opp == nil {
		return nil, nil
	}
	return cloneOpportunity(opp), nil
}

// UpdateOpportunityPosting stores the extracted posting fields.
func (s *Store) UpdateOpportunityPosting(_ context.Context, id uuid.UUID, description string, posting *types.Posting) error {
	return s.updateOpportunity(id, func(opp *types.Opportunity) error {
		opp.Title = posting.Title
		opp.Company = posting.Company
		opp.Description = description
		opp.Requirements = cloneRequirements(posting.Requirements())
		opp.Responsibilities = append([]string{}, posting.Responsibilities...)
		return nil
	})
}

// UpdateOpportunityRequirements replaces the requirements.
func (s *Store) UpdateOpportunityRequirements(_ context.Context, id uuid.UUID, reqs []types.Requirement) error {
	return s.updateOpportunity(id, func(opp *types.Opportunity) error {
		opp.Requirements = cloneRequirements(reqs)
		return nil
	})
}

// SetOpportunityResearch stores company research and the match score. Nil values keep
// what is already stored.
func (s *Store) SetOpportunityResearch(_ context.Context, id uuid.UUID, research *types.CompanyResearch, score *types.MatchScore) error {
	return s.updateOpportunity(id, func(opp *types.Opportunity) error {
		if research != nil {
			raw, err := json.Marshal(research)
			if err != nil {
				return fmt.Errorf("failed to marshal research: %w", err)
			}
			opp.CompanyResearch = raw
		}
		if score != nil {
			raw, err := json.Marshal(score)
			if err != nil {
				return fmt.Errorf("failed to marshal match score: %w", err)
			}
			opp.MatchScore = raw
		}
		return nil
	})
}

// DeleteOpportunity removes an opportunity and its tailored profiles.
func (s *Store) DeleteOpportunity(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.opportunities, id)
	for pid, p := range s.tailored {
		if p.OpportunityID == id {
			delete(s.tailored, pid)
			delete(s.evaluations, pid)
		}
	}
	return nil
}

func (s *Store) updateOpportunity(id uuid.UUID, fn func(opp *types.Opportunity) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp, ok := s.opportunities[id]
	if !ok {
		return fmt.Errorf("opportunity not found: %s", id)
	}
	if err := fn(opp); err != nil {
		return err
	}
	opp.UpdatedAt = s.now()
	return nil
}

func cloneOpportunity(o *types.Opportunity) *types.Opportunity {
	out := *o
	out.Requirements = cloneRequirements(o.Requirements)
	out.Responsibilities = append([]string{}, o.Responsibilities...)
	out.CompanyResearch = append(json.RawMessage(nil), o.CompanyResearch...)
	out.MatchScore = append(json.RawMessage(nil), o.MatchScore...)
	if len(out.CompanyResearch) == 0 {
		out.CompanyResearch = nil
	}
	if len(out.MatchScore) == 0 {
		out.MatchScore = nil
	}
	return &out
}

func cloneRequirements(reqs []types.Requirement) []types.Requirement {
	out := make([]types.Requirement, len(reqs))
	for i, r := range reqs {
		r.Embedding = append([]float32(nil), r.Embedding...)
		out[i] = r
	}
	return out
}

package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jonathan/identity-pipeline/internal/embedding"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// CreateDocument follows the Postgres rules: a retry from the same job returns its own row,
// a failed document is reclaimed with its evidence discarded, anything else is a conflict.
func (s *Store) CreateDocument(_ context.Context, in types.DocumentInput) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.documentByHash(in.OwnerID, in.ContentHash)
	switch {
	case existing == nil:
		now := s.now()
		jobID := in.JobID
		doc := &types.Document{
			ID:              uuid.New(),
			OwnerID:         in.OwnerID,
			JobID:           &jobID,
			Source:          in.Source,
			Filename:        cloneString(in.Filename),
			StorageLocation: cloneString(in.StorageLocation),
			ContentHash:     in.ContentHash,
			RawText:         in.RawText,
			Status:          types.DocumentProcessing,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		s.documents[doc.ID] = doc
		out := *doc
		return &out, nil

	case existing.JobID != nil && *existing.JobID == in.JobID:
		out := *existing
		return &out, nil

	case existing.Status == types.DocumentFailed:
		for id, ev := range s.evidence {
			if ev.DocumentID == existing.ID {
				delete(s.evidence, id)
				delete(s.links, id)
			}
		}
		now := s.now()
		jobID := in.JobID
		existing.JobID = &jobID
		existing.Source = in.Source
		existing.Filename = cloneString(in.Filename)
		existing.StorageLocation = cloneString(in.StorageLocation)
		existing.RawText = in.RawText
		existing.Status = types.DocumentProcessing
		existing.Error = nil
		existing.CreatedAt = now
		existing.UpdatedAt = now
		out := *existing
		return &out, nil
	}
	return nil, types.ErrDocumentExists
}

func (s *Store) documentByHash(ownerID uuid.UUID, hash string) *types.Document {
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID && doc.ContentHash == hash {
			return doc
		}
	}
	return nil
}

// GetDocument returns nil when the document does not exist.
func (s *Store) GetDocument(_ context.Context, id uuid.UUID) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	out := *doc
	return &out, nil
}

// FindDocumentByHash implements dedup.Lookup.
func (s *Store) FindDocumentByHash(_ context.Context, ownerID uuid.UUID, hash string) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.documentByHash(ownerID, hash)
	if doc == nil {
		return nil, nil
	}
	out := *doc
	return &out, nil
}

// SetDocumentStatus updates a document's status and error text.
func (s *Store) SetDocumentStatus(_ context.Context, id uuid.UUID, status types.DocumentStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.Status = status
	doc.Error = cloneString(errMsg)
	doc.UpdatedAt = s.now()
	return nil
}

// InsertEvidence stores items with ordinals 0..n-1, skipping ordinals that already exist.
func (s *Store) InsertEvidence(_ context.Context, doc *types.Document, items []types.EvidenceItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[int]bool)
	for _, ev := range s.evidence {
		if ev.DocumentID == doc.ID {
			existing[ev.Ordinal] = true
		}
	}

	inserted := 0
	for i, item := range items {
		if existing[i] {
			continue
		}
		ev := &types.Evidence{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			OwnerID:     doc.OwnerID,
			Kind:        item.Kind,
			Text:        item.Text,
			WorkHistory: cloneString(item.WorkHistory),
			Source:      doc.Source,
			Ordinal:     i,
			CreatedAt:   s.now(),
		}
		s.evidence[ev.ID] = ev
		inserted++
	}
	return inserted, nil
}

// ListEvidence returns a document's evidence in ordinal order.
func (s *Store) ListEvidence(_ context.Context, documentID uuid.UUID) ([]types.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Evidence
	for _, ev := range s.evidence {
		if ev.DocumentID == documentID {
			cp := *ev
			cp.Embedding = append([]float32(nil), ev.Embedding...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

// SetEvidenceEmbeddings writes one vector per evidence id.
func (s *Store) SetEvidenceEmbeddings(_ context.Context, ids []uuid.UUID, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("embedding count %d does not match evidence count %d", len(vectors), len(ids))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		ev, ok := s.evidence[id]
		if !ok {
			return fmt.Errorf("evidence not found: %s", id)
		}
		ev.Embedding = append([]float32(nil), vectors[i]...)
	}
	return nil
}

// ListClaims returns the owner's claims, highest confidence first.
func (s *Store) ListClaims(_ context.Context, ownerID uuid.UUID) ([]types.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerClaims(ownerID), nil
}

func (s *Store) ownerClaims(ownerID uuid.UUID) []types.Claim {
	var out []types.Claim
	for _, c := range s.claims {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SimilarClaims implements synthesis.ClaimStore.
func (s *Store) SimilarClaims(_ context.Context, ownerID uuid.UUID, vector []float32, threshold float64, limit int) ([]types.ScoredClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return embedding.RankClaims(s.ownerClaims(ownerID), vector, threshold, limit), nil
}

// CreateClaim implements synthesis.ClaimStore.
func (s *Store) CreateClaim(_ context.Context, c *types.Claim) (*types.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := *c
	out.ID = uuid.New()
	out.Embedding = append([]float32(nil), c.Embedding...)
	out.CreatedAt = now
	out.UpdatedAt = now
	stored := out
	s.claims[out.ID] = &stored
	return &out, nil
}

// UpdateClaim implements synthesis.ClaimStore.
func (s *Store) UpdateClaim(_ context.Context, id uuid.UUID, description string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return fmt.Errorf("claim not found: %s", id)
	}
	c.Description = description
	c.Confidence = confidence
	c.UpdatedAt = s.now()
	return nil
}

// LinkEvidence implements synthesis.ClaimStore.
func (s *Store) LinkEvidence(_ context.Context, claimID, evidenceID uuid.UUID, strength types.Strength) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byClaim, ok := s.links[evidenceID]
	if !ok {
		byClaim = make(map[uuid.UUID]types.Strength)
		s.links[evidenceID] = byClaim
	}
	if _, linked := byClaim[claimID]; linked {
		return false, nil
	}
	byClaim[claimID] = strength
	return true, nil
}

// EvidenceLinked implements synthesis.ClaimStore.
func (s *Store) EvidenceLinked(_ context.Context, evidenceID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links[evidenceID]) > 0, nil
}

// ClaimEvidence returns the evidence rows linked to a claim.
func (s *Store) ClaimEvidence(claimID uuid.UUID) []types.ClaimEvidence {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.ClaimEvidence
	for evidenceID, byClaim := range s.links {
		if strength, ok := byClaim[claimID]; ok {
			out = append(out, types.ClaimEvidence{ClaimID: claimID, EvidenceID: evidenceID, Strength: strength})
		}
	}
	return out
}

// GetIdentitySummary returns nil when reflection has not run for the owner.
func (s *Store) GetIdentitySummary(_ context.Context, ownerID uuid.UUID) (*types.IdentitySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[ownerID]
	if !ok {
		return nil, nil
	}
	out := *sum
	return &out, nil
}

// UpsertIdentitySummary implements reflection.Store.
func (s *Store) UpsertIdentitySummary(_ context.Context, sum *types.IdentitySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *sum
	out.Keywords = append([]string{}, sum.Keywords...)
	out.UpdatedAt = s.now()
	s.summaries[sum.OwnerID] = &out
	return nil
}

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/identity-pipeline/internal/types"
)

// ErrOpportunityExists is returned when another job already created the (owner, content_hash) opportunity.
var ErrOpportunityExists = types.ErrOpportunityExists

const opportunityColumns = `id, owner_id, job_id, url, content_hash, title, company, description,
	requirements, responsibilities, company_research, match_score, created_at, updated_at`

// CreateOpportunity inserts an opportunity, returning the job's own row on retry
func (db *DB) CreateOpportunity(ctx context.Context, in types.OpportunityInput) (*types.Opportunity, error) {
	opp, err := scanOpportunity(db.pool.QueryRow(ctx,
		`INSERT INTO opportunities (owner_id, job_id, url, content_hash, description)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id, content_hash) DO NOTHING
		 RETURNING `+opportunityColumns,
		in.OwnerID, in.JobID, in.URL, in.ContentHash, in.Description,
	))
	if err == nil {
		return opp, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to create opportunity: %w", err)
	}

	existing, err := db.FindOpportunityByHash(ctx, in.OwnerID, in.ContentHash)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.JobID == nil || *existing.JobID != in.JobID {
		return nil, ErrOpportunityExists
	}
	return existing, nil
}

// GetOpportunity retrieves an opportunity by ID
func (db *DB) GetOpportunity(ctx context.Context, id uuid.UUID) (*types.Opportunity, error) {
	opp, err := scanOpportunity(db.pool.QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}
	return opp, nil
}

// FindOpportunityByHash retrieves the owner's opportunity with the given content hash
func (db *DB) FindOpportunityByHash(ctx context.Context, ownerID uuid.UUID, hash string) (*types.Opportunity, error) {
	opp, err := scanOpportunity(db.pool.QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE owner_id = $1 AND content_hash = $2`,
		ownerID, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find opportunity: %w", err)
	}
	return opp, nil
}

// UpdateOpportunityPosting stores the extracted posting fields
func (db *DB) UpdateOpportunityPosting(ctx context.Context, id uuid.UUID, description string, posting *types.Posting) error {
	reqJSON, err := json.Marshal(nonNilRequirements(posting.Requirements()))
	if err != nil {
		return fmt.Errorf("failed to marshal requirements: %w", err)
	}
	respJSON, err := json.Marshal(nonNilStrings(posting.Responsibilities))
	if err != nil {
		return fmt.Errorf("failed to marshal responsibilities: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE opportunities
		 SET title = $2, company = $3, description = $4, requirements = $5, responsibilities = $6,
		     updated_at = NOW()
		 WHERE id = $1`,
		id, posting.Title, posting.Company, description, reqJSON, respJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update opportunity posting: %w", err)
	}
	return nil
}

// UpdateOpportunityRequirements replaces the requirements, typically once embeddings are attached
func (db *DB) UpdateOpportunityRequirements(ctx context.Context, id uuid.UUID, reqs []types.Requirement) error {
	reqJSON, err := json.Marshal(nonNilRequirements(reqs))
	if err != nil {
		return fmt.Errorf("failed to marshal requirements: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`UPDATE opportunities SET requirements = $2, updated_at = NOW() WHERE id = $1`,
		id, reqJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update requirements: %w", err)
	}
	return nil
}

// SetOpportunityResearch stores company research and the match score
func (db *DB) SetOpportunityResearch(ctx context.Context, id uuid.UUID, research *types.CompanyResearch, score *types.MatchScore) error {
	var researchJSON, scoreJSON []byte
	var err error
	if research != nil {
		if researchJSON, err = json.Marshal(research); err != nil {
			return fmt.Errorf("failed to marshal research: %w", err)
		}
	}
	if score != nil {
		if scoreJSON, err = json.Marshal(score); err != nil {
			return fmt.Errorf("failed to marshal match score: %w", err)
		}
	}
	_, err = db.pool.Exec(ctx,
		`UPDATE opportunities
		 SET company_research = COALESCE($2, company_research), match_score = COALESCE($3, match_score),
		     updated_at = NOW()
		 WHERE id = $1`,
		id, researchJSON, scoreJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to set opportunity research: %w", err)
	}
	return nil
}

// DeleteOpportunity removes an opportunity and its tailored profiles (via cascade)
func (db *DB) DeleteOpportunity(ctx context.Context, id uuid.UUID) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM opportunities WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete opportunity: %w", err)
	}
	return nil
}

func scanOpportunity(row pgx.Row) (*types.Opportunity, error) {
	var (
		opp      types.Opportunity
		reqs     []byte
		resp     []byte
		research []byte
		score    []byte
	)
	err := row.Scan(&opp.ID, &opp.OwnerID, &opp.JobID, &opp.URL, &opp.ContentHash, &opp.Title, &opp.Company,
		&opp.Description, &reqs, &resp, &research, &score, &opp.CreatedAt, &opp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(reqs) > 0 {
		if err := json.Unmarshal(reqs, &opp.Requirements); err != nil {
			return nil, fmt.Errorf("failed to decode requirements: %w", err)
		}
	}
	if len(resp) > 0 {
		if err := json.Unmarshal(resp, &opp.Responsibilities); err != nil {
			return nil, fmt.Errorf("failed to decode responsibilities: %w", err)
		}
	}
	if len(research) > 0 {
		opp.CompanyResearch = research
	}
	if len(score) > 0 {
		opp.MatchScore = score
	}
	return &opp, nil
}

func nonNilRequirements(reqs []types.Requirement) []types.Requirement {
	if reqs == nil {
		return []types.Requirement{}
	}
	return reqs
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

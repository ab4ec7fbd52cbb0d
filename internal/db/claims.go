package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/identity-pipeline/internal/embedding"
	"github.com/jonathan/identity-pipeline/internal/types"
)

const claimColumns = `id, owner_id, type, label, description, confidence, embedding, created_at, updated_at`

// ListClaims returns all of an owner's claims, highest confidence first
func (db *DB) ListClaims(ctx context.Context, ownerID uuid.UUID) ([]types.Claim, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE owner_id = $1 ORDER BY confidence DESC, created_at`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var out []types.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SimilarClaims ranks the owner's embedded claims by cosine similarity to vector and keeps
// those at or above threshold.
func (db *DB) SimilarClaims(ctx context.Context, ownerID uuid.UUID, vector []float32, threshold float64, limit int) ([]types.ScoredClaim, error) {
	claims, err := db.ListClaims(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return embedding.RankClaims(claims, vector, threshold, limit), nil
}

// CreateClaim inserts a new claim
func (db *DB) CreateClaim(ctx context.Context, c *types.Claim) (*types.Claim, error) {
	out, err := scanClaim(db.pool.QueryRow(ctx,
		`INSERT INTO claims (owner_id, type, label, description, confidence, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+claimColumns,
		c.OwnerID, string(c.Type), c.Label, c.Description, c.Confidence, c.Embedding,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create claim: %w", err)
	}
	return out, nil
}

// UpdateClaim rewrites a claim's description and confidence
func (db *DB) UpdateClaim(ctx context.Context, id uuid.UUID, description string, confidence float64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE claims SET description = $2, confidence = $3, updated_at = NOW() WHERE id = $1`,
		id, description, confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim not found: %s", id)
	}
	return nil
}

// LinkEvidence joins evidence to a claim. It reports false when the link already existed.
func (db *DB) LinkEvidence(ctx context.Context, claimID, evidenceID uuid.UUID, strength types.Strength) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO claim_evidence (claim_id, evidence_id, strength)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (claim_id, evidence_id) DO NOTHING`,
		claimID, evidenceID, string(strength),
	)
	if err != nil {
		return false, fmt.Errorf("failed to link evidence: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// EvidenceLinked reports whether any claim already cites the evidence row
func (db *DB) EvidenceLinked(ctx context.Context, evidenceID uuid.UUID) (bool, error) {
	var linked bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM claim_evidence WHERE evidence_id = $1)`, evidenceID,
	).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("failed to check evidence link: %w", err)
	}
	return linked, nil
}

// GetIdentitySummary returns the owner's identity summary, or nil
func (db *DB) GetIdentitySummary(ctx context.Context, ownerID uuid.UUID) (*types.IdentitySummary, error) {
	var s types.IdentitySummary
	err := db.pool.QueryRow(ctx,
		`SELECT owner_id, headline, bio, archetype, keywords, updated_at
		 FROM identity_summaries WHERE owner_id = $1`, ownerID,
	).Scan(&s.OwnerID, &s.Headline, &s.Bio, &s.Archetype, &s.Keywords, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get identity summary: %w", err)
	}
	return &s, nil
}

// UpsertIdentitySummary replaces the owner's identity summary
func (db *DB) UpsertIdentitySummary(ctx context.Context, s *types.IdentitySummary) error {
	keywords := s.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO identity_summaries (owner_id, headline, bio, archetype, keywords, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (owner_id) DO UPDATE
		 SET headline = EXCLUDED.headline, bio = EXCLUDED.bio, archetype = EXCLUDED.archetype,
		     keywords = EXCLUDED.keywords, updated_at = NOW()`,
		s.OwnerID, s.Headline, s.Bio, s.Archetype, keywords,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert identity summary: %w", err)
	}
	return nil
}

func scanClaim(row pgx.Row) (*types.Claim, error) {
	var (
		c         types.Claim
		claimType string
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &claimType, &c.Label, &c.Description, &c.Confidence,
		&c.Embedding, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Type = types.ClaimType(claimType)
	return &c, nil
}

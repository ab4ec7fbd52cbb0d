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

const tailoredColumns = `id, owner_id, opportunity_id, job_id, talking_points, narrative, resume, created_at`

// GetTailoredProfile returns the owner's artifact for an opportunity, or nil
func (db *DB) GetTailoredProfile(ctx context.Context, ownerID, opportunityID uuid.UUID) (*types.TailoredProfile, error) {
	p, err := scanTailored(db.pool.QueryRow(ctx,
		`SELECT `+tailoredColumns+` FROM tailored_profiles WHERE owner_id = $1 AND opportunity_id = $2`,
		ownerID, opportunityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tailored profile: %w", err)
	}
	return p, nil
}

// GetTailoredProfileByID retrieves a tailored profile by ID
func (db *DB) GetTailoredProfileByID(ctx context.Context, id uuid.UUID) (*types.TailoredProfile, error) {
	p, err := scanTailored(db.pool.QueryRow(ctx,
		`SELECT `+tailoredColumns+` FROM tailored_profiles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tailored profile: %w", err)
	}
	return p, nil
}

// DeleteTailoredProfile removes the owner's artifact (and its evaluation) for an opportunity
func (db *DB) DeleteTailoredProfile(ctx context.Context, ownerID, opportunityID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM tailored_profiles WHERE owner_id = $1 AND opportunity_id = $2`,
		ownerID, opportunityID)
	if err != nil {
		return fmt.Errorf("failed to delete tailored profile: %w", err)
	}
	return nil
}

// CreateTailoredProfile inserts the artifact. If one already exists for (owner, opportunity)
// the existing row is returned unchanged.
func (db *DB) CreateTailoredProfile(ctx context.Context, p *types.TailoredProfile) (*types.TailoredProfile, error) {
	points, err := json.Marshal(p.TalkingPoints)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal talking points: %w", err)
	}
	resume, err := json.Marshal(p.Resume)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resume: %w", err)
	}

	out, err := scanTailored(db.pool.QueryRow(ctx,
		`INSERT INTO tailored_profiles (owner_id, opportunity_id, job_id, talking_points, narrative, resume)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (owner_id, opportunity_id) DO NOTHING
		 RETURNING `+tailoredColumns,
		p.OwnerID, p.OpportunityID, p.JobID, points, p.Narrative, resume,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to create tailored profile: %w", err)
	}
	return db.GetTailoredProfile(ctx, p.OwnerID, p.OpportunityID)
}

// SaveEvaluation stores the grounding check for a tailored profile once
func (db *DB) SaveEvaluation(ctx context.Context, e *types.Evaluation) error {
	hall, _ := json.Marshal(nonNilStrings(e.Hallucinations))
	gaps, _ := json.Marshal(nonNilStrings(e.Gaps))
	missed, _ := json.Marshal(nonNilStrings(e.MissedOpportunities))
	style, _ := json.Marshal(nonNilStrings(e.StyleIssues))
	var telemetry []byte
	if len(e.Telemetry) > 0 {
		telemetry = e.Telemetry
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO evaluations (tailored_profile_id, passed, hallucinations, gaps, missed_opportunities, style_issues, telemetry)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tailored_profile_id) DO NOTHING`,
		e.TailoredProfileID, e.Passed, hall, gaps, missed, style, telemetry,
	)
	if err != nil {
		return fmt.Errorf("failed to save evaluation: %w", err)
	}
	return nil
}

// GetEvaluation returns the evaluation for a tailored profile, or nil
func (db *DB) GetEvaluation(ctx context.Context, tailoredProfileID uuid.UUID) (*types.Evaluation, error) {
	var (
		e                         types.Evaluation
		hall, gaps, missed, style []byte
		telemetry                 []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, tailored_profile_id, passed, hallucinations, gaps, missed_opportunities, style_issues, telemetry, created_at
		 FROM evaluations WHERE tailored_profile_id = $1`, tailoredProfileID,
	).Scan(&e.ID, &e.TailoredProfileID, &e.Passed, &hall, &gaps, &missed, &style, &telemetry, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}
	_ = json.Unmarshal(hall, &e.Hallucinations)
	_ = json.Unmarshal(gaps, &e.Gaps)
	_ = json.Unmarshal(missed, &e.MissedOpportunities)
	_ = json.Unmarshal(style, &e.StyleIssues)
	if len(telemetry) > 0 {
		e.Telemetry = telemetry
	}
	return &e, nil
}

// IncrementUsage bumps (owner, metric, period) once per job. It reports false when the
// job was already counted.
func (db *DB) IncrementUsage(ctx context.Context, ownerID uuid.UUID, metric, period string, jobID uuid.UUID) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO usage_events (job_id, metric, owner_id, period)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_id, metric) DO NOTHING`,
		jobID, metric, ownerID, period,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record usage event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO usage_counters (owner_id, metric, period, count)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (owner_id, metric, period) DO UPDATE
		 SET count = usage_counters.count + 1, updated_at = NOW()`,
		ownerID, metric, period,
	)
	if err != nil {
		return false, fmt.Errorf("failed to increment usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit usage: %w", err)
	}
	return true, nil
}

// GetUsage returns the counter value for (owner, metric, period)
func (db *DB) GetUsage(ctx context.Context, ownerID uuid.UUID, metric, period string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT count FROM usage_counters WHERE owner_id = $1 AND metric = $2 AND period = $3`,
		ownerID, metric, period,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return count, nil
}

func scanTailored(row pgx.Row) (*types.TailoredProfile, error) {
	var (
		p      types.TailoredProfile
		points []byte
		resume []byte
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.OpportunityID, &p.JobID, &points, &p.Narrative, &resume, &p.CreatedAt); err != nil {
		return nil, err
	}
	if len(points) > 0 {
		if err := json.Unmarshal(points, &p.TalkingPoints); err != nil {
			return nil, fmt.Errorf("failed to decode talking points: %w", err)
		}
	}
	if len(resume) > 0 {
		if err := json.Unmarshal(resume, &p.Resume); err != nil {
			return nil, fmt.Errorf("failed to decode resume: %w", err)
		}
	}
	return &p, nil
}

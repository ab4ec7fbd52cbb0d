package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
)

// RecordStep upserts the journal row for (job, step). An in-progress record starts a new
// attempt; completed and failed records close it.
func (db *DB) RecordStep(ctx context.Context, rec steps.Record) error {
	var (
		phase       *string
		completedAt *time.Time
		durationMs  *int
		errMsg      *string
	)
	if rec.Phase != "" {
		p := string(rec.Phase)
		phase = &p
	}
	if rec.Status != steps.StatusInProgress {
		now := time.Now()
		ms := int(rec.Duration.Milliseconds())
		completedAt, durationMs = &now, &ms
	}
	if rec.Error != "" {
		errMsg = &rec.Error
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO run_steps (job_id, step, phase, status, attempts, started_at, completed_at, duration_ms, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (job_id, step) DO UPDATE
		 SET status = EXCLUDED.status,
		     attempts = GREATEST(run_steps.attempts, EXCLUDED.attempts),
		     started_at = EXCLUDED.started_at,
		     completed_at = EXCLUDED.completed_at,
		     duration_ms = EXCLUDED.duration_ms,
		     error_message = EXCLUDED.error_message,
		     updated_at = NOW()`,
		rec.JobID, rec.Step, phase, string(rec.Status), rec.Attempt, rec.StartedAt, completedAt, durationMs, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to record step %s: %w", rec.Step, err)
	}
	return nil
}

// ListRunSteps retrieves all steps for a job, optionally filtered by status
func (db *DB) ListRunSteps(ctx context.Context, jobID uuid.UUID, status *string) ([]steps.RunStep, error) {
	query := `SELECT id, job_id, step, phase, status, attempts, started_at, completed_at,
	                 duration_ms, error_message, created_at, updated_at
	          FROM run_steps
	          WHERE job_id = $1`
	args := []any{jobID}
	if status != nil {
		query += " AND status = $2"
		args = append(args, *status)
	}
	query += " ORDER BY created_at"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	var out []steps.RunStep
	for rows.Next() {
		var s steps.RunStep
		if err := rows.Scan(&s.ID, &s.JobID, &s.Step, &s.Phase, &s.Status, &s.Attempts,
			&s.StartedAt, &s.CompletedAt, &s.DurationMs, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetCheckpoint returns the stored output of a completed step
func (db *DB) GetCheckpoint(ctx context.Context, jobID uuid.UUID, step string) ([]byte, bool, error) {
	var output []byte
	err := db.pool.QueryRow(ctx,
		`SELECT output FROM run_checkpoints WHERE job_id = $1 AND step = $2`,
		jobID, step,
	).Scan(&output)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return output, true, nil
}

// SaveCheckpoint stores a step's output. The first write wins.
func (db *DB) SaveCheckpoint(ctx context.Context, jobID uuid.UUID, step string, output []byte) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO run_checkpoints (job_id, step, output)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (job_id, step) DO NOTHING`,
		jobID, step, output,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// DeleteCheckpoints removes all checkpoints for a job
func (db *DB) DeleteCheckpoints(ctx context.Context, jobID uuid.UUID) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM run_checkpoints WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

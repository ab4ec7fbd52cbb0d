package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/identity-pipeline/internal/jobs"
)

const jobColumns = `id, owner_id, job_type, status, phase, progress, highlights, warning, error,
	summary, content_hash, input, document_id, opportunity_id, tailored_profile_id,
	created_at, started_at, completed_at`

// CreateJob inserts a pending job row
func (db *DB) CreateJob(ctx context.Context, in jobs.CreateInput) (*jobs.Job, error) {
	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var input []byte
	if len(in.Input) > 0 {
		input = in.Input
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, owner_id, job_type, status, content_hash, input)
		 VALUES ($1, $2, $3, 'pending', $4, $5)
		 RETURNING `+jobColumns,
		id, in.OwnerID, string(in.Type), in.ContentHash, input,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a job by ID
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs retrieves jobs with optional filters, newest first
func (db *DB) ListJobs(ctx context.Context, filter jobs.ListFilter) ([]jobs.Job, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	argNum := 1

	if filter.OwnerID != nil {
		query += fmt.Sprintf(" AND owner_id = $%d", argNum)
		args = append(args, *filter.OwnerID)
		argNum++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argNum)
		args = append(args, string(filter.Type))
		argNum++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filter.Status))
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, filter.Limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// SetJobPhase moves a job into processing at the given phase
func (db *DB) SetJobPhase(ctx context.Context, id uuid.UUID, phase jobs.Phase, progress *string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = 'processing', phase = $2, progress = $3,
		     started_at = COALESCE(started_at, NOW())
		 WHERE id = $1 AND status NOT IN `+terminalStatuses,
		id, string(phase), progress,
	)
	if err != nil {
		return fmt.Errorf("failed to set job phase: %w", err)
	}
	return db.guardTerminal(ctx, id, tag.RowsAffected())
}

// SetJobProgress updates the within-phase progress string
func (db *DB) SetJobProgress(ctx context.Context, id uuid.UUID, progress string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET progress = $2 WHERE id = $1 AND status NOT IN `+terminalStatuses,
		id, progress,
	)
	if err != nil {
		return fmt.Errorf("failed to set job progress: %w", err)
	}
	return db.guardTerminal(ctx, id, tag.RowsAffected())
}

// AppendJobHighlights appends highlights in one statement and keeps the newest keep entries.
// The concatenation and the trim both happen server side, so concurrent appenders cannot
// overwrite each other.
func (db *DB) AppendJobHighlights(ctx context.Context, id uuid.UUID, add []jobs.Highlight, keep int) error {
	if len(add) == 0 {
		return nil
	}
	payload, err := json.Marshal(add)
	if err != nil {
		return fmt.Errorf("failed to marshal highlights: %w", err)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs
		 SET highlights = (
		     SELECT COALESCE(jsonb_agg(h.value ORDER BY h.ord), '[]'::jsonb)
		     FROM jsonb_array_elements(jobs.highlights || $2::jsonb) WITH ORDINALITY AS h(value, ord)
		     WHERE h.ord > jsonb_array_length(jobs.highlights || $2::jsonb) - $3
		 )
		 WHERE id = $1 AND status NOT IN `+terminalStatuses,
		id, payload, keep,
	)
	if err != nil {
		return fmt.Errorf("failed to append highlights: %w", err)
	}
	return db.guardTerminal(ctx, id, tag.RowsAffected())
}

// SetJobWarning records a non-fatal caveat
func (db *DB) SetJobWarning(ctx context.Context, id uuid.UUID, warning string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET warning = $2 WHERE id = $1 AND status NOT IN `+terminalStatuses,
		id, warning,
	)
	if err != nil {
		return fmt.Errorf("failed to set job warning: %w", err)
	}
	return db.guardTerminal(ctx, id, tag.RowsAffected())
}

// FinishJob writes a failed or duplicate terminal state
func (db *DB) FinishJob(ctx context.Context, id uuid.UUID, status jobs.Status, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error = $3, completed_at = NOW()
		 WHERE id = $1 AND status NOT IN `+terminalStatuses,
		id, string(status), errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return db.guardTerminal(ctx, id, tag.RowsAffected())
}

// CompleteJob writes the completed state with summary and artifact linkage
func (db *DB) CompleteJob(ctx context.Context, id uuid.UUID, summary []byte, artifact jobs.Artifact) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = 'completed', summary = $2, completed_at = NOW(),
		     document_id = COALESCE($3, document_id),
		     opportunity_id = COALESCE($4, opportunity_id),
		     tailored_profile_id = COALESCE($5, tailored_profile_id)
		 WHERE id = $1 AND status NOT IN `+terminalStatuses,
		id, summary, artifact.DocumentID, artifact.OpportunityID, artifact.TailoredProfileID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return db.guardTerminal(ctx, id, tag.RowsAffected())
}

// ClaimPendingJobs marks up to limit unclaimed pending jobs as claimed. Claims older than
// reclaimBefore are taken over. Concurrent workers skip each other's rows.
func (db *DB) ClaimPendingJobs(ctx context.Context, limit int, reclaimBefore time.Time) ([]jobs.Job, error) {
	rows, err := db.pool.Query(ctx,
		`UPDATE jobs SET claimed_at = NOW()
		 WHERE id IN (
		     SELECT id FROM jobs
		     WHERE status = 'pending' AND (claimed_at IS NULL OR claimed_at < $2)
		     ORDER BY created_at
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		limit, reclaimBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ReleaseJob puts an interrupted job back in the pending queue
func (db *DB) ReleaseJob(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', claimed_at = NULL
		 WHERE id = $1 AND status NOT IN `+terminalStatuses,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return db.guardTerminal(ctx, id, tag.RowsAffected())
}

// ListStaleJobs returns processing jobs that started before cutoff
func (db *DB) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]jobs.Job, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'processing' AND started_at < $1
		 ORDER BY started_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// guardTerminal turns a zero-row update into ErrJobNotFound or ErrJobTerminal.
func (db *DB) guardTerminal(ctx context.Context, id uuid.UUID, affected int64) error {
	if affected > 0 {
		return nil
	}
	var status string
	err := db.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobs.ErrJobNotFound
		}
		return fmt.Errorf("failed to read job status: %w", err)
	}
	return fmt.Errorf("%w: %s", jobs.ErrJobTerminal, status)
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var (
		job        jobs.Job
		jobType    string
		status     string
		phase      *string
		highlights []byte
		summary    []byte
		input      []byte
	)
	err := row.Scan(&job.ID, &job.OwnerID, &jobType, &status, &phase, &job.Progress, &highlights,
		&job.Warning, &job.Error, &summary, &job.ContentHash, &input,
		&job.DocumentID, &job.OpportunityID, &job.TailoredProfileID,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}

	job.Type = jobs.JobType(jobType)
	job.Status = jobs.Status(status)
	if phase != nil {
		p := jobs.Phase(*phase)
		job.Phase = &p
	}
	job.Highlights = []jobs.Highlight{}
	if len(highlights) > 0 {
		if err := json.Unmarshal(highlights, &job.Highlights); err != nil {
			return nil, fmt.Errorf("failed to decode highlights: %w", err)
		}
	}
	if len(summary) > 0 {
		job.Summary = summary
	}
	if len(input) > 0 {
		job.Input = input
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]jobs.Job, error) {
	var out []jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return out, nil
}

package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound is returned when a job id has no row.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when a write targets a completed, failed or duplicate job.
	ErrJobTerminal = errors.New("job is in a terminal state")
)

// CreateInput describes a new pending job.
type CreateInput struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Type        JobType
	ContentHash *string
	Input       []byte
}

// ListFilter narrows ListJobs.
type ListFilter struct {
	OwnerID *uuid.UUID
	Type    JobType
	Status  Status
	Limit   int
}

// Store persists job rows. Every mutating method must refuse terminal rows
// and report that with ErrJobTerminal.
type Store interface {
	CreateJob(ctx context.Context, in CreateInput) (*Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]Job, error)

	// SetJobPhase sets status=processing, phase, progress and started_at if unset.
	SetJobPhase(ctx context.Context, id uuid.UUID, phase Phase, progress *string) error
	SetJobProgress(ctx context.Context, id uuid.UUID, progress string) error
	// AppendJobHighlights appends in a single statement and keeps the newest keep entries.
	AppendJobHighlights(ctx context.Context, id uuid.UUID, add []Highlight, keep int) error
	SetJobWarning(ctx context.Context, id uuid.UUID, warning string) error
	// FinishJob writes a terminal status with error text.
	FinishJob(ctx context.Context, id uuid.UUID, status Status, errMsg string) error
	CompleteJob(ctx context.Context, id uuid.UUID, summary []byte, artifact Artifact) error

	// ClaimPendingJobs marks up to limit pending jobs as claimed and returns them. A job
	// counts as unclaimed when it has no claim or its claim is older than reclaimBefore,
	// which recovers jobs whose worker died before the first phase.
	ClaimPendingJobs(ctx context.Context, limit int, reclaimBefore time.Time) ([]Job, error)
	// ReleaseJob returns a non-terminal job to pending and drops its claim, keeping phase
	// and highlights so the next run resumes from its checkpoints.
	ReleaseJob(ctx context.Context, id uuid.UUID) error
	// ListStaleJobs returns processing jobs started before cutoff.
	ListStaleJobs(ctx context.Context, cutoff time.Time) ([]Job, error)
}

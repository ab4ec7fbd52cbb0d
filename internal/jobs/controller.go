package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrPhaseNotInSequence is returned when a phase does not belong to the job's type.
	ErrPhaseNotInSequence = errors.New("phase not in job type sequence")
	// ErrPhaseRegression is returned when a phase precedes the job's current phase.
	ErrPhaseRegression = errors.New("phase precedes current phase")
)

// Registry hands out controllers and serialises all writes for one job id
// through a single lock, so read-modify-write paths cannot interleave.
type Registry struct {
	store  Store
	logger *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates a controller registry over store.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		logger: logger,
		locks:  make(map[uuid.UUID]*jobLock),
	}
}

// Store returns the underlying job store.
func (r *Registry) Store() Store {
	return r.store
}

// Controller returns the writer for one job. The job row must exist.
func (r *Registry) Controller(ctx context.Context, jobID uuid.UUID) (*Controller, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	current := -1
	if job.Phase != nil {
		current = job.Type.PhaseIndex(*job.Phase)
	}
	return &Controller{
		registry: r,
		jobID:    job.ID,
		jobType:  job.Type,
		current:  current,
		logger:   r.logger.With(zap.String("job_id", job.ID.String()), zap.String("job_type", string(job.Type))),
	}, nil
}

func (r *Registry) withLock(id uuid.UUID, fn func() error) error {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &jobLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	err := fn()
	l.mu.Unlock()

	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, id)
	}
	r.mu.Unlock()
	return err
}

// Controller exposes the atomic-intent operations for a single job.
type Controller struct {
	registry *Registry
	jobID    uuid.UUID
	jobType  JobType
	current  int
	logger   *zap.Logger
}

// JobID returns the job this controller writes.
func (c *Controller) JobID() uuid.UUID { return c.jobID }

// Type returns the job type.
func (c *Controller) Type() JobType { return c.jobType }

// SetPhase moves the job to phase and marks it processing.
func (c *Controller) SetPhase(ctx context.Context, phase Phase, progress *string) error {
	idx := c.jobType.PhaseIndex(phase)
	if idx < 0 {
		return fmt.Errorf("%w: %s is not a %s phase", ErrPhaseNotInSequence, phase, c.jobType)
	}
	return c.registry.withLock(c.jobID, func() error {
		if idx < c.current {
			return fmt.Errorf("%w: %s after %s", ErrPhaseRegression, phase, c.jobType.Phases()[c.current])
		}
		if err := c.registry.store.SetJobPhase(ctx, c.jobID, phase, progress); err != nil {
			return fmt.Errorf("failed to set phase %s: %w", phase, err)
		}
		c.current = idx
		c.logger.Info("phase", zap.String("phase", string(phase)))
		return nil
	})
}

// UpdateProgress sets the within-phase progress string.
func (c *Controller) UpdateProgress(ctx context.Context, text string) error {
	return c.registry.withLock(c.jobID, func() error {
		if err := c.registry.store.SetJobProgress(ctx, c.jobID, text); err != nil {
			return fmt.Errorf("failed to update progress: %w", err)
		}
		return nil
	})
}

// AddHighlight appends one highlight.
func (c *Controller) AddHighlight(ctx context.Context, text string, kind HighlightKind) error {
	return c.AddHighlights(ctx, []Highlight{{Text: text, Kind: kind}})
}

// AddHighlights appends highlights, keeping the newest MaxHighlights.
func (c *Controller) AddHighlights(ctx context.Context, list []Highlight) error {
	if len(list) == 0 {
		return nil
	}
	return c.registry.withLock(c.jobID, func() error {
		if err := c.registry.store.AppendJobHighlights(ctx, c.jobID, list, MaxHighlights); err != nil {
			return fmt.Errorf("failed to add highlights: %w", err)
		}
		return nil
	})
}

// SetWarning records a non-fatal caveat without changing status.
func (c *Controller) SetWarning(ctx context.Context, text string) error {
	return c.registry.withLock(c.jobID, func() error {
		if err := c.registry.store.SetJobWarning(ctx, c.jobID, text); err != nil {
			return fmt.Errorf("failed to set warning: %w", err)
		}
		c.logger.Warn("job warning", zap.String("warning", text))
		return nil
	})
}

// Fail marks the job failed with an actionable message.
func (c *Controller) Fail(ctx context.Context, text string) error {
	return c.finish(ctx, StatusFailed, text)
}

// MarkDuplicate ends the job with the duplicate status.
func (c *Controller) MarkDuplicate(ctx context.Context, text string) error {
	return c.finish(ctx, StatusDuplicate, text)
}

func (c *Controller) finish(ctx context.Context, status Status, text string) error {
	return c.registry.withLock(c.jobID, func() error {
		if err := c.registry.store.FinishJob(ctx, c.jobID, status, text); err != nil {
			return fmt.Errorf("failed to mark job %s: %w", status, err)
		}
		c.logger.Info("job finished", zap.String("status", string(status)), zap.String("error", text))
		return nil
	})
}

// Complete marks the job completed with its summary and artifact linkage.
func (c *Controller) Complete(ctx context.Context, summary any, artifact Artifact) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return c.registry.withLock(c.jobID, func() error {
		if err := c.registry.store.CompleteJob(ctx, c.jobID, raw, artifact); err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}
		c.logger.Info("job completed")
		return nil
	})
}

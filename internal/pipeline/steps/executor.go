package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/jobs"
)

// Status is the state of a recorded step attempt
type Status string

// Step statuses
const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Checkpointer persists the JSON output of completed steps, keyed by (job, step).
type Checkpointer interface {
	// GetCheckpoint reports found=false when the step has not completed.
	GetCheckpoint(ctx context.Context, jobID uuid.UUID, step string) (output []byte, found bool, err error)
	SaveCheckpoint(ctx context.Context, jobID uuid.UUID, step string, output []byte) error
}

// Record describes one step attempt for the run_steps journal.
type Record struct {
	JobID     uuid.UUID
	Step      string
	Phase     jobs.Phase
	Status    Status
	Attempt   int
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}

// RunStep is the journal row for one step of a job.
type RunStep struct {
	ID           uuid.UUID  `json:"id"`
	JobID        uuid.UUID  `json:"job_id"`
	Step         string     `json:"step"`
	Phase        *string    `json:"phase,omitempty"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   *int       `json:"duration_ms,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Journal records step attempts. It is observability only: journal errors never fail a step.
type Journal interface {
	RecordStep(ctx context.Context, rec Record) error
}

// Workflow is one pipeline run handed to the executor.
type Workflow struct {
	JobID   uuid.UUID
	JobType jobs.JobType
	Steps   *Registry
	// Body runs the stage sequence. It is re-invoked on retry; completed steps replay
	// from their checkpoints.
	Body func(ctx context.Context, run *Run) error
	// OnFailure performs the terminal write once retries are exhausted.
	OnFailure func(ctx context.Context, err error)
	// Cleanup runs exactly once on every exit path, after OnFailure.
	Cleanup func(ctx context.Context)
}

// Executor runs workflows with at-least-once, step-granular retry.
type Executor struct {
	checkpoints Checkpointer
	journal     Journal
	logger      *zap.Logger
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithBackoff sets the exponential retry delay bounds.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(e *Executor) {
		e.baseDelay = base
		e.maxDelay = maxDelay
	}
}

// WithMaxAttempts overrides the per-type attempt budget.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) { e.maxAttempts = n }
}

// NewExecutor creates an executor. journal may be nil.
func NewExecutor(checkpoints Checkpointer, journal Journal, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		checkpoints: checkpoints,
		journal:     journal,
		logger:      logger,
		baseDelay:   2 * time.Second,
		maxDelay:    30 * time.Second,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs wf.Body until it succeeds, fails permanently, or one step exhausts the job
// type's attempt budget. Each step has its own budget; failures outside any step share
// one. Exhaustion and permanent failure call wf.OnFailure, except when the job row is
// already terminal or the caller's context was cancelled. A cancelled run returns
// ErrInterrupted and leaves the job to be resumed from its checkpoints.
func (e *Executor) Execute(ctx context.Context, wf Workflow) error {
	if wf.Body == nil {
		return fmt.Errorf("workflow body is required")
	}
	logger := e.logger.With(zap.String("job_id", wf.JobID.String()), zap.String("job_type", string(wf.JobType)))

	scope := &Scope{}
	if wf.Cleanup != nil {
		scope.Defer(wf.Cleanup)
	}
	defer scope.Close(context.WithoutCancel(ctx))

	attempts := wf.JobType.MaxAttempts()
	if e.maxAttempts > 0 {
		attempts = e.maxAttempts
	}

	// every step may use its whole budget, plus the budget for failures between steps
	maxInvocations := attempts
	if wf.Steps != nil {
		maxInvocations = attempts * (len(wf.Steps.Steps()) + 1)
	}

	var err error
	failures := make(map[string]int)
	for invocation := 1; ; invocation++ {
		run := &Run{
			exec:      e,
			wf:        &wf,
			attempt:   invocation,
			scope:     scope,
			logger:    logger,
			completed: make(map[string]bool),
			failures:  failures,
		}
		err = e.invoke(ctx, wf.Body, run)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || errors.Is(err, jobs.ErrJobTerminal) || ctx.Err() != nil {
			break
		}

		failures[run.failedStep]++
		failed := failures[run.failedStep]
		if failed >= attempts || invocation >= maxInvocations {
			break
		}

		delay := e.backoff(failed)
		logger.Warn("step failed, retrying",
			zap.String("step", run.failedStep),
			zap.Int("attempt", failed),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := e.sleep(ctx, delay); serr != nil {
			err = errors.Join(err, serr)
			break
		}
	}

	if errors.Is(err, jobs.ErrJobTerminal) {
		logger.Info("job already terminal, stopping", zap.Error(err))
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("run interrupted, leaving job resumable", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	logger.Error("workflow failed", zap.Error(err))
	if wf.OnFailure != nil {
		wf.OnFailure(context.WithoutCancel(ctx), err)
	}
	return err
}

func (e *Executor) invoke(ctx context.Context, body func(context.Context, *Run) error, run *Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in workflow: %v", r)
		}
	}()
	return body(ctx, run)
}

func (e *Executor) backoff(attempt int) time.Duration {
	d := e.baseDelay << (attempt - 1)
	if d <= 0 || d > e.maxDelay {
		d = e.maxDelay
	}
	return d
}

func (e *Executor) record(ctx context.Context, rec Record) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordStep(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("failed to record step", zap.String("step", rec.Step), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run is the per-attempt handle passed to a workflow body.
type Run struct {
	exec      *Executor
	wf        *Workflow
	attempt   int
	scope     *Scope
	logger    *zap.Logger
	completed map[string]bool

	// failures counts failed attempts per step across invocations; the key "" holds
	// failures outside any step.
	failures   map[string]int
	failedStep string
}

// JobID returns the job being executed.
func (r *Run) JobID() uuid.UUID { return r.wf.JobID }

// Attempt returns the 1-based invocation number of the body.
func (r *Run) Attempt() int { return r.attempt }

// stepAttempt is the 1-based attempt number of the named step.
func (r *Run) stepAttempt(name string) int { return r.failures[name] + 1 }

func (r *Run) fail(name string, err error) error {
	r.failedStep = name
	return err
}

// Scope returns the workflow's cleanup scope.
func (r *Run) Scope() *Scope { return r.scope }

// Logger returns the job-scoped logger.
func (r *Run) Logger() *zap.Logger { return r.logger }

// Do runs a step with no output.
func (r *Run) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	_, err := Step(ctx, r, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Step runs fn once per job: if a checkpoint for name exists its stored output is
// decoded and returned without calling fn.
func Step[T any](ctx context.Context, r *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	def, ok := r.wf.Steps.Lookup(name)
	if !ok {
		return out, Permanent(fmt.Errorf("unknown step: %s", name))
	}

	raw, found, err := r.exec.checkpoints.GetCheckpoint(ctx, r.wf.JobID, name)
	if err != nil {
		return out, r.fail(name, fmt.Errorf("failed to read checkpoint %s: %w", name, err))
	}
	if found {
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &out); err != nil {
				return out, fmt.Errorf("failed to decode checkpoint %s: %w", name, err)
			}
		}
		r.completed[name] = true
		r.failedStep = ""
		r.logger.Debug("step replayed from checkpoint", zap.String("step", name))
		return out, nil
	}

	if err := r.wf.Steps.ValidateDependencies(name, r.completed); err != nil {
		return out, Permanent(err)
	}

	attempt := r.stepAttempt(name)
	start := time.Now()
	r.exec.record(ctx, Record{JobID: r.wf.JobID, Step: name, Phase: def.Phase, Status: StatusInProgress, Attempt: attempt, StartedAt: start})

	out, err = fn(ctx)
	if err != nil {
		r.exec.record(ctx, Record{JobID: r.wf.JobID, Step: name, Phase: def.Phase, Status: StatusFailed,
			Attempt: attempt, StartedAt: start, Duration: time.Since(start), Error: err.Error()})
		return out, r.fail(name, err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return out, Permanent(fmt.Errorf("failed to encode step %s output: %w", name, err))
	}
	if err := r.exec.checkpoints.SaveCheckpoint(ctx, r.wf.JobID, name, data); err != nil {
		return out, r.fail(name, fmt.Errorf("failed to save checkpoint %s: %w", name, err))
	}
	r.completed[name] = true
	r.failedStep = ""
	r.exec.record(ctx, Record{JobID: r.wf.JobID, Step: name, Phase: def.Phase, Status: StatusCompleted,
		Attempt: attempt, StartedAt: start, Duration: time.Since(start)})
	r.logger.Debug("step completed", zap.String("step", name), zap.Duration("duration", time.Since(start)))
	return out, nil
}

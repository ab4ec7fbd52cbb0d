// Package dispatch runs pending jobs on a bounded worker pool and fails jobs that
// overran their invocation budget.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/identity-pipeline/internal/jobs"
)

// Runner executes one claimed job to a terminal state.
type Runner interface {
	RunJob(ctx context.Context, job *jobs.Job) error
}

// Options tunes a Dispatcher. Zero values take defaults.
type Options struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	// JobTimeout bounds one invocation; it plays the role of the platform timeout.
	JobTimeout time.Duration
}

const (
	defaultWorkers      = 4
	defaultPollInterval = 2 * time.Second
	defaultJobTimeout   = 10 * time.Minute
)

// Dispatcher claims pending jobs from the store and runs them. Enqueue only wakes the
// claim loop; the store's claim is the single point of ownership, so a job submitted
// through Enqueue and one found by polling are never run twice by the same process.
type Dispatcher struct {
	store  jobs.Store
	runner Runner
	logger *zap.Logger
	opts   Options

	sem  *semaphore.Weighted
	wake chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
	now      func() time.Time
}

// New builds a dispatcher. It does nothing until Start.
func New(store jobs.Store, runner Runner, logger *zap.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = opts.Workers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	return &Dispatcher{
		store:    store,
		runner:   runner,
		logger:   logger.Named("dispatch"),
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		wake:     make(chan struct{}, 1),
		inflight: make(map[uuid.UUID]struct{}),
		now:      time.Now,
	}
}

// Enqueue implements pipeline.Enqueuer.
func (d *Dispatcher) Enqueue(_ context.Context, ev jobs.Event) error {
	d.logger.Debug("job enqueued", zap.String("job_id", ev.Job().String()), zap.String("type", string(ev.Type())))
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start runs the claim loop until ctx is cancelled, then waits for running jobs.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started",
		zap.Int("workers", d.opts.Workers),
		zap.Duration("poll_interval", d.opts.PollInterval))

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		d.Poll(ctx)
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// Poll claims as many pending jobs as there are free workers and starts them. A claim
// older than the job timeout belongs to a worker that died before starting the job and
// is taken over. It returns the number of jobs started.
func (d *Dispatcher) Poll(ctx context.Context) int {
	started := 0
	for started < d.opts.BatchSize {
		if !d.sem.TryAcquire(1) {
			break
		}
		claimed, err := d.store.ClaimPendingJobs(ctx, 1, d.now().Add(-d.opts.JobTimeout))
		if err != nil || len(claimed) == 0 {
			d.sem.Release(1)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("failed to claim pending jobs", zap.Error(err))
			}
			break
		}
		job := claimed[0]
		if !d.track(job.ID) {
			d.sem.Release(1)
			continue
		}
		d.wg.Add(1)
		go d.run(ctx, job)
		started++
	}
	return started
}

// Wait blocks until every started job has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, job jobs.Job) {
	defer d.wg.Done()
	defer d.sem.Release(1)
	defer d.untrack(job.ID)

	runCtx, cancel := context.WithTimeout(ctx, d.opts.JobTimeout)
	defer cancel()

	logger := d.logger.With(zap.String("job_id", job.ID.String()), zap.String("type", string(job.Type)))
	start := time.Now()
	err := d.runner.RunJob(runCtx, &job)
	switch {
	case err == nil:
		logger.Info("job finished", zap.Duration("elapsed", time.Since(start)))
	case errors.Is(err, jobs.ErrJobTerminal):
		logger.Info("job already finished")
	case ctx.Err() != nil:
		d.release(job.ID, logger, err)
	default:
		logger.Warn("job failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	}
}

// release hands a job interrupted by shutdown back to the queue.
func (d *Dispatcher) release(id uuid.UUID, logger *zap.Logger, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.store.ReleaseJob(ctx, id); err != nil {
		if !errors.Is(err, jobs.ErrJobTerminal) {
			logger.Error("failed to release interrupted job", zap.Error(err))
		}
		return
	}
	logger.Info("released interrupted job", zap.NamedError("cause", cause))
}

func (d *Dispatcher) track(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[id]; ok {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) untrack(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}

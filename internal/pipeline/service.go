// Package pipeline runs the resume, story, opportunity and tailor jobs: phased stage
// sequences with checkpointed retry, dedup and the fatal/non-fatal failure policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/dedup"
	"github.com/jonathan/identity-pipeline/internal/embedding"
	"github.com/jonathan/identity-pipeline/internal/evaluation"
	"github.com/jonathan/identity-pipeline/internal/ingestion"
	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/pdf"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/reflection"
	"github.com/jonathan/identity-pipeline/internal/storage"
	"github.com/jonathan/identity-pipeline/internal/synthesis"
	"github.com/jonathan/identity-pipeline/internal/tailoring"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// ErrOpportunityNotFound is returned when an opportunity is missing or owned by someone else.
var ErrOpportunityNotFound = errors.New("opportunity not found")

// Store is the persistence surface of every pipeline.
type Store interface {
	jobs.Store
	dedup.Lookup
	steps.Checkpointer
	steps.Journal
	synthesis.ClaimStore
	reflection.Store

	CreateDocument(ctx context.Context, in types.DocumentInput) (*types.Document, error)
	SetDocumentStatus(ctx context.Context, id uuid.UUID, status types.DocumentStatus, errMsg *string) error
	InsertEvidence(ctx context.Context, doc *types.Document, items []types.EvidenceItem) (int, error)
	ListEvidence(ctx context.Context, documentID uuid.UUID) ([]types.Evidence, error)
	SetEvidenceEmbeddings(ctx context.Context, ids []uuid.UUID, vectors [][]float32) error

	CreateOpportunity(ctx context.Context, in types.OpportunityInput) (*types.Opportunity, error)
	GetOpportunity(ctx context.Context, id uuid.UUID) (*types.Opportunity, error)
	UpdateOpportunityPosting(ctx context.Context, id uuid.UUID, description string, posting *types.Posting) error
	UpdateOpportunityRequirements(ctx context.Context, id uuid.UUID, reqs []types.Requirement) error
	SetOpportunityResearch(ctx context.Context, id uuid.UUID, research *types.CompanyResearch, score *types.MatchScore) error
	DeleteOpportunity(ctx context.Context, id uuid.UUID) error

	GetTailoredProfile(ctx context.Context, ownerID, opportunityID uuid.UUID) (*types.TailoredProfile, error)
	DeleteTailoredProfile(ctx context.Context, ownerID, opportunityID uuid.UUID) error
	CreateTailoredProfile(ctx context.Context, p *types.TailoredProfile) (*types.TailoredProfile, error)
	SaveEvaluation(ctx context.Context, e *types.Evaluation) error

	IncrementUsage(ctx context.Context, ownerID uuid.UUID, metric, period string, jobID uuid.UUID) (bool, error)
	SaveTelemetry(ctx context.Context, jobID uuid.UUID, usage []llm.Usage) error
}

// Extractor is the extraction stage.
type Extractor interface {
	ExtractEvidence(ctx context.Context, text string, source types.Source) ([]types.EvidenceItem, error)
	ExtractPosting(ctx context.Context, text string) (*types.Posting, error)
}

// Enricher resolves an opportunity submission to posting text.
type Enricher interface {
	Enrich(ctx context.Context, url, description string) (*ingestion.Enriched, error)
}

// Researcher produces a company brief for an opportunity.
type Researcher interface {
	Company(ctx context.Context, opp *types.Opportunity) (*types.CompanyResearch, error)
}

// Reflector refreshes the owner's identity summary.
type Reflector interface {
	Reflect(ctx context.Context, ownerID uuid.UUID) (*types.IdentitySummary, error)
}

// Enqueuer hands a created job to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev jobs.Event) error
}

// Deps are the collaborators of the pipelines.
type Deps struct {
	Store      Store
	Files      storage.Fetcher
	PDF        pdf.Extractor
	Extractor  Extractor
	Embedder   embedding.Embedder
	Enricher   Enricher
	Researcher Researcher
	Reflector  Reflector
	Generator  tailoring.Generator
	Evaluator  evaluation.Evaluator
	Logger     *zap.Logger

	// SimilarityThreshold is the claim merge threshold. Zero uses synthesis.DefaultThreshold.
	SimilarityThreshold float64
	// MatchThreshold is the requirement match threshold. Zero uses the research default.
	MatchThreshold float64
}

// ProgressEvent is emitted after every job row write made by a pipeline.
type ProgressEvent struct {
	JobID   uuid.UUID    `json:"job_id"`
	JobType jobs.JobType `json:"job_type"`
	Phase   jobs.Phase   `json:"phase,omitempty"`
	Message string       `json:"message,omitempty"`
}

// ProgressCallback receives progress events. It must not block.
type ProgressCallback func(event ProgressEvent)

// Service creates jobs and runs their pipelines.
type Service struct {
	deps     Deps
	store    Store
	registry *jobs.Registry
	exec     *steps.Executor
	guard    *dedup.Guard
	synth    *synthesis.Synthesizer
	logger   *zap.Logger
	now      func() time.Time

	enqueuer Enqueuer
	notify   ProgressCallback
}

// NewService wires the pipelines. exec may be nil to use a default executor over the store.
func NewService(deps Deps, exec *steps.Executor) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if exec == nil {
		exec = steps.NewExecutor(deps.Store, deps.Store, logger)
	}
	return &Service{
		deps:     deps,
		store:    deps.Store,
		registry: jobs.NewRegistry(deps.Store, logger),
		exec:     exec,
		guard:    dedup.NewGuard(deps.Store),
		synth:    synthesis.New(deps.Store, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// SetEnqueuer sets where submitted jobs are sent. Without one, jobs stay pending until
// a worker claims them from the store.
func (s *Service) SetEnqueuer(e Enqueuer) {
	s.enqueuer = e
}

// SetNotifier registers a progress callback.
func (s *Service) SetNotifier(fn ProgressCallback) {
	s.notify = fn
}

// Registry returns the job controller registry.
func (s *Service) Registry() *jobs.Registry {
	return s.registry
}

// SubmitStory creates a story job.
func (s *Service) SubmitStory(ctx context.Context, ownerID uuid.UUID, text string) (*jobs.Job, error) {
	ev := jobs.StoryEvent{
		JobID:       uuid.New(),
		UserID:      ownerID,
		Text:        text,
		ContentHash: dedup.TextFingerprint(text),
	}
	return s.submit(ctx, ev, ev.ContentHash)
}

// SubmitResume creates a resume job for an uploaded PDF. The fingerprint is computed
// from the parsed text once the job runs.
func (s *Service) SubmitResume(ctx context.Context, ownerID uuid.UUID, filename, location string) (*jobs.Job, error) {
	ev := jobs.ResumeEvent{
		JobID:           uuid.New(),
		UserID:          ownerID,
		Filename:        filename,
		StorageLocation: location,
	}
	return s.submit(ctx, ev, "")
}

// SubmitOpportunity creates an opportunity job from a posting URL, a description, or both.
func (s *Service) SubmitOpportunity(ctx context.Context, ownerID uuid.UUID, url, description string) (*jobs.Job, error) {
	ev := jobs.OpportunityEvent{
		JobID:       uuid.New(),
		UserID:      ownerID,
		URL:         url,
		Description: description,
	}
	return s.submit(ctx, ev, opportunityFingerprint(url, description))
}

// TailorStart is the synchronous answer to a tailor request.
type TailorStart struct {
	JobID   *uuid.UUID             `json:"jobId,omitempty"`
	Cached  bool                   `json:"cached"`
	Profile *types.TailoredProfile `json:"profile,omitempty"`
}

// StartTailor returns the stored artifact when one exists and regenerate is false;
// no job is created in that case. Otherwise it creates and enqueues a tailor job.
func (s *Service) StartTailor(ctx context.Context, ownerID, opportunityID uuid.UUID, regenerate bool) (*TailorStart, error) {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	if opp == nil || opp.OwnerID != ownerID {
		return nil, ErrOpportunityNotFound
	}

	if !regenerate {
		existing, err := s.store.GetTailoredProfile(ctx, ownerID, opportunityID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &TailorStart{Cached: true, Profile: existing}, nil
		}
	}

	ev := jobs.TailorEvent{
		JobID:         uuid.New(),
		UserID:        ownerID,
		OpportunityID: opportunityID,
		Regenerate:    regenerate,
	}
	job, err := s.submit(ctx, ev, "")
	if err != nil {
		return nil, err
	}
	return &TailorStart{JobID: &job.ID}, nil
}

func (s *Service) submit(ctx context.Context, ev jobs.Event, contentHash string) (*jobs.Job, error) {
	if err := jobs.Validate(ev); err != nil {
		return nil, err
	}
	input, err := jobs.MarshalEvent(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	in := jobs.CreateInput{ID: ev.Job(), OwnerID: ev.Owner(), Type: ev.Type(), Input: input}
	if contentHash != "" {
		in.ContentHash = &contentHash
	}
	job, err := s.store.CreateJob(ctx, in)
	if err != nil {
		return nil, err
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(ctx, ev); err != nil {
			// the row stays pending and the poller picks it up
			s.logger.Warn("failed to enqueue job", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}
	return job, nil
}

// RunJob loads a stored job's trigger event and runs it.
func (s *Service) RunJob(ctx context.Context, job *jobs.Job) error {
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", job.ID, job.Status, jobs.ErrJobTerminal)
	}
	ev, err := jobs.UnmarshalEvent(job.Type, job.Input)
	if err != nil {
		c, cerr := s.registry.Controller(ctx, job.ID)
		if cerr == nil {
			_ = c.Fail(ctx, userMessage(err))
		}
		return err
	}
	return s.Run(ctx, ev)
}

// Run executes the pipeline for one trigger event. It returns the final error after
// retries; the job row already reflects the outcome.
func (s *Service) Run(ctx context.Context, ev jobs.Event) error {
	if ev == nil {
		return &jobs.ValidationError{Fields: []string{"event"}}
	}
	c, err := s.registry.Controller(ctx, ev.Job())
	if err != nil {
		return err
	}
	if err := jobs.Validate(ev); err != nil {
		if ferr := c.Fail(ctx, userMessage(err)); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}

	switch e := ev.(type) {
	case jobs.ResumeEvent:
		return s.runResume(ctx, c, e)
	case jobs.StoryEvent:
		return s.runStory(ctx, c, e)
	case jobs.OpportunityEvent:
		return s.runOpportunity(ctx, c, e)
	case jobs.TailorEvent:
		return s.runTailor(ctx, c, e)
	}
	return fmt.Errorf("unsupported event %T", ev)
}

// execute runs body under the executor with metering, telemetry flush and the
// failure hook shared by every pipeline.
func (s *Service) execute(ctx context.Context, c *jobs.Controller, reg *steps.Registry,
	body func(ctx context.Context, run *steps.Run) error, onFailure func(ctx context.Context, err error)) error {
	meter := llm.NewMeter()
	ctx = llm.WithMeter(ctx, meter)
	logger := s.logger.With(zap.String("job_id", c.JobID().String()), zap.String("job_type", string(c.Type())))

	return s.exec.Execute(ctx, steps.Workflow{
		JobID:   c.JobID(),
		JobType: c.Type(),
		Steps:   reg,
		Body:    body,
		OnFailure: func(ctx context.Context, err error) {
			if onFailure != nil {
				onFailure(ctx, err)
			}
			if ferr := c.Fail(ctx, userMessage(err)); ferr != nil && !errors.Is(ferr, jobs.ErrJobTerminal) {
				logger.Error("failed to record job failure", zap.Error(ferr))
			}
			s.emit(c, "", "failed")
		},
		Cleanup: func(ctx context.Context) {
			if usage := meter.Drain(); len(usage) > 0 {
				if err := s.store.SaveTelemetry(ctx, c.JobID(), usage); err != nil {
					logger.Warn("failed to save telemetry", zap.Error(err))
				}
			}
			_ = logger.Sync()
		},
	})
}

// enter moves the job to phase. A retried body replays earlier phases; those calls are
// no-ops because phases never regress.
func (s *Service) enter(ctx context.Context, c *jobs.Controller, phase jobs.Phase) error {
	err := c.SetPhase(ctx, phase, nil)
	if errors.Is(err, jobs.ErrPhaseRegression) {
		return nil
	}
	if err != nil {
		return err
	}
	s.emit(c, phase, "")
	return nil
}

// warn records a non-fatal caveat. Store failures are logged, except a terminal job
// which stops the run.
func (s *Service) warn(ctx context.Context, c *jobs.Controller, text string) error {
	if err := c.SetWarning(ctx, text); err != nil {
		if errors.Is(err, jobs.ErrJobTerminal) {
			return err
		}
		s.logger.Warn("failed to set warning", zap.String("job_id", c.JobID().String()), zap.Error(err))
	}
	s.emit(c, "", text)
	return nil
}

func (s *Service) emit(c *jobs.Controller, phase jobs.Phase, message string) {
	if s.notify == nil {
		return
	}
	s.notify(ProgressEvent{JobID: c.JobID(), JobType: c.Type(), Phase: phase, Message: message})
}

func opportunityFingerprint(url, description string) string {
	if url != "" {
		if fp, err := dedup.URLFingerprint(url); err == nil {
			return fp
		}
	}
	if description != "" {
		return dedup.TextFingerprint(description)
	}
	return ""
}

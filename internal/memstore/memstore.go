// Package memstore is an in-process implementation of the pipeline's storage surface.
// It backs tests and the serve --memory mode, and mirrors the Postgres store's
// uniqueness and terminal-state rules.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// Store holds every table in maps guarded by one mutex.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	jobs    map[uuid.UUID]*jobs.Job
	claimed map[uuid.UUID]time.Time

	documents map[uuid.UUID]*types.Document
	evidence  map[uuid.UUID]*types.Evidence
	claims    map[uuid.UUID]*types.Claim
	links     map[uuid.UUID]map[uuid.UUID]types.Strength // evidence -> claim -> strength
	summaries map[uuid.UUID]*types.IdentitySummary

	opportunities map[uuid.UUID]*types.Opportunity
	tailored      map[uuid.UUID]*types.TailoredProfile
	evaluations   map[uuid.UUID]*types.Evaluation

	usage       map[string]int
	usageEvents map[string]bool
	telemetry   map[uuid.UUID]map[string]*llm.Usage

	checkpoints map[string][]byte
	runSteps    map[uuid.UUID][]*steps.RunStep
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:           time.Now,
		jobs:          make(map[uuid.UUID]*jobs.Job),
		claimed:       make(map[uuid.UUID]time.Time),
		documents:     make(map[uuid.UUID]*types.Document),
		evidence:      make(map[uuid.UUID]*types.Evidence),
		claims:        make(map[uuid.UUID]*types.Claim),
		links:         make(map[uuid.UUID]map[uuid.UUID]types.Strength),
		summaries:     make(map[uuid.UUID]*types.IdentitySummary),
		opportunities: make(map[uuid.UUID]*types.Opportunity),
		tailored:      make(map[uuid.UUID]*types.TailoredProfile),
		evaluations:   make(map[uuid.UUID]*types.Evaluation),
		usage:         make(map[string]int),
		usageEvents:   make(map[string]bool),
		telemetry:     make(map[uuid.UUID]map[string]*llm.Usage),
		checkpoints:   make(map[string][]byte),
		runSteps:      make(map[uuid.UUID][]*steps.RunStep),
	}
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// CreateJob implements jobs.Store.
func (s *Store) CreateJob(_ context.Context, in jobs.CreateInput) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, exists := s.jobs[id]; exists {
		return nil, fmt.Errorf("failed to create job: duplicate id %s", id)
	}
	job := &jobs.Job{
		ID:          id,
		OwnerID:     in.OwnerID,
		Type:        in.Type,
		Status:      jobs.StatusPending,
		Highlights:  []jobs.Highlight{},
		ContentHash: in.ContentHash,
		CreatedAt:   s.now(),
	}
	if len(in.Input) > 0 {
		job.Input = append(json.RawMessage(nil), in.Input...)
	}
	s.jobs[id] = job
	return cloneJob(job), nil
}

// GetJob implements jobs.Store.
func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ListJobs implements jobs.Store.
func (s *Store) ListJobs(_ context.Context, filter jobs.ListFilter) ([]jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	var out []jobs.Job
	for _, job := range s.jobs {
		if filter.OwnerID != nil && job.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, *cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// mutate applies fn to a live job row.
func (s *Store) mutate(id uuid.UUID, fn func(job *jobs.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", jobs.ErrJobTerminal, job.Status)
	}
	fn(job)
	return nil
}

// SetJobPhase implements jobs.Store.
func (s *Store) SetJobPhase(_ context.Context, id uuid.UUID, phase jobs.Phase, progress *string) error {
	return s.mutate(id, func(job *jobs.Job) {
		job.Status = jobs.StatusProcessing
		job.Phase = &phase
		job.Progress = cloneString(progress)
		if job.StartedAt == nil {
			now := s.now()
			job.StartedAt = &now
		}
	})
}

// SetJobProgress implements jobs.Store.
func (s *Store) SetJobProgress(_ context.Context, id uuid.UUID, progress string) error {
	return s.mutate(id, func(job *jobs.Job) {
		job.Progress = &progress
	})
}

// AppendJobHighlights implements jobs.Store.
func (s *Store) AppendJobHighlights(_ context.Context, id uuid.UUID, add []jobs.Highlight, keep int) error {
	return s.mutate(id, func(job *jobs.Job) {
		merged := append(append([]jobs.Highlight{}, job.Highlights...), add...)
		if keep > 0 && len(merged) > keep {
			merged = merged[len(merged)-keep:]
		}
		job.Highlights = merged
	})
}

// SetJobWarning implements jobs.Store.
func (s *Store) SetJobWarning(_ context.Context, id uuid.UUID, warning string) error {
	return s.mutate(id, func(job *jobs.Job) {
		job.Warning = &warning
	})
}

// FinishJob implements jobs.Store.
func (s *Store) FinishJob(_ context.Context, id uuid.UUID, status jobs.Status, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	return s.mutate(id, func(job *jobs.Job) {
		now := s.now()
		job.Status = status
		job.Error = &errMsg
		job.CompletedAt = &now
	})
}

// CompleteJob implements jobs.Store.
func (s *Store) CompleteJob(_ context.Context, id uuid.UUID, summary []byte, artifact jobs.Artifact) error {
	return s.mutate(id, func(job *jobs.Job) {
		now := s.now()
		job.Status = jobs.StatusCompleted
		job.Summary = append(json.RawMessage(nil), summary...)
		job.CompletedAt = &now
		if artifact.DocumentID != nil {
			job.DocumentID = artifact.DocumentID
		}
		if artifact.OpportunityID != nil {
			job.OpportunityID = artifact.OpportunityID
		}
		if artifact.TailoredProfileID != nil {
			job.TailoredProfileID = artifact.TailoredProfileID
		}
	})
}

// ClaimPendingJobs implements jobs.Store.
func (s *Store) ClaimPendingJobs(_ context.Context, limit int, reclaimBefore time.Time) ([]jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*jobs.Job
	for _, job := range s.jobs {
		if job.Status != jobs.StatusPending {
			continue
		}
		if at, ok := s.claimed[job.ID]; !ok || at.Before(reclaimBefore) {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]jobs.Job, 0, len(pending))
	for _, job := range pending {
		s.claimed[job.ID] = s.now()
		out = append(out, *cloneJob(job))
	}
	return out, nil
}

// ReleaseJob implements jobs.Store.
func (s *Store) ReleaseJob(_ context.Context, id uuid.UUID) error {
	return s.mutate(id, func(job *jobs.Job) {
		job.Status = jobs.StatusPending
		delete(s.claimed, id)
	})
}

// ListStaleJobs implements jobs.Store.
func (s *Store) ListStaleJobs(_ context.Context, cutoff time.Time) ([]jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []jobs.Job
	for _, job := range s.jobs {
		if job.Status == jobs.StatusProcessing && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			out = append(out, *cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(*out[j].StartedAt) })
	return out, nil
}

func cloneJob(j *jobs.Job) *jobs.Job {
	out := *j
	out.Highlights = append([]jobs.Highlight{}, j.Highlights...)
	out.Summary = append(json.RawMessage(nil), j.Summary...)
	out.Input = append(json.RawMessage(nil), j.Input...)
	if len(out.Summary) == 0 {
		out.Summary = nil
	}
	if len(out.Input) == 0 {
		out.Input = nil
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

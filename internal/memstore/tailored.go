package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/types"
)

func (s *Store) tailoredFor(ownerID, opportunityID uuid.UUID) *types.TailoredProfile {
	for _, p := range s.tailored {
		if p.OwnerID == ownerID && p.OpportunityID == opportunityID {
			return p
		}
	}
	return nil
}

// GetTailoredProfile returns the owner's artifact for an opportunity, or nil.
func (s *Store) GetTailoredProfile(_ context.Context, ownerID, opportunityID uuid.UUID) (*types.TailoredProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.tailoredFor(ownerID, opportunityID)
	if p == nil {
		return nil, nil
	}
	return cloneTailored(p), nil
}

// GetTailoredProfileByID returns nil when the profile does not exist.
func (s *Store) GetTailoredProfileByID(_ context.Context, id uuid.UUID) (*types.TailoredProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tailored[id]
	if !ok {
		return nil, nil
	}
	return cloneTailored(p), nil
}

// DeleteTailoredProfile removes the owner's artifact and its evaluation.
func (s *Store) DeleteTailoredProfile(_ context.Context, ownerID, opportunityID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.tailoredFor(ownerID, opportunityID); p != nil {
		delete(s.tailored, p.ID)
		delete(s.evaluations, p.ID)
	}
	return nil
}

// CreateTailoredProfile inserts the artifact or returns the one already stored.
func (s *Store) CreateTailoredProfile(_ context.Context, p *types.TailoredProfile) (*types.TailoredProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.tailoredFor(p.OwnerID, p.OpportunityID); existing != nil {
		return cloneTailored(existing), nil
	}
	stored := cloneTailored(p)
	stored.ID = uuid.New()
	stored.CreatedAt = s.now()
	s.tailored[stored.ID] = stored
	return cloneTailored(stored), nil
}

// SaveEvaluation stores the grounding check once per profile.
func (s *Store) SaveEvaluation(_ context.Context, e *types.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.evaluations[e.TailoredProfileID]; ok {
		return nil
	}
	out := *e
	out.ID = uuid.New()
	out.CreatedAt = s.now()
	out.Hallucinations = append([]string{}, e.Hallucinations...)
	out.Gaps = append([]string{}, e.Gaps...)
	out.MissedOpportunities = append([]string{}, e.MissedOpportunities...)
	out.StyleIssues = append([]string{}, e.StyleIssues...)
	s.evaluations[e.TailoredProfileID] = &out
	return nil
}

// GetEvaluation returns the evaluation for a profile, or nil.
func (s *Store) GetEvaluation(_ context.Context, tailoredProfileID uuid.UUID) (*types.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evaluations[tailoredProfileID]
	if !ok {
		return nil, nil
	}
	out := *e
	return &out, nil
}

func cloneTailored(p *types.TailoredProfile) *types.TailoredProfile {
	raw, _ := json.Marshal(p)
	var out types.TailoredProfile
	_ = json.Unmarshal(raw, &out)
	return &out
}

// IncrementUsage bumps (owner, metric, period) once per job.
func (s *Store) IncrementUsage(_ context.Context, ownerID uuid.UUID, metric, period string, jobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := jobID.String() + "/" + metric
	if s.usageEvents[event] {
		return false, nil
	}
	s.usageEvents[event] = true
	s.usage[usageKey(ownerID, metric, period)]++
	return true, nil
}

// GetUsage returns the counter value for (owner, metric, period).
func (s *Store) GetUsage(_ context.Context, ownerID uuid.UUID, metric, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[usageKey(ownerID, metric, period)], nil
}

func usageKey(ownerID uuid.UUID, metric, period string) string {
	return ownerID.String() + "/" + metric + "/" + period
}

// SaveTelemetry accumulates model usage per job.
func (s *Store) SaveTelemetry(_ context.Context, jobID uuid.UUID, usage []llm.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byModel, ok := s.telemetry[jobID]
	if !ok {
		byModel = make(map[string]*llm.Usage)
		s.telemetry[jobID] = byModel
	}
	for _, u := range usage {
		acc, ok := byModel[u.Model]
		if !ok {
			acc = &llm.Usage{Model: u.Model}
			byModel[u.Model] = acc
		}
		acc.Calls += u.Calls
		acc.Failures += u.Failures
		acc.PromptChars += u.PromptChars
		acc.ResponseChars += u.ResponseChars
		acc.LatencyMs += u.LatencyMs
	}
	return nil
}

// ListTelemetry returns the recorded usage for a job, by model name.
func (s *Store) ListTelemetry(_ context.Context, jobID uuid.UUID) ([]llm.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []llm.Usage
	for _, u := range s.telemetry[jobID] {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}

// GetCheckpoint implements steps.Checkpointer.
func (s *Store) GetCheckpoint(_ context.Context, jobID uuid.UUID, step string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.checkpoints[jobID.String()+"/"+step]
	return raw, ok, nil
}

// SaveCheckpoint implements steps.Checkpointer. The first write wins.
func (s *Store) SaveCheckpoint(_ context.Context, jobID uuid.UUID, step string, output []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobID.String() + "/" + step
	if _, ok := s.checkpoints[key]; !ok {
		s.checkpoints[key] = append([]byte(nil), output...)
	}
	return nil
}

// DeleteCheckpoints removes all checkpoints for a job.
func (s *Store) DeleteCheckpoints(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := jobID.String() + "/"
	for key := range s.checkpoints {
		if strings.HasPrefix(key, prefix) {
			delete(s.checkpoints, key)
		}
	}
	return nil
}

// RecordStep implements steps.Journal.
func (s *Store) RecordStep(_ context.Context, rec steps.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var row *steps.RunStep
	for _, r := range s.runSteps[rec.JobID] {
		if r.Step == rec.Step {
			row = r
			break
		}
	}
	if row == nil {
		row = &steps.RunStep{ID: uuid.New(), JobID: rec.JobID, Step: rec.Step, CreatedAt: now}
		s.runSteps[rec.JobID] = append(s.runSteps[rec.JobID], row)
	}
	if rec.Phase != "" {
		p := string(rec.Phase)
		row.Phase = &p
	}
	row.Status = string(rec.Status)
	row.Attempts = max(row.Attempts, rec.Attempt)
	started := rec.StartedAt
	row.StartedAt = &started
	row.CompletedAt, row.DurationMs, row.ErrorMessage = nil, nil, nil
	if rec.Status != steps.StatusInProgress {
		ms := int(rec.Duration / time.Millisecond)
		row.CompletedAt, row.DurationMs = &now, &ms
	}
	if rec.Error != "" {
		msg := rec.Error
		row.ErrorMessage = &msg
	}
	row.UpdatedAt = now
	return nil
}

// ListRunSteps returns the journal rows for a job, optionally filtered by status.
func (s *Store) ListRunSteps(_ context.Context, jobID uuid.UUID, status *string) ([]steps.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []steps.RunStep
	for _, r := range s.runSteps[jobID] {
		if status != nil && r.Status != *status {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

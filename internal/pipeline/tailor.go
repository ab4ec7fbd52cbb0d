package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/tailoring"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// UsageMetricTailor is the usage counter bumped once per tailor job.
const UsageMetricTailor = "tailor"

// WarnEvaluationFailed is set when the grounding check could not run.
const WarnEvaluationFailed = "Quality check could not be completed for this profile"

const (
	stepClearPrevious  = "clear-previous"
	stepTalkingPoints  = "talking-points"
	stepNarrative      = "narrative"
	stepResumeData     = "resume-data"
	stepPersistProfile = "persist-profile"
	stepEvaluate       = "evaluate"
	stepCountUsage     = "count-usage"
)

var tailorSteps = steps.MustRegistry(jobs.TypeTailor,
	steps.StepDefinition{Name: stepClearPrevious, Phase: jobs.PhaseAnalyzing},
	steps.StepDefinition{Name: stepTalkingPoints, Phase: jobs.PhaseGenerating, Optional: []string{stepClearPrevious}},
	steps.StepDefinition{Name: stepNarrative, Phase: jobs.PhaseGenerating, Dependencies: []string{stepTalkingPoints}},
	steps.StepDefinition{Name: stepResumeData, Phase: jobs.PhaseGenerating},
	steps.StepDefinition{Name: stepPersistProfile, Phase: jobs.PhaseGenerating, Dependencies: []string{stepTalkingPoints, stepNarrative, stepResumeData}},
	steps.StepDefinition{Name: stepEvaluate, Phase: jobs.PhaseEvaluating, Dependencies: []string{stepPersistProfile}},
	steps.StepDefinition{Name: stepCountUsage, Phase: jobs.PhaseEvaluating, Dependencies: []string{stepPersistProfile}},
)

func (s *Service) runTailor(ctx context.Context, c *jobs.Controller, ev jobs.TailorEvent) error {
	body := func(ctx context.Context, run *steps.Run) error {
		if err := s.enter(ctx, c, jobs.PhaseAnalyzing); err != nil {
			return err
		}
		opp, err := s.store.GetOpportunity(ctx, ev.OpportunityID)
		if err != nil {
			return fmt.Errorf("failed to load opportunity: %w", err)
		}
		if opp == nil || opp.OwnerID != ev.UserID {
			return steps.Permanent(ErrOpportunityNotFound)
		}

		if ev.Regenerate {
			if err := run.Do(ctx, stepClearPrevious, func(ctx context.Context) error {
				return s.store.DeleteTailoredProfile(ctx, ev.UserID, ev.OpportunityID)
			}); err != nil {
				return err
			}
		} else {
			existing, err := s.store.GetTailoredProfile(ctx, ev.UserID, ev.OpportunityID)
			if err != nil {
				return fmt.Errorf("failed to load tailored profile: %w", err)
			}
			// a profile written by this job on an earlier attempt is not a cache hit
			if existing != nil && (existing.JobID == nil || *existing.JobID != c.JobID()) {
				return s.completeTailor(ctx, c, existing, nil)
			}
		}

		claims, err := s.store.ListClaims(ctx, ev.UserID)
		if err != nil {
			return fmt.Errorf("failed to load claims: %w", err)
		}
		if len(claims) == 0 {
			return steps.Permanent(tailoring.ErrNoClaims)
		}

		if err := s.enter(ctx, c, jobs.PhaseGenerating); err != nil {
			return err
		}
		points, err := steps.Step(ctx, run, stepTalkingPoints, func(ctx context.Context) ([]types.TalkingPoint, error) {
			return s.deps.Generator.TalkingPoints(ctx, opp, claims)
		})
		if err != nil {
			return err
		}
		if err := c.UpdateProgress(ctx, "1/3"); err != nil {
			return err
		}
		narrative, err := steps.Step(ctx, run, stepNarrative, func(ctx context.Context) (string, error) {
			return s.deps.Generator.Narrative(ctx, opp, points)
		})
		if err != nil {
			return err
		}
		if err := c.UpdateProgress(ctx, "2/3"); err != nil {
			return err
		}
		resume, err := steps.Step(ctx, run, stepResumeData, func(ctx context.Context) (*types.ResumeData, error) {
			return s.deps.Generator.ResumeData(ctx, opp, claims)
		})
		if err != nil {
			return err
		}
		if err := c.UpdateProgress(ctx, "3/3"); err != nil {
			return err
		}

		profile, err := steps.Step(ctx, run, stepPersistProfile, func(ctx context.Context) (*types.TailoredProfile, error) {
			jobID := c.JobID()
			p := &types.TailoredProfile{
				OwnerID:       ev.UserID,
				OpportunityID: ev.OpportunityID,
				JobID:         &jobID,
				TalkingPoints: points,
				Narrative:     narrative,
			}
			if resume != nil {
				p.Resume = *resume
			}
			stored, err := s.store.CreateTailoredProfile(ctx, p)
			if err != nil {
				return nil, fmt.Errorf("failed to store tailored profile: %w", err)
			}
			return stored, nil
		})
		if err != nil {
			return err
		}

		if err := s.enter(ctx, c, jobs.PhaseEvaluating); err != nil {
			return err
		}
		eval, err := steps.Step(ctx, run, stepEvaluate, func(ctx context.Context) (*types.Evaluation, error) {
			return s.evaluate(ctx, run, c, profile, opp, claims)
		})
		if err != nil {
			return err
		}

		if _, err := steps.Step(ctx, run, stepCountUsage, func(ctx context.Context) (bool, error) {
			counted, err := s.store.IncrementUsage(ctx, ev.UserID, UsageMetricTailor, s.now().UTC().Format("2006-01"), c.JobID())
			if err != nil {
				return false, fmt.Errorf("failed to record usage: %w", err)
			}
			return counted, nil
		}); err != nil {
			return err
		}

		return s.completeTailor(ctx, c, profile, eval)
	}

	return s.execute(ctx, c, tailorSteps, body, nil)
}

// evaluate grades the profile. Failure is recorded as a warning and never fails the job.
func (s *Service) evaluate(ctx context.Context, run *steps.Run, c *jobs.Controller,
	profile *types.TailoredProfile, opp *types.Opportunity, claims []types.Claim) (*types.Evaluation, error) {
	if s.deps.Evaluator == nil {
		return nil, nil
	}
	eval, err := s.deps.Evaluator.Evaluate(ctx, profile, opp, claims)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		run.Logger().Warn("evaluation failed", zap.Error(err))
		return nil, s.warn(ctx, c, WarnEvaluationFailed)
	}
	eval.TailoredProfileID = profile.ID
	if err := s.store.SaveEvaluation(ctx, eval); err != nil {
		run.Logger().Warn("failed to store evaluation", zap.Error(err))
		return nil, s.warn(ctx, c, WarnEvaluationFailed)
	}
	return eval, nil
}

func (s *Service) completeTailor(ctx context.Context, c *jobs.Controller, profile *types.TailoredProfile, eval *types.Evaluation) error {
	summary := jobs.TailorSummary{TalkingPoints: len(profile.TalkingPoints)}
	if eval != nil {
		summary.Evaluated = true
		summary.EvaluationPassed = eval.Passed
		summary.Hallucinations = len(eval.Hallucinations)
	}
	if err := c.Complete(ctx, summary, jobs.TailoredProfileArtifact(profile.ID)); err != nil {
		return err
	}
	s.emit(c, "", "completed")
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/dedup"
	"github.com/jonathan/identity-pipeline/internal/embedding"
	"github.com/jonathan/identity-pipeline/internal/extraction"
	"github.com/jonathan/identity-pipeline/internal/fetch"
	"github.com/jonathan/identity-pipeline/internal/ingestion"
	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/research"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// Warnings written by the opportunity pipeline.
const (
	WarnPostingParse   = "The job posting could not be fully parsed; requirements may be incomplete"
	WarnResearchFailed = "Company research is unavailable for this posting"
	WarnNoRequirements = "No requirements were found in this posting"
)

const (
	stepCreateOpportunity = "create-opportunity"
	stepEnrichPosting     = "enrich-posting"
	stepExtractPosting    = "extract-posting"
	stepEmbedRequirements = "embed-requirements"
	stepResearchCompany   = "research-company"
	stepMatchClaims       = "match-claims"
)

var opportunitySteps = steps.MustRegistry(jobs.TypeOpportunity,
	steps.StepDefinition{Name: stepCheckDuplicate, Phase: jobs.PhaseValidating},
	steps.StepDefinition{Name: stepCreateOpportunity, Phase: jobs.PhaseValidating, Dependencies: []string{stepCheckDuplicate}},
	steps.StepDefinition{Name: stepEnrichPosting, Phase: jobs.PhaseEnriching, Dependencies: []string{stepCreateOpportunity}},
	steps.StepDefinition{Name: stepExtractPosting, Phase: jobs.PhaseExtracting, Dependencies: []string{stepEnrichPosting}},
	steps.StepDefinition{Name: stepEmbedRequirements, Phase: jobs.PhaseEmbeddings, Dependencies: []string{stepExtractPosting}},
	steps.StepDefinition{Name: stepResearchCompany, Phase: jobs.PhaseResearching, Dependencies: []string{stepExtractPosting}},
	steps.StepDefinition{Name: stepMatchClaims, Phase: jobs.PhaseResearching, Dependencies: []string{stepEmbedRequirements}},
)

// extractedPosting is the checkpointed output of the extracting phase.
type extractedPosting struct {
	Posting types.Posting `json:"posting"`
	Parsed  bool          `json:"parsed"`
}

func (s *Service) runOpportunity(ctx context.Context, c *jobs.Controller, ev jobs.OpportunityEvent) error {
	hash := opportunityFingerprint(ev.URL, ev.Description)
	var opportunityID uuid.UUID

	body := func(ctx context.Context, run *steps.Run) error {
		if err := s.enter(ctx, c, jobs.PhaseValidating); err != nil {
			return err
		}
		if hash == "" {
			return steps.Permanent(ingestion.ErrNoContent)
		}

		msg, err := steps.Step(ctx, run, stepCheckDuplicate, func(ctx context.Context) (string, error) {
			prior, err := s.guard.Check(ctx, ev.UserID, dedup.KindOpportunity, hash, c.JobID())
			if err != nil || prior == nil {
				return "", err
			}
			return prior.Message(), nil
		})
		if err != nil {
			return err
		}
		if msg != "" {
			return s.markDuplicate(ctx, c, msg)
		}

		opp, err := steps.Step(ctx, run, stepCreateOpportunity, func(ctx context.Context) (*types.Opportunity, error) {
			in := types.OpportunityInput{OwnerID: ev.UserID, JobID: c.JobID(), ContentHash: hash, Description: ev.Description}
			if ev.URL != "" {
				url := ev.URL
				in.URL = &url
			}
			opp, err := s.store.CreateOpportunity(ctx, in)
			if errors.Is(err, types.ErrOpportunityExists) {
				prior, perr := s.guard.Check(ctx, ev.UserID, dedup.KindOpportunity, hash, c.JobID())
				if perr == nil && prior != nil {
					return nil, &duplicateError{message: prior.Message()}
				}
			}
			return opp, err
		})
		if dup, err := s.finishDuplicate(ctx, c, err); dup || err != nil {
			return err
		}
		opportunityID = opp.ID

		if err := s.enter(ctx, c, jobs.PhaseEnriching); err != nil {
			return err
		}
		enriched, err := steps.Step(ctx, run, stepEnrichPosting, func(ctx context.Context) (*ingestion.Enriched, error) {
			enriched, err := s.deps.Enricher.Enrich(ctx, ev.URL, ev.Description)
			if err != nil {
				return nil, permanentFetch(err)
			}
			if enriched.Warning != "" {
				if err := s.warn(ctx, c, enriched.Warning); err != nil {
					return nil, err
				}
			}
			return enriched, nil
		})
		if err != nil {
			return err
		}

		if err := s.enter(ctx, c, jobs.PhaseExtracting); err != nil {
			return err
		}
		extracted, err := steps.Step(ctx, run, stepExtractPosting, func(ctx context.Context) (*extractedPosting, error) {
			return s.extractPosting(ctx, c, opp.ID, enriched)
		})
		if err != nil {
			return err
		}
		posting := extracted.Posting

		if err := s.enter(ctx, c, jobs.PhaseEmbeddings); err != nil {
			return err
		}
		reqs, err := steps.Step(ctx, run, stepEmbedRequirements, func(ctx context.Context) ([]types.Requirement, error) {
			return s.embedRequirements(ctx, opp.ID, posting.Requirements())
		})
		if err != nil {
			return err
		}

		if err := s.enter(ctx, c, jobs.PhaseResearching); err != nil {
			return err
		}
		if _, err := steps.Step(ctx, run, stepResearchCompany, func(ctx context.Context) (bool, error) {
			return s.researchCompany(ctx, run, c, opp.ID)
		}); err != nil {
			return err
		}
		score, err := steps.Step(ctx, run, stepMatchClaims, func(ctx context.Context) (*types.MatchScore, error) {
			claims, err := s.store.ListClaims(ctx, ev.UserID)
			if err != nil {
				return nil, fmt.Errorf("failed to load claims: %w", err)
			}
			score := research.Match(reqs, claims, s.deps.MatchThreshold)
			if err := s.store.SetOpportunityResearch(ctx, opp.ID, nil, score); err != nil {
				return nil, fmt.Errorf("failed to store match score: %w", err)
			}
			return score, nil
		})
		if err != nil {
			return err
		}

		summary := jobs.OpportunitySummary{
			Title:            posting.Title,
			Company:          posting.Company,
			RequirementCount: len(reqs),
			MatchScore:       score.Overall,
		}
		if err := c.Complete(ctx, summary, jobs.OpportunityArtifact(opp.ID)); err != nil {
			return err
		}
		s.emit(c, "", "completed")
		run.Logger().Info("opportunity completed",
			zap.String("title", posting.Title),
			zap.Int("requirements", len(reqs)),
			zap.Float64("match", score.Overall))
		return nil
	}

	return s.execute(ctx, c, opportunitySteps, body, func(ctx context.Context, err error) {
		if opportunityID == uuid.Nil {
			return
		}
		// a failed opportunity must not block resubmitting the same posting
		if derr := s.store.DeleteOpportunity(ctx, opportunityID); derr != nil {
			s.logger.Warn("failed to remove failed opportunity",
				zap.String("opportunity_id", opportunityID.String()), zap.Error(derr))
		}
	})
}

func (s *Service) extractPosting(ctx context.Context, c *jobs.Controller, opportunityID uuid.UUID, enriched *ingestion.Enriched) (*extractedPosting, error) {
	posting, err := s.deps.Extractor.ExtractPosting(ctx, enriched.Text)
	out := &extractedPosting{Parsed: err == nil}
	switch {
	case err == nil:
	case errors.Is(err, extraction.ErrPostingParse) && posting != nil:
		if werr := s.warn(ctx, c, WarnPostingParse); werr != nil {
			return nil, werr
		}
	case errors.Is(err, extraction.ErrEmptyText):
		return nil, steps.Permanent(err)
	default:
		return nil, err
	}

	if posting.Title == "" {
		posting.Title = enriched.Title
	}
	out.Posting = *posting
	if err := s.store.UpdateOpportunityPosting(ctx, opportunityID, enriched.Text, posting); err != nil {
		return nil, fmt.Errorf("failed to store posting: %w", err)
	}

	reqs := posting.Requirements()
	if len(reqs) == 0 && out.Parsed {
		if err := s.warn(ctx, c, WarnNoRequirements); err != nil {
			return nil, err
		}
	}
	var found []jobs.Highlight
	for _, r := range reqs {
		if len(found) == maxFoundHighlights {
			break
		}
		found = append(found, jobs.Highlight{Text: truncate(r.Text, maxHighlightRunes), Kind: jobs.HighlightFound})
	}
	if len(found) > 0 {
		if err := c.AddHighlights(ctx, found); err != nil {
			return nil, err
		}
		s.emit(c, "", found[len(found)-1].Text)
	}
	return out, nil
}

func (s *Service) embedRequirements(ctx context.Context, opportunityID uuid.UUID, reqs []types.Requirement) ([]types.Requirement, error) {
	if len(reqs) == 0 {
		return reqs, nil
	}
	texts := make([]string, len(reqs))
	for i, r := range reqs {
		texts[i] = r.Text
	}
	vectors, err := embedding.Embed(ctx, s.deps.Embedder, texts)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		reqs[i].Embedding = vectors[i]
	}
	if err := s.store.UpdateOpportunityRequirements(ctx, opportunityID, reqs); err != nil {
		return nil, fmt.Errorf("failed to store requirement embeddings: %w", err)
	}
	return reqs, nil
}

// researchCompany is best effort: a posting without a company is skipped and any other
// failure becomes a warning.
func (s *Service) researchCompany(ctx context.Context, run *steps.Run, c *jobs.Controller, opportunityID uuid.UUID) (bool, error) {
	if s.deps.Researcher == nil {
		return false, nil
	}
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return false, fmt.Errorf("failed to load opportunity: %w", err)
	}
	if opp == nil {
		return false, steps.Permanent(ErrOpportunityNotFound)
	}

	brief, err := s.deps.Researcher.Company(ctx, opp)
	switch {
	case err == nil:
	case errors.Is(err, research.ErrNoCompany):
		return false, nil
	case ctx.Err() != nil:
		return false, err
	default:
		run.Logger().Warn("company research failed", zap.Error(err))
		return false, s.warn(ctx, c, WarnResearchFailed)
	}
	if err := s.store.SetOpportunityResearch(ctx, opportunityID, brief, nil); err != nil {
		return false, fmt.Errorf("failed to store company research: %w", err)
	}
	return true, nil
}

// permanentFetch marks enrichment errors that a retry cannot fix.
func permanentFetch(err error) error {
	if errors.Is(err, ingestion.ErrNoContent) || errors.Is(err, fetch.ErrEmptyPage) {
		return steps.Permanent(err)
	}
	var ferr *fetch.Error
	if errors.As(err, &ferr) && ferr.Permanent() {
		return steps.Permanent(err)
	}
	return err
}

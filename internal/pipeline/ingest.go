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
	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/reflection"
	"github.com/jonathan/identity-pipeline/internal/synthesis"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// Warnings written by the ingestion pipelines.
const (
	WarnSynthesisPartial = "Claim synthesis partially failed"
	WarnReflectionFailed = "Identity summary refresh failed"
	WarnNoAccomplishment = "No accomplishments were found; add a story about something you delivered"
)

// maxFoundHighlights is how many extracted items are surfaced as highlights.
const maxFoundHighlights = 3

const maxHighlightRunes = 120

// Ingestion step names, shared by the resume and story registries.
const (
	stepCheckDuplicate   = "check-duplicate"
	stepCreateDocument   = "create-document"
	stepExtractEvidence  = "extract-evidence"
	stepStoreEvidence    = "store-evidence"
	stepEmbedEvidence    = "embed-evidence"
	stepSynthesize       = "synthesize-claims"
	stepReflect          = "refresh-identity"
	stepFinalizeDocument = "finalize-document"
)

// ingestTail is the step list from extraction on, identical for resumes and stories.
func ingestTail() []steps.StepDefinition {
	return []steps.StepDefinition{
		{Name: stepExtractEvidence, Phase: jobs.PhaseExtracting, Dependencies: []string{stepCreateDocument}},
		{Name: stepStoreEvidence, Phase: jobs.PhaseExtracting, Dependencies: []string{stepExtractEvidence}},
		{Name: stepEmbedEvidence, Phase: jobs.PhaseEmbeddings, Dependencies: []string{stepStoreEvidence}},
		{Name: stepSynthesize, Phase: jobs.PhaseSynthesis, Dependencies: []string{stepEmbedEvidence}},
		{Name: stepReflect, Phase: jobs.PhaseReflection, Optional: []string{stepSynthesize}},
		{Name: stepFinalizeDocument, Phase: jobs.PhaseEvaluation, Dependencies: []string{stepStoreEvidence}},
	}
}

// ingestRun is the state of one resume or story run.
type ingestRun struct {
	c        *jobs.Controller
	ownerID  uuid.UUID
	source   types.Source
	kind     dedup.Kind
	text     string
	hash     string
	filename *string
	location *string

	// documentID is set once the document row exists, for the failure hook.
	documentID uuid.UUID
}

// duplicateError reports that the submission matches an earlier one. It is not a failure.
type duplicateError struct {
	message string
}

func (e *duplicateError) Error() string { return e.message }

// checkDuplicate marks the job duplicate and reports true when the content was seen before.
func (s *Service) checkDuplicate(ctx context.Context, run *steps.Run, in *ingestRun) (bool, error) {
	msg, err := steps.Step(ctx, run, stepCheckDuplicate, func(ctx context.Context) (string, error) {
		prior, err := s.guard.Check(ctx, in.ownerID, in.kind, in.hash, in.c.JobID())
		if err != nil {
			return "", err
		}
		if prior == nil {
			return "", nil
		}
		return prior.Message(), nil
	})
	if err != nil {
		return false, err
	}
	if msg == "" {
		return false, nil
	}
	return true, s.markDuplicate(ctx, in.c, msg)
}

func (s *Service) markDuplicate(ctx context.Context, c *jobs.Controller, msg string) error {
	if err := c.MarkDuplicate(ctx, msg); err != nil {
		return err
	}
	s.logger.Info("duplicate submission", zap.String("job_id", c.JobID().String()), zap.String("message", msg))
	s.emit(c, "", msg)
	return nil
}

// createDocument inserts the document row. A concurrent job that claimed the same
// fingerprint first turns this run into a duplicate.
func (s *Service) createDocument(ctx context.Context, run *steps.Run, in *ingestRun) (*types.Document, error) {
	doc, err := steps.Step(ctx, run, stepCreateDocument, func(ctx context.Context) (*types.Document, error) {
		doc, err := s.store.CreateDocument(ctx, types.DocumentInput{
			OwnerID:         in.ownerID,
			JobID:           in.c.JobID(),
			Source:          in.source,
			Filename:        in.filename,
			StorageLocation: in.location,
			ContentHash:     in.hash,
			RawText:         in.text,
		})
		if errors.Is(err, types.ErrDocumentExists) {
			prior, perr := s.guard.Check(ctx, in.ownerID, in.kind, in.hash, in.c.JobID())
			if perr == nil && prior != nil {
				return nil, &duplicateError{message: prior.Message()}
			}
		}
		return doc, err
	})
	if err != nil {
		return nil, err
	}
	in.documentID = doc.ID
	return doc, nil
}

// ingest runs extraction through completion for a created document.
func (s *Service) ingest(ctx context.Context, run *steps.Run, in *ingestRun, doc *types.Document) error {
	c := in.c

	if err := s.enter(ctx, c, jobs.PhaseExtracting); err != nil {
		return err
	}
	items, err := steps.Step(ctx, run, stepExtractEvidence, func(ctx context.Context) ([]types.EvidenceItem, error) {
		items, err := s.deps.Extractor.ExtractEvidence(ctx, in.text, in.source)
		if errors.Is(err, extraction.ErrEmptyText) {
			return nil, steps.Permanent(err)
		}
		return items, err
	})
	if err != nil {
		return err
	}

	if _, err := steps.Step(ctx, run, stepStoreEvidence, func(ctx context.Context) (int, error) {
		inserted, err := s.store.InsertEvidence(ctx, doc, items)
		if err != nil {
			return 0, fmt.Errorf("failed to store evidence: %w", err)
		}
		if found := foundHighlights(items); len(found) > 0 {
			if err := c.AddHighlights(ctx, found); err != nil {
				return 0, err
			}
			s.emit(c, "", found[len(found)-1].Text)
		}
		return inserted, nil
	}); err != nil {
		return err
	}

	evidence, err := s.store.ListEvidence(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to load evidence: %w", err)
	}

	summary := jobs.IngestionSummary{EvidenceCount: len(evidence), EvidenceByKind: countKinds(evidence)}
	if len(evidence) > 0 {
		res, err := s.synthesize(ctx, run, in, evidence)
		if err != nil {
			return err
		}
		summary.ClaimsCreated, summary.ClaimsUpdated = res.Created, res.Updated

		if err := s.reflect(ctx, run, in); err != nil {
			return err
		}
	}

	if err := s.enter(ctx, c, jobs.PhaseEvaluation); err != nil {
		return err
	}
	if len(evidence) > 0 && summary.EvidenceByKind[string(types.KindAccomplishment)] == 0 {
		job, err := s.store.GetJob(ctx, c.JobID())
		if err != nil {
			return err
		}
		if job.Warning == nil {
			if err := s.warn(ctx, c, WarnNoAccomplishment); err != nil {
				return err
			}
		}
	}
	if err := run.Do(ctx, stepFinalizeDocument, func(ctx context.Context) error {
		return s.store.SetDocumentStatus(ctx, doc.ID, types.DocumentCompleted, nil)
	}); err != nil {
		return err
	}

	if err := c.Complete(ctx, summary, jobs.DocumentArtifact(doc.ID)); err != nil {
		return err
	}
	s.emit(c, "", "completed")
	run.Logger().Info("ingestion completed",
		zap.Int("evidence", summary.EvidenceCount),
		zap.Int("claims_created", summary.ClaimsCreated),
		zap.Int("claims_updated", summary.ClaimsUpdated))
	return nil
}

// synthesize embeds the stored evidence and folds it into claims. Embedding failure is
// fatal; synthesis failure degrades to a warning.
func (s *Service) synthesize(ctx context.Context, run *steps.Run, in *ingestRun, evidence []types.Evidence) (synthesis.Result, error) {
	c := in.c

	if err := s.enter(ctx, c, jobs.PhaseEmbeddings); err != nil {
		return synthesis.Result{}, err
	}
	if _, err := steps.Step(ctx, run, stepEmbedEvidence, func(ctx context.Context) (int, error) {
		return s.embedEvidence(ctx, evidence)
	}); err != nil {
		return synthesis.Result{}, err
	}
	// reload so every row carries its vector, including rows embedded by an earlier attempt
	evidence, err := s.store.ListEvidence(ctx, evidence[0].DocumentID)
	if err != nil {
		return synthesis.Result{}, fmt.Errorf("failed to load evidence: %w", err)
	}

	if err := s.enter(ctx, c, jobs.PhaseSynthesis); err != nil {
		return synthesis.Result{}, err
	}
	return steps.Step(ctx, run, stepSynthesize, func(ctx context.Context) (synthesis.Result, error) {
		var terminal error
		res, err := s.synth.Synthesize(ctx, in.ownerID, evidence, synthesis.Options{
			Threshold: s.deps.SimilarityThreshold,
			OnProgress: func(p synthesis.Progress) {
				if terminal != nil {
					return
				}
				if err := c.UpdateProgress(ctx, fmt.Sprintf("%d/%d", p.Current, p.Total)); errors.Is(err, jobs.ErrJobTerminal) {
					terminal = err
				}
			},
			OnClaim: func(e synthesis.ClaimEvent) {
				if terminal != nil {
					return
				}
				kind := jobs.HighlightCreated
				if e.Action == synthesis.ActionUpdated {
					kind = jobs.HighlightUpdated
				}
				if err := c.AddHighlight(ctx, e.Label, kind); errors.Is(err, jobs.ErrJobTerminal) {
					terminal = err
				}
				s.emit(c, "", e.Label)
			},
		})
		if terminal != nil {
			return res, terminal
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, err
			}
			run.Logger().Warn("claim synthesis failed", zap.Error(err))
			if werr := s.warn(ctx, c, WarnSynthesisPartial); werr != nil {
				return res, werr
			}
		}
		return res, nil
	})
}

func (s *Service) embedEvidence(ctx context.Context, evidence []types.Evidence) (int, error) {
	var (
		ids   []uuid.UUID
		texts []string
	)
	for _, ev := range evidence {
		if len(ev.Embedding) > 0 {
			continue
		}
		ids = append(ids, ev.ID)
		texts = append(texts, ev.Text)
	}
	if len(texts) == 0 {
		return 0, nil
	}
	vectors, err := embedding.Embed(ctx, s.deps.Embedder, texts)
	if err != nil {
		return 0, err
	}
	if err := s.store.SetEvidenceEmbeddings(ctx, ids, vectors); err != nil {
		return 0, fmt.Errorf("failed to store embeddings: %w", err)
	}
	return len(ids), nil
}

// reflect refreshes the identity summary. Failure degrades to a warning.
func (s *Service) reflect(ctx context.Context, run *steps.Run, in *ingestRun) error {
	if s.deps.Reflector == nil {
		return nil
	}
	if err := s.enter(ctx, in.c, jobs.PhaseReflection); err != nil {
		return err
	}
	_, err := steps.Step(ctx, run, stepReflect, func(ctx context.Context) (bool, error) {
		_, err := s.deps.Reflector.Reflect(ctx, in.ownerID)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, reflection.ErrNoClaims):
			return false, nil
		case ctx.Err() != nil:
			return false, err
		}
		run.Logger().Warn("identity summary refresh failed", zap.Error(err))
		return false, s.warn(ctx, in.c, WarnReflectionFailed)
	})
	return err
}

// failDocument marks the run's document failed so a resubmission can reclaim it.
func (s *Service) failDocument(ctx context.Context, in *ingestRun, err error) {
	if in.documentID == uuid.Nil {
		return
	}
	msg := userMessage(err)
	if serr := s.store.SetDocumentStatus(ctx, in.documentID, types.DocumentFailed, &msg); serr != nil {
		s.logger.Warn("failed to mark document failed",
			zap.String("document_id", in.documentID.String()), zap.Error(serr))
	}
}

// finishDuplicate converts a duplicateError from the body into the duplicate outcome.
func (s *Service) finishDuplicate(ctx context.Context, c *jobs.Controller, err error) (bool, error) {
	var dup *duplicateError
	if !errors.As(err, &dup) {
		return false, err
	}
	return true, s.markDuplicate(ctx, c, dup.message)
}

func foundHighlights(items []types.EvidenceItem) []jobs.Highlight {
	var out []jobs.Highlight
	for _, item := range items {
		if len(out) == maxFoundHighlights {
			break
		}
		out = append(out, jobs.Highlight{Text: truncate(item.Text, maxHighlightRunes), Kind: jobs.HighlightFound})
	}
	return out
}

func countKinds(evidence []types.Evidence) map[string]int {
	out := make(map[string]int)
	for _, ev := range evidence {
		out[string(ev.Kind)]++
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

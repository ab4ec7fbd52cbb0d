package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/dedup"
	"github.com/jonathan/identity-pipeline/internal/ingestion"
	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pdf"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/storage"
	"github.com/jonathan/identity-pipeline/internal/types"
)

const stepParsePDF = "parse-pdf"

var resumeSteps = steps.MustRegistry(jobs.TypeResume, append([]steps.StepDefinition{
	{Name: stepParsePDF, Phase: jobs.PhaseParsing},
	{Name: stepCheckDuplicate, Phase: jobs.PhaseParsing, Dependencies: []string{stepParsePDF}},
	{Name: stepCreateDocument, Phase: jobs.PhaseParsing, Dependencies: []string{stepCheckDuplicate}},
}, ingestTail()...)...)

func (s *Service) runResume(ctx context.Context, c *jobs.Controller, ev jobs.ResumeEvent) error {
	filename, location := ev.Filename, ev.StorageLocation
	in := &ingestRun{
		c:        c,
		ownerID:  ev.UserID,
		source:   types.SourceResume,
		kind:     dedup.KindResume,
		filename: &filename,
		location: &location,
	}

	body := func(ctx context.Context, run *steps.Run) error {
		if err := s.enter(ctx, c, jobs.PhaseValidating); err != nil {
			return err
		}
		if s.deps.Files == nil || s.deps.PDF == nil {
			return steps.Permanent(fmt.Errorf("resume parsing is not configured"))
		}

		if err := s.enter(ctx, c, jobs.PhaseParsing); err != nil {
			return err
		}
		text, err := steps.Step(ctx, run, stepParsePDF, func(ctx context.Context) (string, error) {
			return s.parseResume(ctx, location)
		})
		if err != nil {
			return err
		}
		in.text = text
		// the fingerprint covers parsed text, so a re-exported PDF of the same resume still dedups
		in.hash = dedup.TextFingerprint(text)
		run.Logger().Debug("resume parsed", zap.Int("chars", len(text)))

		if dup, err := s.checkDuplicate(ctx, run, in); dup || err != nil {
			return err
		}
		doc, err := s.createDocument(ctx, run, in)
		if dup, err := s.finishDuplicate(ctx, c, err); dup || err != nil {
			return err
		}
		return s.ingest(ctx, run, in, doc)
	}

	return s.execute(ctx, c, resumeSteps, body, func(ctx context.Context, err error) {
		s.failDocument(ctx, in, err)
	})
}

// parseResume fetches the upload and returns its cleaned text. Errors that no retry can
// fix are permanent.
func (s *Service) parseResume(ctx context.Context, location string) (string, error) {
	data, err := s.deps.Files.Fetch(ctx, location)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrOutsideRoot) ||
			errors.Is(err, storage.ErrUnsupportedScheme) || errors.Is(err, storage.ErrTooLarge) {
			return "", steps.Permanent(err)
		}
		return "", fmt.Errorf("failed to fetch resume: %w", err)
	}

	raw, err := s.deps.PDF.ExtractText(ctx, data)
	if err != nil {
		if errors.Is(err, pdf.ErrNotPDF) || errors.Is(err, pdf.ErrNoText) || errors.Is(err, pdf.ErrTooLarge) {
			return "", steps.Permanent(err)
		}
		return "", fmt.Errorf("failed to parse resume: %w", err)
	}
	text := ingestion.CleanText(raw)
	if text == "" {
		return "", steps.Permanent(pdf.ErrNoText)
	}
	return text, nil
}

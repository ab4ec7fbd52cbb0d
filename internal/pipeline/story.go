package pipeline

import (
	"context"
	"errors"

	"github.com/jonathan/identity-pipeline/internal/dedup"
	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/types"
)

var storySteps = steps.MustRegistry(jobs.TypeStory, append([]steps.StepDefinition{
	{Name: stepCheckDuplicate, Phase: jobs.PhaseValidating},
	{Name: stepCreateDocument, Phase: jobs.PhaseValidating, Dependencies: []string{stepCheckDuplicate}},
}, ingestTail()...)...)

// ErrHashMismatch is returned when a story's content hash does not match its text.
var ErrHashMismatch = errors.New("content hash does not match story text")

func (s *Service) runStory(ctx context.Context, c *jobs.Controller, ev jobs.StoryEvent) error {
	in := &ingestRun{
		c:       c,
		ownerID: ev.UserID,
		source:  types.SourceStory,
		kind:    dedup.KindStory,
		text:    ev.Text,
		hash:    ev.ContentHash,
	}

	body := func(ctx context.Context, run *steps.Run) error {
		if err := s.enter(ctx, c, jobs.PhaseValidating); err != nil {
			return err
		}
		if dedup.TextFingerprint(ev.Text) != ev.ContentHash {
			return steps.Permanent(ErrHashMismatch)
		}
		if dup, err := s.checkDuplicate(ctx, run, in); dup || err != nil {
			return err
		}
		doc, err := s.createDocument(ctx, run, in)
		if dup, err := s.finishDuplicate(ctx, c, err); dup || err != nil {
			return err
		}
		return s.ingest(ctx, run, in, doc)
	}

	return s.execute(ctx, c, storySteps, body, func(ctx context.Context, err error) {
		s.failDocument(ctx, in, err)
	})
}

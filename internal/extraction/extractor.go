// Package extraction turns resume, story and job posting text into structured evidence
// and requirements using an LLM.
package extraction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/prompts"
	"github.com/jonathan/identity-pipeline/internal/schemas"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// LLM is the slice of llm.Client the extractor needs.
type LLM interface {
	GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
}

// resumePasses run concurrently; results are concatenated in this order.
var resumePasses = []string{"resume-accomplishments", "resume-skills", "resume-traits"}

// Extractor runs the extraction prompts.
type Extractor struct {
	llm    LLM
	logger *zap.Logger
}

// New creates an extractor.
func New(client LLM, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{llm: client, logger: logger}
}

// ExtractEvidence extracts evidence items from a document. Resumes fan out into three
// concurrent passes; stories use a single pass. Any failed pass fails the extraction.
func (e *Extractor) ExtractEvidence(ctx context.Context, text string, source types.Source) ([]types.EvidenceItem, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if source != types.SourceResume {
		items, err := e.runPass(ctx, "story-evidence", text)
		if err != nil {
			return nil, err
		}
		return normalizeItems(items), nil
	}

	results := make([][]types.EvidenceItem, len(resumePasses))
	g, gctx := errgroup.WithContext(ctx)
	for i, pass := range resumePasses {
		g.Go(func() error {
			items, err := e.runPass(gctx, pass, text)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []types.EvidenceItem
	for _, items := range results {
		all = append(all, items...)
	}
	items := normalizeItems(all)
	e.logger.Debug("extracted resume evidence", zap.Int("items", len(items)))
	return items, nil
}

func (e *Extractor) runPass(ctx context.Context, pass, text string) ([]types.EvidenceItem, error) {
	prompt, err := prompts.Render("extraction.json", pass, map[string]string{"Text": text})
	if err != nil {
		return nil, err
	}
	raw, err := e.llm.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, &APICallError{Pass: pass, Cause: err}
	}

	cleaned := llm.CleanJSONBlock(raw)
	if err := schemas.Validate(schemas.EvidenceItems, []byte(cleaned)); err != nil {
		return nil, &ParseError{Pass: pass, Message: "response does not match schema", Cause: err}
	}
	var out struct {
		Items []types.EvidenceItem `json:"items"`
	}
	if err := llm.DecodeJSON(cleaned, &out); err != nil {
		return nil, &ParseError{Pass: pass, Message: "failed to decode response", Cause: err}
	}
	return out.Items, nil
}

// ExtractPosting extracts the structure of a job posting. A model call failure is
// returned as an error. Unparseable output returns an empty posting together with an
// error wrapping ErrPostingParse.
func (e *Extractor) ExtractPosting(ctx context.Context, text string) (*types.Posting, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	prompt, err := prompts.Render("extraction.json", "job-posting", map[string]string{"Text": text})
	if err != nil {
		return nil, err
	}
	raw, err := e.llm.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, &APICallError{Pass: "job-posting", Cause: err}
	}

	empty := &types.Posting{MustHave: []types.Requirement{}, NiceToHave: []types.Requirement{}, Responsibilities: []string{}}
	cleaned := llm.CleanJSONBlock(raw)
	if err := schemas.Validate(schemas.Posting, []byte(cleaned)); err != nil {
		e.logger.Warn("posting output failed schema validation", zap.Error(err))
		return empty, &ParseError{Pass: "job-posting", Message: "response does not match schema", Cause: fmt.Errorf("%w: %w", ErrPostingParse, err)}
	}
	var posting types.Posting
	if err := llm.DecodeJSON(cleaned, &posting); err != nil {
		return empty, &ParseError{Pass: "job-posting", Message: "failed to decode response", Cause: fmt.Errorf("%w: %w", ErrPostingParse, err)}
	}

	seen := make(map[string]bool)
	posting.Title = cleanSentence(posting.Title)
	posting.Company = cleanSentence(posting.Company)
	posting.MustHave = normalizeRequirements(posting.MustHave, seen)
	posting.NiceToHave = normalizeRequirements(posting.NiceToHave, seen)
	resp := make([]string, 0, len(posting.Responsibilities))
	for _, r := range posting.Responsibilities {
		if r = cleanSentence(r); r != "" {
			resp = append(resp, r)
		}
	}
	posting.Responsibilities = resp
	return &posting, nil
}

// Package tailoring generates talking points, a narrative and resume data for one
// opportunity from the owner's claims.
package tailoring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/prompts"
	"github.com/jonathan/identity-pipeline/internal/schemas"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// maxPromptClaims bounds how many claims go into one prompt.
const maxPromptClaims = 40

// ErrNoClaims is returned when there is nothing to tailor from.
var ErrNoClaims = errors.New("no claims to tailor from")

// Generator produces the three tailored artifacts.
type Generator interface {
	TalkingPoints(ctx context.Context, opp *types.Opportunity, claims []types.Claim) ([]types.TalkingPoint, error)
	Narrative(ctx context.Context, opp *types.Opportunity, points []types.TalkingPoint) (string, error)
	ResumeData(ctx context.Context, opp *types.Opportunity, claims []types.Claim) (*types.ResumeData, error)
}

// LLM is the slice of llm.Client used for generation.
type LLM interface {
	GenerateContent(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
	GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
}

// GenerationError reports a failed generation step.
type GenerationError struct {
	Artifact string
	Cause    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("failed to generate %s: %v", e.Artifact, e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// LLMGenerator implements Generator with prompt templates.
type LLMGenerator struct {
	llm    LLM
	logger *zap.Logger
}

// NewGenerator creates an LLM-backed Generator.
func NewGenerator(client LLM, logger *zap.Logger) *LLMGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMGenerator{llm: client, logger: logger}
}

// TalkingPoints maps requirements to claims. Labels the model invents are dropped, and
// points left with no supporting claim are discarded.
func (g *LLMGenerator) TalkingPoints(ctx context.Context, opp *types.Opportunity, claims []types.Claim) ([]types.TalkingPoint, error) {
	if len(claims) == 0 {
		return nil, ErrNoClaims
	}
	top := types.TopClaims(claims, maxPromptClaims)
	prompt, err := prompts.Render("tailoring.json", "talking-points", map[string]string{
		"Title":        opp.Title,
		"Company":      opp.Company,
		"Requirements": FormatRequirements(opp.Requirements),
		"Claims":       types.FormatClaims(top),
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		TalkingPoints []types.TalkingPoint `json:"talking_points"`
	}
	if err := g.generateJSON(ctx, "talking points", schemas.TalkingPoints, prompt, &out); err != nil {
		return nil, err
	}

	known := make(map[string]string, len(claims))
	for _, c := range claims {
		known[strings.ToLower(c.Label)] = c.Label
	}
	points := make([]types.TalkingPoint, 0, len(out.TalkingPoints))
	for _, p := range out.TalkingPoints {
		var labels []string
		for _, l := range p.ClaimLabels {
			if label, ok := known[strings.ToLower(strings.TrimSpace(l))]; ok {
				labels = append(labels, label)
			}
		}
		if len(labels) == 0 {
			g.logger.Debug("dropping ungrounded talking point", zap.String("point", p.Point))
			continue
		}
		p.Point = strings.TrimSpace(p.Point)
		p.ClaimLabels = labels
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, &GenerationError{Artifact: "talking points", Cause: errors.New("no talking point cites a known claim")}
	}
	return points, nil
}

// Narrative writes the first-person introduction.
func (g *LLMGenerator) Narrative(ctx context.Context, opp *types.Opportunity, points []types.TalkingPoint) (string, error) {
	var b strings.Builder
	for _, p := range points {
		fmt.Fprintf(&b, "- %s\n", p.Point)
	}
	prompt, err := prompts.Render("tailoring.json", "narrative", map[string]string{
		"Title":         opp.Title,
		"Company":       opp.Company,
		"TalkingPoints": strings.TrimRight(b.String(), "\n"),
	})
	if err != nil {
		return "", err
	}
	text, err := g.llm.GenerateContent(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return "", &GenerationError{Artifact: "narrative", Cause: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &GenerationError{Artifact: "narrative", Cause: errors.New("empty response")}
	}
	return text, nil
}

// ResumeData builds the structured resume.
func (g *LLMGenerator) ResumeData(ctx context.Context, opp *types.Opportunity, claims []types.Claim) (*types.ResumeData, error) {
	if len(claims) == 0 {
		return nil, ErrNoClaims
	}
	prompt, err := prompts.Render("tailoring.json", "resume-data", map[string]string{
		"Title":        opp.Title,
		"Company":      opp.Company,
		"Requirements": FormatRequirements(opp.Requirements),
		"Claims":       types.FormatClaims(types.TopClaims(claims, maxPromptClaims)),
	})
	if err != nil {
		return nil, err
	}
	var data types.ResumeData
	if err := g.generateJSON(ctx, "resume data", schemas.ResumeData, prompt, &data); err != nil {
		return nil, err
	}
	if data.Skills == nil {
		data.Skills = []string{}
	}
	return &data, nil
}

func (g *LLMGenerator) generateJSON(ctx context.Context, artifact, schema, prompt string, v any) error {
	raw, err := g.llm.GenerateJSON(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return &GenerationError{Artifact: artifact, Cause: err}
	}
	cleaned := llm.CleanJSONBlock(raw)
	if err := schemas.Validate(schema, []byte(cleaned)); err != nil {
		return &GenerationError{Artifact: artifact, Cause: err}
	}
	if err := llm.DecodeJSON(cleaned, v); err != nil {
		return &GenerationError{Artifact: artifact, Cause: err}
	}
	return nil
}

// FormatRequirements renders requirements one per line, must-haves marked.
func FormatRequirements(reqs []types.Requirement) string {
	if len(reqs) == 0 {
		return "(none listed)"
	}
	var b strings.Builder
	for _, r := range reqs {
		tag := "nice to have"
		if r.Priority == types.MustHave {
			tag = "must have"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", tag, r.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Package evaluation checks a tailored profile against the claims it was generated from.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/prompts"
	"github.com/jonathan/identity-pipeline/internal/schemas"
	"github.com/jonathan/identity-pipeline/internal/tailoring"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// SampleSize is the number of claims shown to the grader.
const SampleSize = 40

// Evaluator grades a tailored profile.
type Evaluator interface {
	Evaluate(ctx context.Context, profile *types.TailoredProfile, opp *types.Opportunity, claims []types.Claim) (*types.Evaluation, error)
}

// LLM is the slice of llm.Client the grader needs.
type LLM interface {
	GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
	GetModel(tier llm.ModelTier) string
}

// Telemetry describes the grading call.
type Telemetry struct {
	Model         string `json:"model"`
	LatencyMs     int64  `json:"latency_ms"`
	PromptChars   int    `json:"prompt_chars"`
	ResponseChars int    `json:"response_chars"`
	Claims        int    `json:"claims"`
	Ungrounded    int    `json:"ungrounded"`
}

type verdict struct {
	Passed              bool     `json:"passed"`
	Hallucinations      []string `json:"hallucinations"`
	Gaps                []string `json:"gaps"`
	MissedOpportunities []string `json:"missed_opportunities"`
}

// Grader combines the keyword grounding check with an LLM review.
type Grader struct {
	llm    LLM
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Grader.
func New(client LLM, logger *zap.Logger) *Grader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Grader{llm: client, logger: logger, now: time.Now}
}

// Evaluate runs FindUngrounded over the generated statements, then asks the model for a
// verdict and merges both sets of flags.
func (g *Grader) Evaluate(ctx context.Context, profile *types.TailoredProfile, opp *types.Opportunity, claims []types.Claim) (*types.Evaluation, error) {
	sample := types.TopClaims(claims, SampleSize)
	statements := profileStatements(profile)
	ungrounded := FindUngrounded(statements, sample)

	prompt, err := prompts.Render("evaluation.json", "grounding-check", map[string]string{
		"Requirements": tailoring.FormatRequirements(opp.Requirements),
		"Claims":       types.FormatClaims(sample),
		"Artifact":     formatArtifact(profile),
	})
	if err != nil {
		return nil, err
	}

	start := g.now()
	raw, err := g.llm.GenerateJSON(ctx, prompt, llm.TierAdvanced)
	tel := Telemetry{
		Model:         g.llm.GetModel(llm.TierAdvanced),
		LatencyMs:     g.now().Sub(start).Milliseconds(),
		PromptChars:   len(prompt),
		ResponseChars: len(raw),
		Claims:        len(sample),
		Ungrounded:    len(ungrounded),
	}
	g.logger.Debug("evaluation call finished",
		zap.String("model", tel.Model),
		zap.Int64("latency_ms", tel.LatencyMs),
		zap.Error(err))
	if err != nil {
		return nil, fmt.Errorf("evaluation call failed: %w", err)
	}

	cleaned := llm.CleanJSONBlock(raw)
	if err := schemas.Validate(schemas.Evaluation, []byte(cleaned)); err != nil {
		return nil, err
	}
	var v verdict
	if err := llm.DecodeJSON(cleaned, &v); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation: %w", err)
	}

	hallucinations := merge(v.Hallucinations, ungrounded)
	telJSON, err := json.Marshal(tel)
	if err != nil {
		return nil, fmt.Errorf("failed to encode telemetry: %w", err)
	}
	return &types.Evaluation{
		TailoredProfileID:   profile.ID,
		Passed:              v.Passed && len(hallucinations) == 0,
		Hallucinations:      hallucinations,
		Gaps:                merge(v.Gaps, nil),
		MissedOpportunities: merge(v.MissedOpportunities, nil),
		StyleIssues:         merge(CheckStyle(&profile.Resume), nil),
		Telemetry:           telJSON,
	}, nil
}

func profileStatements(p *types.TailoredProfile) []string {
	out := p.Resume.Statements()
	for _, tp := range p.TalkingPoints {
		out = append(out, tp.Point)
	}
	return out
}

func formatArtifact(p *types.TailoredProfile) string {
	var b strings.Builder
	b.WriteString("Narrative:\n")
	b.WriteString(p.Narrative)
	b.WriteString("\n\nResume:\n")
	for _, s := range p.Resume.Statements() {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	if len(p.Resume.Skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(p.Resume.Skills, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// merge concatenates lists, dropping blanks and case-insensitive duplicates.
func merge(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			key := strings.ToLower(s)
			if s == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}

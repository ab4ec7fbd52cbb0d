// Package research briefs the candidate on the hiring company and scores how well the
// owner's claims cover a posting's requirements.
package research

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

// maxPostingRunes bounds the posting text sent with the research prompt.
const maxPostingRunes = 12000

// ErrNoCompany is returned when the posting names no company.
var ErrNoCompany = errors.New("posting names no company")

// LLM generates JSON.
type LLM interface {
	GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
}

// Researcher produces company briefs.
type Researcher struct {
	llm    LLM
	logger *zap.Logger
}

// New creates a Researcher.
func New(client LLM, logger *zap.Logger) *Researcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Researcher{llm: client, logger: logger}
}

// Company researches the opportunity's company from the posting text.
func (r *Researcher) Company(ctx context.Context, opp *types.Opportunity) (*types.CompanyResearch, error) {
	company := strings.TrimSpace(opp.Company)
	if company == "" {
		return nil, ErrNoCompany
	}
	prompt, err := prompts.Render("research.json", "company-research", map[string]string{
		"Company": company,
		"Posting": llm.Truncate(opp.Description, maxPostingRunes),
	})
	if err != nil {
		return nil, err
	}
	raw, err := r.llm.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return nil, fmt.Errorf("company research failed: %w", err)
	}

	cleaned := llm.CleanJSONBlock(raw)
	if err := schemas.Validate(schemas.CompanyResearch, []byte(cleaned)); err != nil {
		return nil, err
	}
	var out types.CompanyResearch
	if err := llm.DecodeJSON(cleaned, &out); err != nil {
		return nil, fmt.Errorf("failed to decode company research: %w", err)
	}
	if out.Company == "" {
		out.Company = company
	}
	out.Products = compact(out.Products)
	out.Culture = compact(out.Culture)
	out.RecentSignals = compact(out.RecentSignals)
	r.logger.Debug("company researched", zap.String("company", out.Company))
	return &out, nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Package reflection refreshes an owner's identity summary from their claims.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/prompts"
	"github.com/jonathan/identity-pipeline/internal/schemas"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// maxClaims bounds the prompt size.
const maxClaims = 60

// ErrNoClaims is returned when the owner has nothing to summarize.
var ErrNoClaims = errors.New("owner has no claims")

// Store loads claims and persists the summary.
type Store interface {
	ListClaims(ctx context.Context, ownerID uuid.UUID) ([]types.Claim, error)
	UpsertIdentitySummary(ctx context.Context, s *types.IdentitySummary) error
}

// LLM generates JSON.
type LLM interface {
	GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
}

// Reflector builds identity summaries.
type Reflector struct {
	store  Store
	llm    LLM
	logger *zap.Logger
}

// New creates a Reflector.
func New(store Store, client LLM, logger *zap.Logger) *Reflector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reflector{store: store, llm: client, logger: logger}
}

// Reflect regenerates and stores the owner's identity summary.
func (r *Reflector) Reflect(ctx context.Context, ownerID uuid.UUID) (*types.IdentitySummary, error) {
	claims, err := r.store.ListClaims(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load claims: %w", err)
	}
	if len(claims) == 0 {
		return nil, ErrNoClaims
	}

	prompt, err := prompts.Render("identity.json", "reflect-identity", map[string]string{
		"Claims": types.FormatClaims(types.TopClaims(claims, maxClaims)),
	})
	if err != nil {
		return nil, err
	}
	raw, err := r.llm.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, fmt.Errorf("identity summary generation failed: %w", err)
	}

	cleaned := llm.CleanJSONBlock(raw)
	if err := schemas.Validate(schemas.IdentitySummary, []byte(cleaned)); err != nil {
		return nil, err
	}
	var summary types.IdentitySummary
	if err := llm.DecodeJSON(cleaned, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode identity summary: %w", err)
	}
	summary.OwnerID = ownerID
	summary.Keywords = normalizeKeywords(summary.Keywords)

	if err := r.store.UpsertIdentitySummary(ctx, &summary); err != nil {
		return nil, fmt.Errorf("failed to save identity summary: %w", err)
	}
	r.logger.Debug("identity summary refreshed",
		zap.String("owner_id", ownerID.String()),
		zap.Int("claims", len(claims)))
	return &summary, nil
}

func normalizeKeywords(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

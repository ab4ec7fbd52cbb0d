// Package synthesis folds stored evidence into the owner's identity claims.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/types"
)

// DefaultThreshold is the cosine similarity at which evidence merges into an existing claim.
const DefaultThreshold = 0.85

const (
	maxLabelRunes       = 80
	maxDescriptionRunes = 2000
)

// ClaimStore is the persistence surface synthesis needs.
type ClaimStore interface {
	SimilarClaims(ctx context.Context, ownerID uuid.UUID, vector []float32, threshold float64, limit int) ([]types.ScoredClaim, error)
	CreateClaim(ctx context.Context, c *types.Claim) (*types.Claim, error)
	UpdateClaim(ctx context.Context, id uuid.UUID, description string, confidence float64) error
	LinkEvidence(ctx context.Context, claimID, evidenceID uuid.UUID, strength types.Strength) (bool, error)
	EvidenceLinked(ctx context.Context, evidenceID uuid.UUID) (bool, error)
}

// Action records what happened to a claim for one evidence item.
type Action string

// Claim actions
const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// Progress is reported after every evidence item.
type Progress struct {
	Current int
	Total   int
}

// ClaimEvent is reported for every claim created or updated.
type ClaimEvent struct {
	Label  string
	Action Action
}

// Options configures one synthesis run.
type Options struct {
	Threshold  float64
	OnProgress func(Progress)
	OnClaim    func(ClaimEvent)
}

// Result counts the claims touched by a run.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// PartialError reports items that could not be folded in. The run still processed the rest.
type PartialError struct {
	Failed int
	Total  int
	First  error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("synthesis failed for %d of %d evidence items: %v", e.Failed, e.Total, e.First)
}

func (e *PartialError) Unwrap() error {
	return e.First
}

// ErrNoEmbedding is returned for evidence that was never embedded.
var ErrNoEmbedding = errors.New("evidence has no embedding")

// Synthesizer merges evidence into claims.
type Synthesizer struct {
	store  ClaimStore
	logger *zap.Logger
}

// New creates a Synthesizer.
func New(store ClaimStore, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{store: store, logger: logger}
}

// Synthesize processes evidence in order. Context cancellation aborts the run; store
// failures on single items are collected into a PartialError.
func (s *Synthesizer) Synthesize(ctx context.Context, ownerID uuid.UUID, evidence []types.Evidence, opts Options) (Result, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var (
		res   Result
		first error
	)
	for i, ev := range evidence {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		label, action, err := s.fold(ctx, ownerID, ev, threshold)
		switch {
		case err != nil:
			res.Failed++
			if first == nil {
				first = err
			}
			s.logger.Warn("synthesis item failed",
				zap.String("evidence_id", ev.ID.String()),
				zap.Error(err))
		case action == ActionCreated:
			res.Created++
		case action == ActionUpdated:
			res.Updated++
		default:
			res.Skipped++
		}

		if err == nil && action != ActionSkipped && opts.OnClaim != nil {
			opts.OnClaim(ClaimEvent{Label: label, Action: action})
		}
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Current: i + 1, Total: len(evidence)})
		}
	}

	if res.Failed > 0 {
		return res, &PartialError{Failed: res.Failed, Total: len(evidence), First: first}
	}
	return res, nil
}

func (s *Synthesizer) fold(ctx context.Context, ownerID uuid.UUID, ev types.Evidence, threshold float64) (string, Action, error) {
	linked, err := s.store.EvidenceLinked(ctx, ev.ID)
	if err != nil {
		return "", "", fmt.Errorf("check evidence link: %w", err)
	}
	if linked {
		return "", ActionSkipped, nil
	}
	if len(ev.Embedding) == 0 {
		return "", "", fmt.Errorf("evidence %s: %w", ev.ID, ErrNoEmbedding)
	}

	matches, err := s.store.SimilarClaims(ctx, ownerID, ev.Embedding, threshold, 1)
	if err != nil {
		return "", "", fmt.Errorf("search claims: %w", err)
	}

	if len(matches) > 0 {
		// the link is the idempotency key: only the attempt that inserts it bumps the claim
		best := matches[0]
		inserted, err := s.store.LinkEvidence(ctx, best.ID, ev.ID, StrengthFor(best.Similarity))
		if err != nil {
			return "", "", fmt.Errorf("link evidence: %w", err)
		}
		if !inserted {
			return "", ActionSkipped, nil
		}
		desc := MergeDescription(best.Description, ev.Text)
		if err := s.store.UpdateClaim(ctx, best.ID, desc, BumpConfidence(best.Confidence)); err != nil {
			return "", "", fmt.Errorf("update claim %s: %w", best.ID, err)
		}
		return best.Label, ActionUpdated, nil
	}

	claim, err := s.store.CreateClaim(ctx, &types.Claim{
		OwnerID:     ownerID,
		Type:        types.ClaimTypeFor(ev.Kind),
		Label:       Label(ev.Text),
		Description: strings.TrimSpace(ev.Text),
		Confidence:  InitialConfidence(ev.Kind),
		Embedding:   ev.Embedding,
	})
	if err != nil {
		return "", "", fmt.Errorf("create claim: %w", err)
	}
	if _, err := s.store.LinkEvidence(ctx, claim.ID, ev.ID, types.StrengthStrong); err != nil {
		return "", "", fmt.Errorf("link evidence: %w", err)
	}
	return claim.Label, ActionCreated, nil
}

// BumpConfidence moves c a tenth of the way towards 1.
func BumpConfidence(c float64) float64 {
	next := c + 0.1*(1-c)
	if next > 1 {
		return 1
	}
	return next
}

// InitialConfidence is the confidence of a claim created from one item of kind.
func InitialConfidence(kind types.EvidenceKind) float64 {
	switch kind {
	case types.KindCertification, types.KindEducation:
		return 0.8
	case types.KindAccomplishment:
		return 0.7
	case types.KindSkillListed:
		return 0.6
	default:
		return 0.5
	}
}

// StrengthFor grades a merged link by how close the match was.
func StrengthFor(similarity float64) types.Strength {
	switch {
	case similarity >= 0.95:
		return types.StrengthStrong
	case similarity >= 0.9:
		return types.StrengthMedium
	default:
		return types.StrengthWeak
	}
}

// MergeDescription appends text unless the description already mentions it.
func MergeDescription(description, text string) string {
	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(strings.ToLower(description), strings.ToLower(text)) {
		return description
	}
	merged := text
	if description != "" {
		merged = description + "\n" + text
	}
	r := []rune(merged)
	if len(r) > maxDescriptionRunes {
		// keep the newest material
		merged = string(r[len(r)-maxDescriptionRunes:])
	}
	return merged
}

// Label derives a short claim label from evidence text: first sentence, at most 80 runes.
func Label(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	for _, sep := range []string{". ", "; "} {
		if i := strings.Index(text, sep); i > 0 {
			text = text[:i]
		}
	}
	r := []rune(text)
	if len(r) > maxLabelRunes {
		r = r[:maxLabelRunes]
		if cut := lastSpace(r); cut > maxLabelRunes/2 {
			r = r[:cut]
		}
	}
	return strings.TrimRightFunc(string(r), func(c rune) bool {
		return unicode.IsSpace(c) || unicode.IsPunct(c)
	})
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == ' ' {
			return i
		}
	}
	return -1
}

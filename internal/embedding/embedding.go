// Package embedding turns evidence and requirement text into vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/generative-ai-go/genai"

	"github.com/jonathan/identity-pipeline/internal/types"
)

// DefaultModel is the Gemini embedding model.
const DefaultModel = "text-embedding-004"

// maxBatch is the provider's per-request limit.
const maxBatch = 100

// ErrLengthMismatch is returned when a provider returns a different number of vectors than inputs.
var ErrLengthMismatch = errors.New("embedding count does not match input count")

// Embedder embeds texts. The result has one vector per input, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GeminiEmbedder embeds with a Gemini embedding model.
type GeminiEmbedder struct {
	model *genai.EmbeddingModel
	name  string
}

// NewGeminiEmbedder creates an embedder over an existing genai client.
func NewGeminiEmbedder(client *genai.Client, model string) *GeminiEmbedder {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiEmbedder{model: client.EmbeddingModel(model), name: model}
}

// EmbedBatch implements Embedder.
func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))

		batch := g.model.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		resp, err := g.model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to embed with %s: %w", g.name, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("%w: got %d for %d", ErrLengthMismatch, len(resp.Embeddings), end-start)
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

// Embed is EmbedBatch for a known-length input that also checks the result length.
func Embed(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d", ErrLengthMismatch, len(vectors), len(texts))
	}
	return vectors, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty, zero, or
// the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RankClaims scores embedded claims against vector and keeps those at or above threshold,
// most similar first. limit <= 0 keeps all.
func RankClaims(claims []types.Claim, vector []float32, threshold float64, limit int) []types.ScoredClaim {
	var scored []types.ScoredClaim
	for _, c := range claims {
		if len(c.Embedding) == 0 {
			continue
		}
		sim := Cosine(vector, c.Embedding)
		if sim >= threshold {
			scored = append(scored, types.ScoredClaim{Claim: c, Similarity: sim})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

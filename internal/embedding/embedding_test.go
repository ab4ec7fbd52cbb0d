package embedding

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/identity-pipeline/internal/types"
)

type countingEmbedder struct {
	seen  [][]string
	short bool
	err   error
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.seen = append(c.seen, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, []float32{float32(len(t)), 1})
	}
	if c.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"dimension mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestEmbed_LengthMismatch(t *testing.T) {
	_, err := Embed(context.Background(), &countingEmbedder{short: true}, []string{"a", "bb"})
	require.ErrorIs(t, err, ErrLengthMismatch)

	vectors, err := Embed(context.Background(), &countingEmbedder{}, nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestCache_EmbedsOnlyMisses(t *testing.T) {
	next := &countingEmbedder{}
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache", "embeddings.db"), "test-model", next, nil)
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	ctx := context.Background()
	first, err := cache.EmbedBatch(ctx, []string{"go", "rust"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {4, 1}}, first)

	second, err := cache.EmbedBatch(ctx, []string{"python", "go", "rust"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{6, 1}, {2, 1}, {4, 1}}, second)

	require.Len(t, next.seen, 2)
	assert.Equal(t, []string{"python"}, next.seen[1])

	_, err = cache.EmbedBatch(ctx, []string{"go"})
	require.NoError(t, err)
	assert.Len(t, next.seen, 2, "fully cached batch must not call the provider")
}

func TestCache_ProviderError(t *testing.T) {
	next := &countingEmbedder{err: errors.New("quota exceeded")}
	cache, err := OpenCache(filepath.Join(t.TempDir(), "embeddings.db"), "m", next, nil)
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	_, err = cache.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0, -1.5, float32(math.Pi), math.MaxFloat32}
	got, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestRankClaims(t *testing.T) {
	claims := []types.Claim{
		{Label: "far", Embedding: []float32{0, 1}},
		{Label: "none"},
		{Label: "close", Embedding: []float32{1, 0.1}},
		{Label: "exact", Embedding: []float32{1, 0}},
	}

	got := RankClaims(claims, []float32{1, 0}, 0.9, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].Label)
	assert.Equal(t, "close", got[1].Label)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)

	assert.Len(t, RankClaims(claims, []float32{1, 0}, 0.9, 1), 1)
	assert.Empty(t, RankClaims(claims, []float32{-1, 0}, 0.5, 0))
}

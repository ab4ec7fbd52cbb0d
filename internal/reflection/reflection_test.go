package reflection

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/schemas"
	"github.com/jonathan/identity-pipeline/internal/types"
)

type fakeStore struct {
	claims []types.Claim
	saved  *types.IdentitySummary
}

func (f *fakeStore) ListClaims(context.Context, uuid.UUID) ([]types.Claim, error) {
	return f.claims, nil
}

func (f *fakeStore) UpsertIdentitySummary(_ context.Context, s *types.IdentitySummary) error {
	f.saved = s
	return nil
}

type fakeLLM struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeLLM) GenerateJSON(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func TestReflect(t *testing.T) {
	owner := uuid.New()
	store := &fakeStore{claims: []types.Claim{{Label: "Go", Description: "Writes Go services", Confidence: 0.8}}}
	model := &fakeLLM{reply: "```json\n" + `{"headline":"Backend engineer","bio":"Builds Go services.","archetype":"Builder","keywords":["Go"," go ","Postgres"]}` + "\n```"}

	summary, err := New(store, model, nil).Reflect(context.Background(), owner)
	require.NoError(t, err)

	assert.Equal(t, owner, summary.OwnerID)
	assert.Equal(t, "Backend engineer", summary.Headline)
	assert.Equal(t, []string{"go", "postgres"}, summary.Keywords)
	assert.Same(t, summary, store.saved)
	assert.True(t, strings.Contains(model.prompt, "- Go: Writes Go services (0.80)"))
}

func TestReflect_Errors(t *testing.T) {
	claims := []types.Claim{{Label: "Go", Confidence: 0.5}}

	t.Run("no claims", func(t *testing.T) {
		_, err := New(&fakeStore{}, &fakeLLM{}, nil).Reflect(context.Background(), uuid.New())
		assert.ErrorIs(t, err, ErrNoClaims)
	})

	t.Run("model failure", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := New(&fakeStore{claims: claims}, &fakeLLM{err: boom}, nil).Reflect(context.Background(), uuid.New())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("schema mismatch", func(t *testing.T) {
		store := &fakeStore{claims: claims}
		_, err := New(store, &fakeLLM{reply: `{"headline":""}`}, nil).Reflect(context.Background(), uuid.New())
		var verr *schemas.ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Nil(t, store.saved)
	})
}

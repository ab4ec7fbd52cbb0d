package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/identity-pipeline/internal/types"
)

type fakeLookup struct {
	docs map[string]*types.Document
	opps map[string]*types.Opportunity
}

func (f *fakeLookup) FindDocumentByHash(_ context.Context, ownerID uuid.UUID, hash string) (*types.Document, error) {
	if d, ok := f.docs[ownerID.String()+hash]; ok {
		return d, nil
	}
	return nil, nil
}

func (f *fakeLookup) FindOpportunityByHash(_ context.Context, ownerID uuid.UUID, hash string) (*types.Opportunity, error) {
	if o, ok := f.opps[ownerID.String()+hash]; ok {
		return o, nil
	}
	return nil, nil
}

func TestGuard_Check(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()
	other := uuid.New()
	priorJob := uuid.New()
	thisJob := uuid.New()
	created := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	filename := "resume.pdf"
	hash := TextFingerprint("some story")

	lookup := &fakeLookup{
		docs: map[string]*types.Document{
			owner.String() + hash: {ID: uuid.New(), OwnerID: owner, JobID: &priorJob, Filename: &filename, Status: types.DocumentCompleted, CreatedAt: created},
		},
		opps: map[string]*types.Opportunity{
			owner.String() + "opphash": {ID: uuid.New(), OwnerID: owner, JobID: &priorJob, Title: "Staff Engineer", Company: "Acme", CreatedAt: created},
		},
	}
	guard := NewGuard(lookup)

	t.Run("story duplicate", func(t *testing.T) {
		prior, err := guard.Check(ctx, owner, KindStory, hash, thisJob)
		require.NoError(t, err)
		require.NotNil(t, prior)
		assert.Equal(t, "Duplicate story: you already submitted this story on Mar 14, 2025", prior.Message())
	})

	t.Run("resume duplicate names the file", func(t *testing.T) {
		prior, err := guard.Check(ctx, owner, KindResume, hash, thisJob)
		require.NoError(t, err)
		require.NotNil(t, prior)
		assert.Contains(t, prior.Message(), `Duplicate resume: "resume.pdf"`)
	})

	t.Run("scoped to owner", func(t *testing.T) {
		prior, err := guard.Check(ctx, other, KindStory, hash, thisJob)
		require.NoError(t, err)
		assert.Nil(t, prior)
	})

	t.Run("own record is not a duplicate", func(t *testing.T) {
		prior, err := guard.Check(ctx, owner, KindStory, hash, priorJob)
		require.NoError(t, err)
		assert.Nil(t, prior)
	})

	t.Run("opportunity duplicate", func(t *testing.T) {
		prior, err := guard.Check(ctx, owner, KindOpportunity, "opphash", thisJob)
		require.NoError(t, err)
		require.NotNil(t, prior)
		assert.Contains(t, prior.Message(), `Duplicate opportunity: "Staff Engineer at Acme"`)
	})

	t.Run("empty fingerprint", func(t *testing.T) {
		_, err := guard.Check(ctx, owner, KindStory, "", thisJob)
		assert.Error(t, err)
	})
}

func TestGuard_FailedDocumentIsNotDuplicate(t *testing.T) {
	owner := uuid.New()
	hash := TextFingerprint("retry me")
	lookup := &fakeLookup{docs: map[string]*types.Document{
		owner.String() + hash: {ID: uuid.New(), Status: types.DocumentFailed, CreatedAt: time.Now()},
	}}

	prior, err := NewGuard(lookup).Check(context.Background(), owner, KindStory, hash, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, prior)
}

package jobs_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/memstore"
)

func newJob(t *testing.T, store jobs.Store, jobType jobs.JobType) *jobs.Job {
	t.Helper()
	job, err := store.CreateJob(context.Background(), jobs.CreateInput{OwnerID: uuid.New(), Type: jobType})
	require.NoError(t, err)
	return job
}

func TestController_SetPhase(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	reg := jobs.NewRegistry(store, nil)
	job := newJob(t, store, jobs.TypeStory)

	c, err := reg.Controller(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, c.SetPhase(ctx, jobs.PhaseValidating, nil))
	require.NoError(t, c.SetPhase(ctx, jobs.PhaseExtracting, nil))
	require.NoError(t, c.SetPhase(ctx, jobs.PhaseExtracting, nil), "re-entering the current phase is allowed")

	err = c.SetPhase(ctx, jobs.PhaseParsing, nil)
	assert.ErrorIs(t, err, jobs.ErrPhaseNotInSequence)

	err = c.SetPhase(ctx, jobs.PhaseValidating, nil)
	assert.ErrorIs(t, err, jobs.ErrPhaseRegression)

	got, _ := store.GetJob(ctx, job.ID)
	assert.Equal(t, jobs.PhaseExtracting, *got.Phase)
	assert.Equal(t, jobs.StatusProcessing, got.Status)
}

func TestController_ResumesFromStoredPhase(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	reg := jobs.NewRegistry(store, nil)
	job := newJob(t, store, jobs.TypeOpportunity)
	require.NoError(t, store.SetJobPhase(ctx, job.ID, jobs.PhaseExtracting, nil))

	c, err := reg.Controller(ctx, job.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, c.SetPhase(ctx, jobs.PhaseEnriching, nil), jobs.ErrPhaseRegression)
	assert.NoError(t, c.SetPhase(ctx, jobs.PhaseEmbeddings, nil))
}

func TestController_TerminalGuard(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	reg := jobs.NewRegistry(store, nil)

	tests := []struct {
		name   string
		finish func(c *jobs.Controller) error
		status jobs.Status
	}{
		{"fail", func(c *jobs.Controller) error { return c.Fail(ctx, "Could not read your PDF") }, jobs.StatusFailed},
		{"duplicate", func(c *jobs.Controller) error { return c.MarkDuplicate(ctx, "Duplicate story") }, jobs.StatusDuplicate},
		{"complete", func(c *jobs.Controller) error {
			return c.Complete(ctx, jobs.IngestionSummary{EvidenceCount: 1}, jobs.Artifact{})
		}, jobs.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob(t, store, jobs.TypeStory)
			c, err := reg.Controller(ctx, job.ID)
			require.NoError(t, err)
			require.NoError(t, tt.finish(c))

			got, _ := store.GetJob(ctx, job.ID)
			assert.Equal(t, tt.status, got.Status)
			assert.NotNil(t, got.CompletedAt)

			assert.ErrorIs(t, c.SetWarning(ctx, "late"), jobs.ErrJobTerminal)
			assert.ErrorIs(t, c.UpdateProgress(ctx, "1/2"), jobs.ErrJobTerminal)
			assert.ErrorIs(t, c.AddHighlight(ctx, "x", jobs.HighlightFound), jobs.ErrJobTerminal)
			assert.ErrorIs(t, c.Fail(ctx, "again"), jobs.ErrJobTerminal)

			after, _ := store.GetJob(ctx, job.ID)
			assert.Equal(t, got, after)
		})
	}
}

func TestController_CompleteWritesSummaryAndArtifact(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	reg := jobs.NewRegistry(store, nil)
	job := newJob(t, store, jobs.TypeTailor)

	c, err := reg.Controller(ctx, job.ID)
	require.NoError(t, err)
	profileID := uuid.New()
	require.NoError(t, c.Complete(ctx, jobs.TailorSummary{TalkingPoints: 3}, jobs.TailoredProfileArtifact(profileID)))

	got, _ := store.GetJob(ctx, job.ID)
	var summary jobs.TailorSummary
	require.NoError(t, json.Unmarshal(got.Summary, &summary))
	assert.Equal(t, 3, summary.TalkingPoints)
	assert.Equal(t, profileID, *got.TailoredProfileID)
}

func TestController_ConcurrentHighlights(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	reg := jobs.NewRegistry(store, nil)
	job := newJob(t, store, jobs.TypeResume)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := reg.Controller(ctx, job.ID)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, c.AddHighlight(ctx, fmt.Sprintf("h%d", i), jobs.HighlightCreated))
		}()
	}
	wg.Wait()

	got, _ := store.GetJob(ctx, job.ID)
	assert.Len(t, got.Highlights, jobs.MaxHighlights)
}

func TestRegistry_UnknownJob(t *testing.T) {
	reg := jobs.NewRegistry(memstore.New(), nil)
	_, err := reg.Controller(context.Background(), uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

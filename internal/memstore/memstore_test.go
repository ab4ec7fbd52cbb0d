package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/types"
)

var (
	_ jobs.Store         = (*Store)(nil)
	_ steps.Checkpointer = (*Store)(nil)
	_ steps.Journal      = (*Store)(nil)
)

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner := uuid.New()

	job, err := s.CreateJob(ctx, jobs.CreateInput{OwnerID: owner, Type: jobs.TypeStory})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, job.Status)
	assert.Empty(t, job.Highlights)

	require.NoError(t, s.SetJobPhase(ctx, job.ID, jobs.PhaseValidating, nil))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, got.Status)
	require.NotNil(t, got.StartedAt)
	started := *got.StartedAt

	require.NoError(t, s.SetJobPhase(ctx, job.ID, jobs.PhaseExtracting, nil))
	got, _ = s.GetJob(ctx, job.ID)
	assert.Equal(t, started, *got.StartedAt)

	docID := uuid.New()
	require.NoError(t, s.CompleteJob(ctx, job.ID, []byte(`{"evidenceCount":0}`), jobs.DocumentArtifact(docID)))
	got, _ = s.GetJob(ctx, job.ID)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, docID, *got.DocumentID)
	assert.NotNil(t, got.CompletedAt)

	err = s.SetJobWarning(ctx, job.ID, "late")
	assert.ErrorIs(t, err, jobs.ErrJobTerminal)
	err = s.FinishJob(ctx, job.ID, jobs.StatusFailed, "late")
	assert.ErrorIs(t, err, jobs.ErrJobTerminal)

	_, err = s.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestAppendJobHighlights_KeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := New()
	job, err := s.CreateJob(ctx, jobs.CreateInput{OwnerID: uuid.New(), Type: jobs.TypeResume})
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		require.NoError(t, s.AppendJobHighlights(ctx, job.ID,
			[]jobs.Highlight{{Text: string(rune('a' + i)), Kind: jobs.HighlightFound}}, jobs.MaxHighlights))
	}
	got, _ := s.GetJob(ctx, job.ID)
	require.Len(t, got.Highlights, jobs.MaxHighlights)
	assert.Equal(t, "f", got.Highlights[0].Text)
	assert.Equal(t, "y", got.Highlights[19].Text)
}

func TestClaimPendingAndStale(t *testing.T) {
	ctx := context.Background()
	s := New()
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	a, _ := s.CreateJob(ctx, jobs.CreateInput{OwnerID: uuid.New(), Type: jobs.TypeStory})
	clock = clock.Add(time.Second)
	b, _ := s.CreateJob(ctx, jobs.CreateInput{OwnerID: uuid.New(), Type: jobs.TypeStory})

	claimed, err := s.ClaimPendingJobs(ctx, 1, time.Time{})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, a.ID, claimed[0].ID)

	claimed, _ = s.ClaimPendingJobs(ctx, 10, time.Time{})
	require.Len(t, claimed, 1)
	assert.Equal(t, b.ID, claimed[0].ID)

	claimed, _ = s.ClaimPendingJobs(ctx, 10, time.Time{})
	assert.Empty(t, claimed)

	require.NoError(t, s.SetJobPhase(ctx, a.ID, jobs.PhaseValidating, nil))
	clock = clock.Add(time.Hour)
	stale, err := s.ListStaleJobs(ctx, clock.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, a.ID, stale[0].ID)
}

func TestClaimPendingJobs_ExpiredClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	s := New()
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	job, _ := s.CreateJob(ctx, jobs.CreateInput{OwnerID: uuid.New(), Type: jobs.TypeStory})
	claimed, err := s.ClaimPendingJobs(ctx, 10, clock.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	clock = clock.Add(5 * time.Minute)
	claimed, _ = s.ClaimPendingJobs(ctx, 10, clock.Add(-10*time.Minute))
	assert.Empty(t, claimed, "a fresh claim is respected")

	clock = clock.Add(10 * time.Minute)
	claimed, _ = s.ClaimPendingJobs(ctx, 10, clock.Add(-10*time.Minute))
	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].ID)
}

func TestReleaseJob(t *testing.T) {
	ctx := context.Background()
	s := New()

	job, _ := s.CreateJob(ctx, jobs.CreateInput{OwnerID: uuid.New(), Type: jobs.TypeStory})
	_, err := s.ClaimPendingJobs(ctx, 1, time.Time{})
	require.NoError(t, err)
	require.NoError(t, s.SetJobPhase(ctx, job.ID, jobs.PhaseExtracting, nil))

	require.NoError(t, s.ReleaseJob(ctx, job.ID))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, got.Status)
	require.NotNil(t, got.Phase)
	assert.Equal(t, jobs.PhaseExtracting, *got.Phase)

	claimed, _ := s.ClaimPendingJobs(ctx, 1, time.Time{})
	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].ID)

	require.NoError(t, s.FinishJob(ctx, job.ID, jobs.StatusFailed, "boom"))
	assert.ErrorIs(t, s.ReleaseJob(ctx, job.ID), jobs.ErrJobTerminal)
	assert.ErrorIs(t, s.ReleaseJob(ctx, uuid.New()), jobs.ErrJobNotFound)
}

func TestCreateDocument_RetryReclaimConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner := uuid.New()
	jobA, jobB := uuid.New(), uuid.New()
	in := types.DocumentInput{OwnerID: owner, JobID: jobA, Source: types.SourceStory, ContentHash: "h", RawText: "text"}

	doc, err := s.CreateDocument(ctx, in)
	require.NoError(t, err)
	n, err := s.InsertEvidence(ctx, doc, []types.EvidenceItem{{Kind: types.KindSkillListed, Text: "Go"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := s.CreateDocument(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)

	n, err = s.InsertEvidence(ctx, doc, []types.EvidenceItem{{Kind: types.KindSkillListed, Text: "Go"}})
	require.NoError(t, err)
	assert.Zero(t, n)

	in.JobID = jobB
	_, err = s.CreateDocument(ctx, in)
	assert.ErrorIs(t, err, types.ErrDocumentExists)

	msg := "boom"
	require.NoError(t, s.SetDocumentStatus(ctx, doc.ID, types.DocumentFailed, &msg))
	reclaimed, err := s.CreateDocument(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, reclaimed.ID)
	assert.Equal(t, jobB, *reclaimed.JobID)
	assert.Equal(t, types.DocumentProcessing, reclaimed.Status)

	evidence, _ := s.ListEvidence(ctx, doc.ID)
	assert.Empty(t, evidence)
}

func TestClaimsAndLinks(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner := uuid.New()

	c, err := s.CreateClaim(ctx, &types.Claim{OwnerID: owner, Label: "Go", Confidence: 0.6, Embedding: []float32{1, 0}})
	require.NoError(t, err)
	_, err = s.CreateClaim(ctx, &types.Claim{OwnerID: uuid.New(), Label: "other owner", Confidence: 0.9, Embedding: []float32{1, 0}})
	require.NoError(t, err)

	similar, err := s.SimilarClaims(ctx, owner, []float32{1, 0}, 0.85, 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, c.ID, similar[0].ID)

	ev := uuid.New()
	created, err := s.LinkEvidence(ctx, c.ID, ev, types.StrengthStrong)
	require.NoError(t, err)
	assert.True(t, created)
	created, _ = s.LinkEvidence(ctx, c.ID, ev, types.StrengthStrong)
	assert.False(t, created)

	linked, _ := s.EvidenceLinked(ctx, ev)
	assert.True(t, linked)
	assert.Len(t, s.ClaimEvidence(c.ID), 1)
}

func TestOpportunityAndTailored(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner, job := uuid.New(), uuid.New()

	opp, err := s.CreateOpportunity(ctx, types.OpportunityInput{OwnerID: owner, JobID: job, ContentHash: "u"})
	require.NoError(t, err)
	again, err := s.CreateOpportunity(ctx, types.OpportunityInput{OwnerID: owner, JobID: job, ContentHash: "u"})
	require.NoError(t, err)
	assert.Equal(t, opp.ID, again.ID)
	_, err = s.CreateOpportunity(ctx, types.OpportunityInput{OwnerID: owner, JobID: uuid.New(), ContentHash: "u"})
	assert.ErrorIs(t, err, types.ErrOpportunityExists)

	require.NoError(t, s.SetOpportunityResearch(ctx, opp.ID, nil, &types.MatchScore{Overall: 0.5}))
	got, _ := s.GetOpportunity(ctx, opp.ID)
	assert.JSONEq(t, `{"overall":0.5,"must_have_coverage":0,"nice_to_have_coverage":0,"requirements":null}`, string(got.MatchScore))
	assert.Nil(t, got.CompanyResearch)

	p, err := s.CreateTailoredProfile(ctx, &types.TailoredProfile{OwnerID: owner, OpportunityID: opp.ID, Narrative: "first"})
	require.NoError(t, err)
	dup, err := s.CreateTailoredProfile(ctx, &types.TailoredProfile{OwnerID: owner, OpportunityID: opp.ID, Narrative: "second"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, dup.ID)
	assert.Equal(t, "first", dup.Narrative)

	require.NoError(t, s.SaveEvaluation(ctx, &types.Evaluation{TailoredProfileID: p.ID, Passed: true}))
	require.NoError(t, s.DeleteTailoredProfile(ctx, owner, opp.ID))
	gone, _ := s.GetTailoredProfile(ctx, owner, opp.ID)
	assert.Nil(t, gone)
	eval, _ := s.GetEvaluation(ctx, p.ID)
	assert.Nil(t, eval)
}

func TestUsageCountsOncePerJob(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner, job := uuid.New(), uuid.New()

	counted, err := s.IncrementUsage(ctx, owner, "tailor", "2025-03", job)
	require.NoError(t, err)
	assert.True(t, counted)
	counted, _ = s.IncrementUsage(ctx, owner, "tailor", "2025-03", job)
	assert.False(t, counted)
	_, _ = s.IncrementUsage(ctx, owner, "tailor", "2025-03", uuid.New())

	n, _ := s.GetUsage(ctx, owner, "tailor", "2025-03")
	assert.Equal(t, 2, n)
}

func TestTelemetryAndJournal(t *testing.T) {
	ctx := context.Background()
	s := New()
	job := uuid.New()

	require.NoError(t, s.SaveTelemetry(ctx, job, []llm.Usage{{Model: "m", Calls: 1, LatencyMs: 10}}))
	require.NoError(t, s.SaveTelemetry(ctx, job, []llm.Usage{{Model: "m", Calls: 2, LatencyMs: 5}}))
	usage, _ := s.ListTelemetry(ctx, job)
	require.Len(t, usage, 1)
	assert.Equal(t, 3, usage[0].Calls)
	assert.Equal(t, int64(15), usage[0].LatencyMs)

	start := time.Now()
	require.NoError(t, s.RecordStep(ctx, steps.Record{JobID: job, Step: "extract", Status: steps.StatusInProgress, Attempt: 1, StartedAt: start}))
	require.NoError(t, s.RecordStep(ctx, steps.Record{JobID: job, Step: "extract", Status: steps.StatusFailed, Attempt: 1, StartedAt: start, Error: "x"}))
	require.NoError(t, s.RecordStep(ctx, steps.Record{JobID: job, Step: "extract", Status: steps.StatusCompleted, Attempt: 2, StartedAt: start}))

	rows, _ := s.ListRunSteps(ctx, job, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "completed", rows[0].Status)
	assert.Equal(t, 2, rows[0].Attempts)
	assert.Nil(t, rows[0].ErrorMessage)

	require.NoError(t, s.SaveCheckpoint(ctx, job, "extract", []byte(`1`)))
	require.NoError(t, s.SaveCheckpoint(ctx, job, "extract", []byte(`2`)))
	raw, found, _ := s.GetCheckpoint(ctx, job, "extract")
	assert.True(t, found)
	assert.Equal(t, `1`, string(raw))
	require.NoError(t, s.DeleteCheckpoints(ctx, job))
	_, found, _ = s.GetCheckpoint(ctx, job, "extract")
	assert.False(t, found)
}

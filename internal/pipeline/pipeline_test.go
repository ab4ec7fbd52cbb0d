package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/identity-pipeline/internal/dedup"
	"github.com/jonathan/identity-pipeline/internal/extraction"
	"github.com/jonathan/identity-pipeline/internal/fetch"
	"github.com/jonathan/identity-pipeline/internal/ingestion"
	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/memstore"
	"github.com/jonathan/identity-pipeline/internal/pdf"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/storage"
	"github.com/jonathan/identity-pipeline/internal/tailoring"
	"github.com/jonathan/identity-pipeline/internal/types"
)

const storyText = "Last year I noticed our checkout was slow. I profiled the cart service, rewrote the " +
	"hot path in Go and cut p99 latency by 40%. I also moved our reporting queries onto a " +
	"PostgreSQL read replica so the nightly jobs stopped blocking customers."

func ingestionSummary(t *testing.T, job *jobs.Job) jobs.IngestionSummary {
	t.Helper()
	var s jobs.IngestionSummary
	require.NoError(t, json.Unmarshal(job.Summary, &s))
	return s
}

func TestStory_CompletesWithNovelClaims(t *testing.T) {
	h := newHarness(t)
	h.extractor.items = twoNovelItems()
	owner := uuid.New()

	job, err := h.svc.SubmitStory(context.Background(), owner, storyText)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, job.Status)

	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Nil(t, final.Error)
	assert.Nil(t, final.Warning)
	summary := ingestionSummary(t, final)
	assert.Equal(t, 2, summary.EvidenceCount)
	assert.Equal(t, 2, summary.ClaimsCreated)
	assert.Equal(t, 0, summary.ClaimsUpdated)
	assert.Equal(t, "2/2", *final.Progress)
	require.NotNil(t, final.DocumentID)

	doc, err := h.store.GetDocument(context.Background(), *final.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentCompleted, doc.Status)

	assert.Equal(t, jobs.TypeStory.Phases(), h.visited(job.ID))
	assert.True(t, jobs.TypeStory.IsPrefix(h.visited(job.ID)))

	var kinds []jobs.HighlightKind
	for _, hl := range final.Highlights {
		kinds = append(kinds, hl.Kind)
	}
	assert.Equal(t, []jobs.HighlightKind{jobs.HighlightFound, jobs.HighlightFound, jobs.HighlightCreated, jobs.HighlightCreated}, kinds)
	assert.Equal(t, 1, h.reflector.calls)
}

func TestStory_DuplicateSubmission(t *testing.T) {
	h := newHarness(t)
	h.extractor.items = twoNovelItems()
	owner := uuid.New()
	ctx := context.Background()

	first, err := h.svc.SubmitStory(ctx, owner, storyText)
	require.NoError(t, err)
	_, err = h.run(t, first)
	require.NoError(t, err)

	// whitespace and case differences normalize to the same fingerprint
	second, err := h.svc.SubmitStory(ctx, owner, "  "+strings.ToUpper(storyText)+"\n")
	require.NoError(t, err)
	final, err := h.run(t, second)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusDuplicate, final.Status)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "Duplicate story")
	assert.Nil(t, final.DocumentID)
	assert.Equal(t, 1, h.extractor.evidenceCall)

	doc, err := h.store.FindDocumentByHash(ctx, owner, dedup.TextFingerprint(storyText))
	require.NoError(t, err)
	assert.Equal(t, first.ID, *doc.JobID)

	// another owner submitting the same text is not a duplicate
	other, err := h.svc.SubmitStory(ctx, uuid.New(), storyText)
	require.NoError(t, err)
	final, err = h.run(t, other)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, final.Status)
}

func TestStory_ZeroEvidenceSkipsSynthesis(t *testing.T) {
	h := newHarness(t)

	job, err := h.svc.SubmitStory(context.Background(), uuid.New(), "Nothing much happened.")
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	summary := ingestionSummary(t, final)
	assert.Zero(t, summary.EvidenceCount)
	assert.Zero(t, summary.ClaimsCreated)
	assert.Zero(t, summary.ClaimsUpdated)

	visited := h.visited(job.ID)
	assert.True(t, jobs.TypeStory.IsPrefix(visited))
	assert.NotContains(t, visited, jobs.PhaseEmbeddings)
	assert.NotContains(t, visited, jobs.PhaseSynthesis)
	assert.NotContains(t, visited, jobs.PhaseReflection)
	assert.Zero(t, h.embedder.calls)
	assert.Zero(t, h.reflector.calls)
}

func TestStory_SynthesisFailureIsWarning(t *testing.T) {
	h := newHarnessWith(t, func(s *memstore.Store) Store { return failingClaims{s} })
	h.extractor.items = twoNovelItems()

	job, err := h.svc.SubmitStory(context.Background(), uuid.New(), storyText)
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	require.NotNil(t, final.Warning)
	assert.Equal(t, WarnSynthesisPartial, *final.Warning)
	assert.Equal(t, 2, ingestionSummary(t, final).EvidenceCount)
	assert.Contains(t, h.visited(job.ID), jobs.PhaseReflection)
}

func TestStory_ReflectionFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	h.extractor.items = twoNovelItems()
	h.reflector.err = errTransient

	job, err := h.svc.SubmitStory(context.Background(), uuid.New(), storyText)
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	require.NotNil(t, final.Warning)
	assert.Equal(t, WarnReflectionFailed, *final.Warning)
	assert.Equal(t, 1, h.reflector.calls)
}

func TestStory_NoAccomplishmentWarning(t *testing.T) {
	h := newHarness(t)
	h.extractor.items = []types.EvidenceItem{{Kind: types.KindSkillListed, Text: "Kubernetes"}}

	job, err := h.svc.SubmitStory(context.Background(), uuid.New(), "I know Kubernetes.")
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	require.NotNil(t, final.Warning)
	assert.Equal(t, WarnNoAccomplishment, *final.Warning)
}

func TestStory_RetryReplaysCompletedSteps(t *testing.T) {
	h := newHarness(t)
	h.extractor.items = twoNovelItems()
	h.embedder.fail = failN{n: 1, err: errTransient}

	job, err := h.svc.SubmitStory(context.Background(), uuid.New(), storyText)
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Equal(t, 1, h.extractor.evidenceCall, "extraction is checkpointed")
	assert.Equal(t, 2, h.embedder.calls)

	evidence, err := h.store.ListEvidence(context.Background(), *final.DocumentID)
	require.NoError(t, err)
	assert.Len(t, evidence, 2)
	assert.Equal(t, 2, ingestionSummary(t, final).ClaimsCreated)
	assert.True(t, jobs.TypeStory.IsPrefix(h.visited(job.ID)))

	runSteps, err := h.store.ListRunSteps(context.Background(), job.ID, nil)
	require.NoError(t, err)
	for _, rs := range runSteps {
		if rs.Step == stepEmbedEvidence {
			assert.Equal(t, 2, rs.Attempts)
			assert.Equal(t, "completed", rs.Status)
		}
	}
}

func TestStory_ExtractionExhaustionFailsJob(t *testing.T) {
	h := newHarness(t)
	h.extractor.evidenceFail = failN{n: 10, err: &extraction.APICallError{Pass: "story", Cause: errTransient}}

	job, err := h.svc.SubmitStory(context.Background(), uuid.New(), storyText)
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.Error(t, err)

	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, MsgModelFailure, *final.Error)
	assert.Equal(t, jobs.TypeStory.MaxAttempts(), h.extractor.evidenceCall)
	assert.NotNil(t, final.CompletedAt)

	doc, err := h.store.FindDocumentByHash(context.Background(), final.OwnerID, dedup.TextFingerprint(storyText))
	require.NoError(t, err)
	assert.Equal(t, types.DocumentFailed, doc.Status)

	// a failed document does not block resubmission
	h.extractor.evidenceFail = failN{}
	h.extractor.items = twoNovelItems()
	retry, err := h.svc.SubmitStory(context.Background(), final.OwnerID, storyText)
	require.NoError(t, err)
	again, err := h.run(t, retry)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, again.Status)
}

func TestStory_InterruptedRunResumes(t *testing.T) {
	h := newHarness(t)
	h.extractor.items = twoNovelItems()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.extractor.hook = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	job, err := h.svc.SubmitStory(context.Background(), uuid.New(), storyText)
	require.NoError(t, err)
	stored, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	err = h.svc.RunJob(ctx, stored)
	require.ErrorIs(t, err, steps.ErrInterrupted)

	interrupted, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, interrupted.Status)
	assert.Nil(t, interrupted.Error)
	assert.Nil(t, interrupted.CompletedAt)

	require.NoError(t, h.store.ReleaseJob(context.Background(), job.ID))
	h.extractor.hook = nil
	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Equal(t, 2, h.extractor.evidenceCall)
	assert.Equal(t, 2, ingestionSummary(t, final).ClaimsCreated)
	assert.True(t, jobs.TypeStory.IsPrefix(h.visited(job.ID)))
}

func TestStory_HashMismatchFails(t *testing.T) {
	h := newHarness(t)
	ev := jobs.StoryEvent{
		JobID:       uuid.New(),
		UserID:      uuid.New(),
		Text:        storyText,
		ContentHash: dedup.TextFingerprint("something else"),
	}
	raw, err := jobs.MarshalEvent(ev)
	require.NoError(t, err)
	_, err = h.store.CreateJob(context.Background(), jobs.CreateInput{ID: ev.JobID, OwnerID: ev.UserID, Type: jobs.TypeStory, Input: raw})
	require.NoError(t, err)

	require.Error(t, h.svc.Run(context.Background(), ev))
	final, err := h.store.GetJob(context.Background(), ev.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, MsgHashMismatch, *final.Error)
	assert.Zero(t, h.extractor.evidenceCall)
}

func TestResume_EmptyPDFFailsBeforeExtracting(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
	}{
		{"no text", "", pdf.ErrNoText},
		{"whitespace only", "  \n\t ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.pdf.text, h.pdf.err = tt.text, tt.err

			job, err := h.svc.SubmitResume(context.Background(), uuid.New(), "cv.pdf", "uploads/cv.pdf")
			require.NoError(t, err)
			final, err := h.run(t, job)
			require.Error(t, err)

			assert.Equal(t, jobs.StatusFailed, final.Status)
			require.NotNil(t, final.Error)
			assert.Contains(t, *final.Error, "PDF")
			assert.NotContains(t, h.visited(job.ID), jobs.PhaseExtracting)
			assert.Zero(t, h.extractor.evidenceCall)
			assert.Equal(t, jobs.PhaseParsing, *final.Phase)
		})
	}
}

func TestResume_CompletesAndDedupsOnParsedText(t *testing.T) {
	h := newHarness(t)
	h.pdf.text = "Jane Doe\n\nSenior Engineer at Acme\n- Cut latency by 40%"
	h.extractor.items = twoNovelItems()
	owner := uuid.New()
	ctx := context.Background()

	job, err := h.svc.SubmitResume(ctx, owner, "cv.pdf", "uploads/cv.pdf")
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Equal(t, jobs.TypeResume.Phases(), h.visited(job.ID))

	doc, err := h.store.GetDocument(ctx, *final.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "cv.pdf", *doc.Filename)
	assert.Equal(t, types.SourceResume, doc.Source)

	again, err := h.svc.SubmitResume(ctx, owner, "cv-copy.pdf", "uploads/cv-copy.pdf")
	require.NoError(t, err)
	dup, err := h.run(t, again)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDuplicate, dup.Status)
	assert.Contains(t, *dup.Error, `Duplicate resume: "cv.pdf"`)
}

func TestResume_MissingFileIsPermanent(t *testing.T) {
	h := newHarness(t)
	h.files.err = fmt.Errorf("open uploads/cv.pdf: %w", storage.ErrNotFound)

	job, err := h.svc.SubmitResume(context.Background(), uuid.New(), "cv.pdf", "uploads/cv.pdf")
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.Error(t, err)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, MsgFileMissing, *final.Error)
}

func TestOpportunity_Completes(t *testing.T) {
	h := newHarness(t)
	h.extractor.posting = &types.Posting{
		Title:   "Senior Go Engineer",
		Company: "Acme",
		MustHave: []types.Requirement{
			{Text: "5+ years of Go", Category: types.CategoryExperience},
			{Text: "PostgreSQL", Category: types.CategorySkill},
		},
		NiceToHave: []types.Requirement{{Text: "Kubernetes", Category: types.CategorySkill}},
	}
	ctx := context.Background()

	job, err := h.svc.SubmitOpportunity(ctx, uuid.New(), "", "We are hiring a Senior Go Engineer to own our billing platform.")
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Nil(t, final.Warning)
	assert.Equal(t, jobs.TypeOpportunity.Phases(), h.visited(job.ID))

	var summary jobs.OpportunitySummary
	require.NoError(t, json.Unmarshal(final.Summary, &summary))
	assert.Equal(t, "Senior Go Engineer", summary.Title)
	assert.Equal(t, 3, summary.RequirementCount)
	assert.Len(t, final.Highlights, 3)

	opp, err := h.store.GetOpportunity(ctx, *final.OpportunityID)
	require.NoError(t, err)
	require.Len(t, opp.Requirements, 3)
	assert.NotEmpty(t, opp.Requirements[0].Embedding)
	assert.NotEmpty(t, opp.CompanyResearch)
	assert.NotEmpty(t, opp.MatchScore)
}

func TestOpportunity_ParseFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	h.extractor.postingErr = &extraction.ParseError{Pass: "job-posting", Message: "bad json", Cause: extraction.ErrPostingParse}

	job, err := h.svc.SubmitOpportunity(context.Background(), uuid.New(), "", "Backend role, details to follow.")
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	require.NotNil(t, final.Warning)
	assert.Equal(t, WarnPostingParse, *final.Warning)
	var summary jobs.OpportunitySummary
	require.NoError(t, json.Unmarshal(final.Summary, &summary))
	assert.Zero(t, summary.RequirementCount)
	assert.Equal(t, 1, h.extractor.postingCall)
}

func TestOpportunity_DuplicateURL(t *testing.T) {
	h := newHarness(t)
	h.svc.deps.Enricher = staticEnricher{text: "Senior Go Engineer at Acme"}
	h.extractor.posting = &types.Posting{Title: "Senior Go Engineer", Company: "Acme"}
	owner := uuid.New()
	ctx := context.Background()

	first, err := h.svc.SubmitOpportunity(ctx, owner, "https://boards.greenhouse.io/acme/jobs/1?utm_source=x", "")
	require.NoError(t, err)
	_, err = h.run(t, first)
	require.NoError(t, err)

	second, err := h.svc.SubmitOpportunity(ctx, owner, "https://www.boards.greenhouse.io/acme/jobs/1/", "")
	require.NoError(t, err)
	final, err := h.run(t, second)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDuplicate, final.Status)
	assert.Contains(t, *final.Error, "Senior Go Engineer at Acme")
}

func TestOpportunity_FailureRemovesRow(t *testing.T) {
	h := newHarness(t)
	h.svc.deps.Enricher = staticEnricher{err: &fetch.Error{URL: "https://example.com/job", StatusCode: 404, Message: "not found"}}
	owner := uuid.New()
	url := "https://example.com/job"

	job, err := h.svc.SubmitOpportunity(context.Background(), owner, url, "")
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.Error(t, err)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, MsgPostingFetch, *final.Error)

	fp, err := dedup.URLFingerprint(url)
	require.NoError(t, err)
	opp, err := h.store.FindOpportunityByHash(context.Background(), owner, fp)
	require.NoError(t, err)
	assert.Nil(t, opp)
}

type staticEnricher struct {
	text string
	err  error
}

func (e staticEnricher) Enrich(context.Context, string, string) (*ingestion.Enriched, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &ingestion.Enriched{Text: e.text, Fetched: true}, nil
}

// seedTailor creates an opportunity and one embedded claim for owner.
func seedTailor(t *testing.T, h *harness, owner uuid.UUID) *types.Opportunity {
	t.Helper()
	ctx := context.Background()
	opp, err := h.store.CreateOpportunity(ctx, types.OpportunityInput{
		OwnerID:     owner,
		JobID:       uuid.New(),
		ContentHash: dedup.TextFingerprint("Senior Go Engineer"),
		Description: "Senior Go Engineer",
	})
	require.NoError(t, err)
	_, err = h.store.CreateClaim(ctx, &types.Claim{
		OwnerID:    owner,
		Type:       types.ClaimSkill,
		Label:      "Go",
		Confidence: 0.7,
		Embedding:  []float32{1, 0},
	})
	require.NoError(t, err)
	return opp
}

func TestTailor_CachedArtifactRunsNoStages(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	opp := seedTailor(t, h, owner)
	ctx := context.Background()

	existing, err := h.store.CreateTailoredProfile(ctx, &types.TailoredProfile{OwnerID: owner, OpportunityID: opp.ID, Narrative: "cached"})
	require.NoError(t, err)

	start, err := h.svc.StartTailor(ctx, owner, opp.ID, false)
	require.NoError(t, err)
	assert.True(t, start.Cached)
	assert.Nil(t, start.JobID)
	assert.Equal(t, existing.ID, start.Profile.ID)
	assert.Zero(t, h.generator.Calls("talking-points"))

	all, err := h.store.ListJobs(ctx, jobs.ListFilter{OwnerID: &owner})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTailor_RegenerateReplacesArtifact(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	opp := seedTailor(t, h, owner)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return now }

	old, err := h.store.CreateTailoredProfile(ctx, &types.TailoredProfile{OwnerID: owner, OpportunityID: opp.ID, Narrative: "old"})
	require.NoError(t, err)

	start, err := h.svc.StartTailor(ctx, owner, opp.ID, true)
	require.NoError(t, err)
	require.NotNil(t, start.JobID)
	assert.False(t, start.Cached)

	job, err := h.store.GetJob(ctx, *start.JobID)
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Equal(t, jobs.TypeTailor.Phases(), h.visited(job.ID))
	for _, step := range []string{"talking-points", "narrative", "resume-data"} {
		assert.Equal(t, 1, h.generator.Calls(step), step)
	}

	profile, err := h.store.GetTailoredProfile(ctx, owner, opp.ID)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, profile.ID)
	assert.Equal(t, "I build reliable backends.", profile.Narrative)
	assert.Equal(t, profile.ID, *final.TailoredProfileID)

	eval, err := h.store.GetEvaluation(ctx, profile.ID)
	require.NoError(t, err)
	assert.True(t, eval.Passed)

	usage, err := h.store.GetUsage(ctx, owner, UsageMetricTailor, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 1, usage)

	// running the finished job again changes nothing
	assert.ErrorIs(t, h.svc.RunJob(ctx, final), jobs.ErrJobTerminal)
	usage, err = h.store.GetUsage(ctx, owner, UsageMetricTailor, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 1, usage)
}

func TestTailor_EvaluationFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	opp := seedTailor(t, h, owner)
	ctx := context.Background()
	h.evaluator.err = errTransient

	start, err := h.svc.StartTailor(ctx, owner, opp.ID, false)
	require.NoError(t, err)
	job, err := h.store.GetJob(ctx, *start.JobID)
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	require.NotNil(t, final.Warning)
	assert.Equal(t, WarnEvaluationFailed, *final.Warning)

	var summary jobs.TailorSummary
	require.NoError(t, json.Unmarshal(final.Summary, &summary))
	assert.False(t, summary.Evaluated)
	assert.Equal(t, 2, summary.TalkingPoints)
}

func TestTailor_NoClaimsFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	ctx := context.Background()
	opp, err := h.store.CreateOpportunity(ctx, types.OpportunityInput{OwnerID: owner, JobID: uuid.New(), ContentHash: "h", Description: "Go role"})
	require.NoError(t, err)

	start, err := h.svc.StartTailor(ctx, owner, opp.ID, false)
	require.NoError(t, err)
	job, err := h.store.GetJob(ctx, *start.JobID)
	require.NoError(t, err)
	final, err := h.run(t, job)
	require.ErrorIs(t, err, tailoring.ErrNoClaims)

	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, MsgNoClaims, *final.Error)
	assert.Zero(t, h.generator.Calls("talking-points"))
}

func TestStartTailor_ForeignOpportunity(t *testing.T) {
	h := newHarness(t)
	opp := seedTailor(t, h, uuid.New())

	_, err := h.svc.StartTailor(context.Background(), uuid.New(), opp.ID, false)
	assert.ErrorIs(t, err, ErrOpportunityNotFound)
}

func TestSubmit_RejectsInvalidEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.SubmitOpportunity(ctx, uuid.New(), "", "")
	var verr *jobs.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = h.svc.SubmitResume(ctx, uuid.New(), "cv.pdf", "")
	assert.ErrorAs(t, err, &verr)
}

type recordingEnqueuer struct {
	events []jobs.Event
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, ev jobs.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func TestSubmit_Enqueues(t *testing.T) {
	h := newHarness(t)
	q := &recordingEnqueuer{}
	h.svc.SetEnqueuer(q)

	job, err := h.svc.SubmitStory(context.Background(), uuid.New(), storyText)
	require.NoError(t, err)
	require.Len(t, q.events, 1)
	assert.Equal(t, job.ID, q.events[0].Job())
	assert.Equal(t, dedup.TextFingerprint(storyText), *job.ContentHash)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", pdf.ErrNoText), MsgPDFNoText},
		{pdf.ErrNotPDF, MsgNotPDF},
		{storage.ErrNotFound, MsgFileMissing},
		{ErrOpportunityNotFound, MsgOpportunityGone},
		{tailoring.ErrNoClaims, MsgNoClaims},
		{&extraction.APICallError{Pass: "story", Cause: errTransient}, MsgModelFailure},
		{&jobs.ValidationError{Fields: []string{"URL (url)"}}, MsgInvalidRequest + "URL (url)"},
		{context.DeadlineExceeded, MsgTimeout},
		{errTransient, MsgGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, userMessage(tt.err))
		})
	}
	assert.Contains(t, MsgPDFNoText, "PDF")
}

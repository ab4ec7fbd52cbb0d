package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/identity-pipeline/internal/ingestion"
	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/memstore"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/types"
)

var errTransient = errors.New("upstream unavailable")

// failN returns err for the first n calls of a counter.
type failN struct {
	n   int
	err error
}

func (f *failN) next(calls int) error {
	if calls <= f.n {
		return f.err
	}
	return nil
}

type fakeExtractor struct {
	mu           sync.Mutex
	items        []types.EvidenceItem
	evidenceFail failN
	posting      *types.Posting
	postingErr   error
	evidenceCall int
	postingCall  int
	// hook runs before evidence extraction; a non-nil result is returned as the error.
	hook func(ctx context.Context) error
}

func (f *fakeExtractor) ExtractEvidence(ctx context.Context, _ string, _ types.Source) ([]types.EvidenceItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evidenceCall++
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return nil, err
		}
	}
	if err := f.evidenceFail.next(f.evidenceCall); err != nil {
		return nil, err
	}
	return append([]types.EvidenceItem(nil), f.items...), nil
}

func (f *fakeExtractor) ExtractPosting(_ context.Context, _ string) (*types.Posting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postingCall++
	if f.posting == nil {
		return &types.Posting{}, f.postingErr
	}
	p := *f.posting
	return &p, f.postingErr
}

// fakeEmbedder gives every distinct text its own axis, so distinct texts never merge.
type fakeEmbedder struct {
	mu    sync.Mutex
	axes  map[string]int
	fail  failN
	calls int
}

const fakeDims = 64

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail.next(f.calls); err != nil {
		return nil, err
	}
	if f.axes == nil {
		f.axes = make(map[string]int)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		axis, ok := f.axes[text]
		if !ok {
			axis = len(f.axes) % fakeDims
			f.axes[text] = axis
		}
		vec := make([]float32, fakeDims)
		vec[axis] = 1
		out[i] = vec
	}
	return out, nil
}

type fakeFiles struct {
	data []byte
	err  error
}

func (f *fakeFiles) Fetch(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

type fakePDF struct {
	text string
	err  error
}

func (f *fakePDF) ExtractText(context.Context, []byte) (string, error) {
	return f.text, f.err
}

type fakeReflector struct {
	err   error
	calls int
}

func (f *fakeReflector) Reflect(_ context.Context, ownerID uuid.UUID) (*types.IdentitySummary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.IdentitySummary{OwnerID: ownerID, Headline: "Engineer"}, nil
}

type fakeResearcher struct {
	err error
}

func (f *fakeResearcher) Company(_ context.Context, opp *types.Opportunity) (*types.CompanyResearch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.CompanyResearch{Company: opp.Company, Mission: "Ship things"}, nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls map[string]int
	fail  error
}

func (f *fakeGenerator) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeGenerator) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGenerator) TalkingPoints(_ context.Context, opp *types.Opportunity, _ []types.Claim) ([]types.TalkingPoint, error) {
	f.count("talking-points")
	if f.fail != nil {
		return nil, f.fail
	}
	return []types.TalkingPoint{{Point: "Built Go services", Requirement: "Go"}, {Point: "Led a team of " + opp.Company}}, nil
}

func (f *fakeGenerator) Narrative(context.Context, *types.Opportunity, []types.TalkingPoint) (string, error) {
	f.count("narrative")
	return "I build reliable backends.", nil
}

func (f *fakeGenerator) ResumeData(context.Context, *types.Opportunity, []types.Claim) (*types.ResumeData, error) {
	f.count("resume-data")
	return &types.ResumeData{Headline: "Backend engineer", Skills: []string{"Go"}}, nil
}

type fakeEvaluator struct {
	err error
}

func (f *fakeEvaluator) Evaluate(context.Context, *types.TailoredProfile, *types.Opportunity, []types.Claim) (*types.Evaluation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Evaluation{Passed: true, Hallucinations: []string{}}, nil
}

// failingClaims breaks claim creation to exercise the synthesis warning path.
type failingClaims struct {
	*memstore.Store
}

func (failingClaims) CreateClaim(context.Context, *types.Claim) (*types.Claim, error) {
	return nil, errors.New("claims table unavailable")
}

type harness struct {
	store     *memstore.Store
	svc       *Service
	extractor *fakeExtractor
	embedder  *fakeEmbedder
	files     *fakeFiles
	pdf       *fakePDF
	reflector *fakeReflector
	generator *fakeGenerator
	evaluator *fakeEvaluator

	mu     sync.Mutex
	phases map[uuid.UUID][]jobs.Phase
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, func(s *memstore.Store) Store { return s })
}

func newHarnessWith(t *testing.T, wrap func(*memstore.Store) Store) *harness {
	t.Helper()
	h := &harness{
		store:     memstore.New(),
		extractor: &fakeExtractor{},
		embedder:  &fakeEmbedder{},
		files:     &fakeFiles{data: []byte("%PDF-1.4")},
		pdf:       &fakePDF{},
		reflector: &fakeReflector{},
		generator: &fakeGenerator{},
		evaluator: &fakeEvaluator{},
		phases:    make(map[uuid.UUID][]jobs.Phase),
	}
	store := wrap(h.store)
	exec := steps.NewExecutor(store, store, nil, steps.WithBackoff(0, 0))
	h.svc = NewService(Deps{
		Store:      store,
		Files:      h.files,
		PDF:        h.pdf,
		Extractor:  h.extractor,
		Embedder:   h.embedder,
		Enricher:   ingestion.NewEnricher(nil, nil),
		Researcher: &fakeResearcher{},
		Reflector:  h.reflector,
		Generator:  h.generator,
		Evaluator:  h.evaluator,
	}, exec)
	h.svc.SetNotifier(func(ev ProgressEvent) {
		if ev.Phase == "" {
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		h.phases[ev.JobID] = append(h.phases[ev.JobID], ev.Phase)
	})
	return h
}

// run executes a stored job and returns its final row.
func (h *harness) run(t *testing.T, job *jobs.Job) (*jobs.Job, error) {
	t.Helper()
	ctx := context.Background()
	stored, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	runErr := h.svc.RunJob(ctx, stored)
	final, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	return final, runErr
}

func (h *harness) visited(id uuid.UUID) []jobs.Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]jobs.Phase(nil), h.phases[id]...)
}

func twoNovelItems() []types.EvidenceItem {
	return []types.EvidenceItem{
		{Kind: types.KindAccomplishment, Text: "Cut checkout latency by 40% by rewriting the cart service in Go"},
		{Kind: types.KindSkillListed, Text: "PostgreSQL"},
	}
}

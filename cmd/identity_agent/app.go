package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jonathan/identity-pipeline/internal/config"
	"github.com/jonathan/identity-pipeline/internal/db"
	"github.com/jonathan/identity-pipeline/internal/dispatch"
	"github.com/jonathan/identity-pipeline/internal/embedding"
	"github.com/jonathan/identity-pipeline/internal/evaluation"
	"github.com/jonathan/identity-pipeline/internal/extraction"
	"github.com/jonathan/identity-pipeline/internal/fetch"
	"github.com/jonathan/identity-pipeline/internal/ingestion"
	"github.com/jonathan/identity-pipeline/internal/llm"
	"github.com/jonathan/identity-pipeline/internal/memstore"
	"github.com/jonathan/identity-pipeline/internal/pdf"
	"github.com/jonathan/identity-pipeline/internal/pipeline"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/reflection"
	"github.com/jonathan/identity-pipeline/internal/research"
	"github.com/jonathan/identity-pipeline/internal/server"
	"github.com/jonathan/identity-pipeline/internal/storage"
	"github.com/jonathan/identity-pipeline/internal/tailoring"
)

// appStore is what both the Postgres and the in-memory stores provide.
type appStore interface {
	pipeline.Store
	server.Store
}

var (
	_ appStore = (*db.DB)(nil)
	_ appStore = (*memstore.Store)(nil)
)

// app is a wired pipeline with everything it holds open.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   appStore
	svc     *pipeline.Service
	closers []func() error
}

// openStore connects to Postgres, or returns a process-local store when memory is set.
func openStore(ctx context.Context, cfg *config.Config, memory bool) (appStore, func() error, error) {
	if memory {
		return memstore.New(), func() error { return nil }, nil
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("database_url is required (set DATABASE_URL or use --memory)")
	}
	conn, err := db.ConnectWithOptions(ctx, cfg.DatabaseURL, db.Options{MaxConns: int32(cfg.Workers + 4)})
	if err != nil {
		return nil, nil, err
	}
	return conn, func() error { conn.Close(); return nil }, nil
}

// newApp wires every pipeline collaborator from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, memory bool) (*app, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	store, closeStore, err := openStore(ctx, cfg, memory)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	llmCfg := llm.ConfigFor(cfg.LLMProvider)
	llmCfg.RatePerSecond = cfg.LLMRatePerSec
	client, err := llm.NewClient(ctx, llmCfg, cfg.APIKey(), logger.Named("llm"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	genaiClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	a.closers = append(a.closers, genaiClient.Close)

	var embedder embedding.Embedder = embedding.NewGeminiEmbedder(genaiClient, cfg.EmbeddingModel)
	if cfg.EmbeddingCachePath != "" {
		cache, err := embedding.OpenCache(cfg.EmbeddingCachePath, cfg.EmbeddingModel, embedder, logger.Named("embedding"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, cache.Close)
		embedder = cache
	}

	var renderer fetch.Renderer
	if cfg.UseBrowser {
		renderer = fetch.NewChromeRenderer(logger.Named("browser"))
	}
	fetchOpts := fetch.DefaultOptions()
	fetchOpts.UseBrowser = cfg.UseBrowser
	pages := fetch.New(fetchOpts, renderer, logger.Named("fetch"))

	exec := steps.NewExecutor(store, store, logger.Named("steps"))
	a.svc = pipeline.NewService(pipeline.Deps{
		Store:               store,
		Files:               storage.New(cfg.StorageRoot),
		PDF:                 pdf.New(logger.Named("pdf")),
		Extractor:           extraction.New(client, logger.Named("extraction")),
		Embedder:            embedder,
		Enricher:            ingestion.NewEnricher(pages, logger.Named("enrich")),
		Researcher:          research.New(client, logger.Named("research")),
		Reflector:           reflection.New(store, client, logger.Named("reflection")),
		Generator:           tailoring.NewGenerator(client, logger.Named("tailoring")),
		Evaluator:           evaluation.New(client, logger.Named("evaluation")),
		Logger:              logger.Named("pipeline"),
		SimilarityThreshold: cfg.SimilarityThreshold,
		MatchThreshold:      cfg.MatchThreshold,
	}, exec)
	return a, nil
}

// workers builds the claim loop and the stale-job sweeper over the app's service.
func (a *app) workers() (*dispatch.Dispatcher, *dispatch.Sweeper) {
	d := dispatch.New(a.store, a.svc, a.logger.Named("dispatch"), dispatch.Options{
		Workers:      a.cfg.Workers,
		BatchSize:    a.cfg.QueueSize,
		PollInterval: a.cfg.PollInterval,
		JobTimeout:   a.cfg.MaxJobDuration,
	})
	a.svc.SetEnqueuer(d)
	progress := a.logger.Named("progress")
	a.svc.SetNotifier(func(ev pipeline.ProgressEvent) {
		progress.Info(ev.Message,
			zap.String("job_id", ev.JobID.String()),
			zap.String("job_type", string(ev.JobType)),
			zap.String("phase", string(ev.Phase)))
	})
	sweeper := dispatch.NewSweeper(a.svc.Registry(), a.cfg.MaxJobDuration, dispatch.DefaultStaleMessage, a.logger.Named("sweeper"))
	return d, sweeper
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// Package server provides the HTTP API for submitting and watching pipeline jobs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pipeline"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
	"github.com/jonathan/identity-pipeline/internal/server/middleware"
	"github.com/jonathan/identity-pipeline/internal/server/ratelimit"
	"github.com/jonathan/identity-pipeline/internal/types"
)

// Submitter creates jobs. *pipeline.Service implements it.
type Submitter interface {
	SubmitStory(ctx context.Context, ownerID uuid.UUID, text string) (*jobs.Job, error)
	SubmitResume(ctx context.Context, ownerID uuid.UUID, filename, location string) (*jobs.Job, error)
	SubmitOpportunity(ctx context.Context, ownerID uuid.UUID, url, description string) (*jobs.Job, error)
	StartTailor(ctx context.Context, ownerID, opportunityID uuid.UUID, regenerate bool) (*pipeline.TailorStart, error)
}

// Store is the read side the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	ListJobs(ctx context.Context, filter jobs.ListFilter) ([]jobs.Job, error)
	ListRunSteps(ctx context.Context, jobID uuid.UUID, status *string) ([]steps.RunStep, error)
	GetOpportunity(ctx context.Context, id uuid.UUID) (*types.Opportunity, error)
	GetTailoredProfile(ctx context.Context, ownerID, opportunityID uuid.UUID) (*types.TailoredProfile, error)
	GetEvaluation(ctx context.Context, tailoredProfileID uuid.UUID) (*types.Evaluation, error)
	GetIdentitySummary(ctx context.Context, ownerID uuid.UUID) (*types.IdentitySummary, error)
}

// Config holds server configuration
type Config struct {
	Addr string
	// StreamInterval is how often a stream re-reads the job row.
	StreamInterval time.Duration
	RateLimit      *ratelimit.Config
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	svc         Submitter
	store       Store
	rateLimiter *ratelimit.Limiter
	logger      *zap.Logger
	streamEvery time.Duration
}

// New creates a new server instance
func New(cfg Config, svc Submitter, store Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = time.Second
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = ratelimit.DefaultConfig()
	}

	s := &Server{
		svc:         svc,
		store:       store,
		rateLimiter: ratelimit.NewLimiter(cfg.RateLimit),
		logger:      logger.Named("http"),
		streamEvery: cfg.StreamInterval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	// Submissions
	mux.HandleFunc("POST /jobs/story", s.handleSubmitStory)
	mux.HandleFunc("POST /jobs/resume", s.handleSubmitResume)
	mux.HandleFunc("POST /jobs/opportunity", s.handleSubmitOpportunity)
	mux.HandleFunc("POST /jobs/tailor", s.handleSubmitTailor)

	// Job state
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /jobs/{id}/stream", s.handleStreamJob)
	mux.HandleFunc("GET /jobs/{id}/steps", s.handleListJobSteps)

	// Artifacts
	mux.HandleFunc("GET /opportunities/{id}", s.handleGetOpportunity)
	mux.HandleFunc("GET /opportunities/{id}/profile", s.handleGetTailoredProfile)
	mux.HandleFunc("GET /identity", s.handleGetIdentity)

	s.handler = s.withLogging(s.withCORS(middleware.Identity("/health")(s.withRateLimit(mux))))
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streams stay open until the job finishes
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.rateLimiter.Stop()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.UserIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit throttles per caller, falling back to the client IP.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// extractClientID prefers the caller's user id and falls back to the remote IP.
func (s *Server) extractClientID(r *http.Request) string {
	if userID, err := middleware.GetUserID(r); err == nil {
		return userID.String()
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}

	s.logger.Info("rate limit exceeded", zap.Int("limit", info.Limit), zap.Time("reset", info.ResetTime))
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
